package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

const (
	OpenAIDefaultModel = "tts-1"
	OpenAIDefaultVoice = "alloy"

	// Audio larger than this is treated as an invalid response
	maxAudioBytes = 50 * 1024 * 1024
)

// OpenAIFormats are the response formats the speech endpoint produces.
var OpenAIFormats = []string{"mp3", "opus", "aac", "flac", "wav", "pcm"}

// OpenAIConfig configures the OpenAI speech provider.
type OpenAIConfig struct {
	ID         string
	APIKey     string
	BaseURL    string // Defaults to the public API
	Model      string
	Voice      string
	HTTPClient *http.Client
}

// OpenAI synthesizes speech with the OpenAI audio API.
type OpenAI struct {
	id     string
	apiKey string
	model  string
	voice  string
	client *openai.Client
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	p := &OpenAI{
		id:     cfg.ID,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		voice:  cfg.Voice,
		client: openai.NewClientWithConfig(clientConfig),
	}
	if p.id == "" {
		p.id = "openai"
	}
	if p.model == "" {
		p.model = OpenAIDefaultModel
	}
	if p.voice == "" {
		p.voice = OpenAIDefaultVoice
	}
	return p
}

// ID returns the provider identifier.
func (p *OpenAI) ID() string {
	return p.id
}

// Available reports whether an API key is configured.
func (p *OpenAI) Available() bool {
	return p.apiKey != ""
}

// Synthesize converts text to audio.
func (p *OpenAI) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	if p.apiKey == "" {
		return nil, ttypes.NewError(ttypes.CodeProviderAuth, p.id, "no API key configured", nil)
	}

	voice := opts.Voice
	if voice == "" {
		voice = p.voice
	}
	model := opts.Model
	if model == "" {
		model = p.model
	}
	format := opts.Format
	if format == "" {
		format = ttypes.DefaultFormat
	}
	speed := opts.Speed
	if speed == 0 {
		speed = ttypes.DefaultSpeed
	}

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
		Speed:          speed,
	})
	if err != nil {
		return nil, p.classify(err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(io.LimitReader(resp, maxAudioBytes+1))
	if err != nil {
		return nil, p.classify(err)
	}
	if len(audio) == 0 {
		return nil, ttypes.NewError(ttypes.CodeProviderResponseInvalid, p.id, "empty audio response", nil)
	}
	if len(audio) > maxAudioBytes {
		return nil, ttypes.NewError(ttypes.CodeProviderResponseInvalid, p.id,
			fmt.Sprintf("audio response exceeds %d bytes", maxAudioBytes), nil)
	}
	return audio, nil
}

// classify maps client errors onto error codes.
func (p *OpenAI) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ttypes.NewError(ttypes.CodeProviderTimeout, p.id, "request timed out", err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return statusError(p.id, status, err)
}

// statusError maps an HTTP status to an error code. Zero means the request
// never got a response.
func statusError(id string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ttypes.NewError(ttypes.CodeProviderAuth, id, "authentication rejected", err)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return ttypes.NewError(ttypes.CodeProviderUnavailable, id, fmt.Sprintf("service returned %d", status), err)
	case status == 0:
		return ttypes.NewError(ttypes.CodeProviderUnavailable, id, "request failed", err)
	default:
		return ttypes.NewError(ttypes.CodeProviderError, id, fmt.Sprintf("service returned %d", status), err)
	}
}

// requestTimeout is the HTTP client timeout for provider calls. The
// orchestrator enforces its own, usually tighter, budget.
const requestTimeout = 60 * time.Second
