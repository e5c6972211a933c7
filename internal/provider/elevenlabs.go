package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"

	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

	ElevenLabsDefaultModel = "eleven_multilingual_v2"

	// Rachel
	ElevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM"

	elevenLabsDefaultStability       = 0.5
	elevenLabsDefaultSimilarityBoost = 0.75
)

// ElevenLabsFormats are the formats we know how to request.
var ElevenLabsFormats = []string{"mp3", "pcm"}

var elevenLabsOutputFormats = map[string]string{
	"mp3": "mp3_44100_128",
	"pcm": "pcm_24000",
}

// ElevenLabsConfig configures the ElevenLabs provider.
type ElevenLabsConfig struct {
	ID         string
	APIKey     string
	BaseURL    string
	Model      string
	Voice      string
	HTTPClient *http.Client
}

// ElevenLabs synthesizes speech with the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	id      string
	apiKey  string
	baseURL string
	model   string
	voice   string
	client  *http.Client
}

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id,omitempty"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type elevenLabsErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// NewElevenLabs creates an ElevenLabs provider.
func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	p := &ElevenLabs{
		id:      cfg.ID,
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		voice:   cfg.Voice,
		client:  cfg.HTTPClient,
	}
	if p.id == "" {
		p.id = "elevenlabs"
	}
	if p.baseURL == "" {
		p.baseURL = elevenLabsBaseURL
	}
	if p.model == "" {
		p.model = ElevenLabsDefaultModel
	}
	if p.voice == "" {
		p.voice = ElevenLabsDefaultVoice
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: requestTimeout}
	}
	return p
}

// ID returns the provider identifier.
func (p *ElevenLabs) ID() string {
	return p.id
}

// Available reports whether an API key is configured.
func (p *ElevenLabs) Available() bool {
	return p.apiKey != ""
}

// Synthesize converts text to audio.
func (p *ElevenLabs) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	if p.apiKey == "" {
		return nil, ttypes.NewError(ttypes.CodeProviderAuth, p.id, "no API key configured", nil)
	}

	format := opts.Format
	if format == "" {
		format = ttypes.DefaultFormat
	}
	outputFormat, ok := elevenLabsOutputFormats[format]
	if !ok {
		return nil, ttypes.NewError(ttypes.CodeProviderUnavailable, p.id,
			fmt.Sprintf("format %q not supported", format), nil)
	}

	voice := opts.Voice
	if voice == "" {
		voice = p.voice
	}
	model := opts.Model
	if model == "" {
		model = p.model
	}

	settings := &elevenLabsVoiceSettings{
		Stability:       elevenLabsDefaultStability,
		SimilarityBoost: elevenLabsDefaultSimilarityBoost,
	}
	if opts.Speed != 0 && opts.Speed != ttypes.DefaultSpeed {
		settings.Speed = opts.Speed
	}

	body, err := sonic.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       model,
		VoiceSettings: settings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		p.baseURL, url.PathEscape(voice), url.QueryEscape(outputFormat))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ttypes.NewError(ttypes.CodeProviderTimeout, p.id, "request timed out", err)
		}
		return nil, statusError(p.id, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.handleError(resp)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, ttypes.NewError(ttypes.CodeProviderResponseInvalid, p.id, "failed to read audio", err)
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

// handleError turns a non-200 response into a categorized error.
func (p *ElevenLabs) handleError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp elevenLabsErrorResponse
	msg := http.StatusText(resp.StatusCode)
	if err := sonic.Unmarshal(data, &errResp); err == nil && errResp.Detail.Message != "" {
		msg = errResp.Detail.Message
	}
	return statusError(p.id, resp.StatusCode, errors.New(msg))
}
