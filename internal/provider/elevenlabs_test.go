package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

func TestElevenLabs_Synthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-123" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "mp3_44100_128" {
			t.Errorf("output_format = %s", got)
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}

		body, _ := io.ReadAll(r.Body)
		var req elevenLabsRequest
		if err := sonic.Unmarshal(body, &req); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		if req.Text != "hello" || req.ModelID != ElevenLabsDefaultModel {
			t.Errorf("request = %+v", req)
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("eleven-audio"))
	}))
	defer server.Close()

	p := NewElevenLabs(ElevenLabsConfig{APIKey: "test-key", BaseURL: server.URL})
	audio, err := p.Synthesize(context.Background(), "hello", Options{Voice: "voice-123", Format: "mp3"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio) != "eleven-audio" {
		t.Errorf("audio = %q", audio)
	}
}

func TestElevenLabs_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ttypes.ErrorCode
	}{
		{"unauthorized", http.StatusUnauthorized, ttypes.CodeProviderAuth},
		{"rate limited", http.StatusTooManyRequests, ttypes.CodeProviderUnavailable},
		{"not found", http.StatusNotFound, ttypes.CodeProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"detail":{"status":"error","message":"nope"}}`))
			}))
			defer server.Close()

			p := NewElevenLabs(ElevenLabsConfig{APIKey: "test-key", BaseURL: server.URL})
			_, err := p.Synthesize(context.Background(), "hello", Options{})
			if code := ttypes.CodeOf(err); code != tt.want {
				t.Errorf("CodeOf(%v) = %s, want %s", err, code, tt.want)
			}
		})
	}
}

func TestElevenLabs_UnsupportedFormat(t *testing.T) {
	p := NewElevenLabs(ElevenLabsConfig{APIKey: "test-key"})
	_, err := p.Synthesize(context.Background(), "hello", Options{Format: "flac"})
	if code := ttypes.CodeOf(err); code != ttypes.CodeProviderUnavailable {
		t.Errorf("CodeOf(%v) = %s, want %s", err, code, ttypes.CodeProviderUnavailable)
	}
}
