// Package ttypes contains shared types and errors for the speech system.
// This package is used to break import cycles between cache, provider,
// fallback and tts packages.
package ttypes

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Option defaults used when a request leaves a field empty.
const (
	DefaultFormat = "mp3"
	DefaultSpeed  = 1.0

	// AutoProvider is the provider name used when no explicit provider was requested.
	AutoProvider = "auto"

	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// SupportedFormats lists the audio container formats a request may ask for.
var SupportedFormats = []string{"mp3", "wav", "opus", "aac", "flac", "pcm"}

// Request describes one logical synthesis request.
// The correlation ID is not part of the request: it travels in the context.
type Request struct {
	Text          string
	Voice         string  // Provider specific voice, empty for provider default
	Speed         float64 // 0 means DefaultSpeed
	Format        string  // Empty means DefaultFormat
	Model         string  // Provider specific model, empty for provider default
	Provider      string  // Explicit provider, empty for priority order
	AllowFallback bool    // Only consulted when Provider is set
}

// Normalized returns a copy of the request with defaults applied and
// option fields lower-cased.
func (r Request) Normalized() Request {
	n := r
	n.Voice = strings.TrimSpace(n.Voice)
	n.Format = strings.ToLower(strings.TrimSpace(n.Format))
	if n.Format == "" {
		n.Format = DefaultFormat
	}
	if n.Speed == 0 {
		n.Speed = DefaultSpeed
	}
	n.Model = strings.TrimSpace(n.Model)
	n.Provider = strings.ToLower(strings.TrimSpace(n.Provider))
	return n
}

// Validate checks the caller supplied arguments. It is the only source of
// synchronous errors on the speak path.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if r.Speed != 0 && (r.Speed < MinSpeed || r.Speed > MaxSpeed) {
		return fmt.Errorf("%w: got %.2f", ErrInvalidSpeed, r.Speed)
	}
	if f := strings.ToLower(strings.TrimSpace(r.Format)); f != "" && !slices.Contains(SupportedFormats, f) {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, r.Format)
	}
	return nil
}

// Attempt records the outcome of trying one provider.
type Attempt struct {
	Provider string
	Code     ErrorCode // Empty on success
	Err      error
	Elapsed  time.Duration
}

// String renders the attempt for aggregated error messages.
func (a Attempt) String() string {
	if a.Err == nil {
		return fmt.Sprintf("%s: ok (%s)", a.Provider, a.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s: %s: %v", a.Provider, a.Code, a.Err)
}

// Result is the outcome of a speak or preload call.
type Result struct {
	Success       bool
	Provider      string        // Provider that produced the audio
	FromCache     bool          // Served from the cache
	Duration      time.Duration // Cache lookup to result, playback excluded
	Err           error         // Set when Success is false
	AudioPath     string        // Cache file holding the audio, if any
	CacheKey      string
	CorrelationID string
	CacheDegraded bool // Synthesis succeeded but the cache write failed
	Played        bool // Audio was handed to the player and finished
	Attempts      []Attempt
}

// DurationMs returns Duration in whole milliseconds.
func (r Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}
