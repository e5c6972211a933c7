// Package provider defines the speech synthesis provider contract, the
// descriptors the fallback chain is built from, and the concrete providers.
package provider

import (
	"context"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Options carries the per-request synthesis parameters.
type Options struct {
	Voice  string  // Empty selects the provider default
	Speed  float64 // 1.0 is normal speed
	Format string  // Audio container, e.g. "mp3"
	Model  string  // Empty selects the provider default
}

// Provider synthesizes speech. Implementations must be safe for concurrent
// use. Synthesize should honor ctx, but callers never rely on it returning
// promptly after cancellation.
type Provider interface {
	ID() string
	Synthesize(ctx context.Context, text string, opts Options) ([]byte, error)
}

// Availability is implemented by providers that can tell up front whether
// they are usable, e.g. because credentials or a binary are missing.
type Availability interface {
	Available() bool
}

// Criteria bounds what a provider is asked to do.
type Criteria struct {
	MaxResponseTime  time.Duration // Zero uses the orchestrator default
	SupportedVoices  []string      // Empty accepts any voice
	SupportedFormats []string      // Empty accepts any format
}

// Descriptor is a registered provider with its selection metadata.
// Descriptors are immutable once registered.
type Descriptor struct {
	ID       string
	Priority int // Lower is tried first
	Criteria Criteria
	Provider Provider

	// Limiter throttles calls to the provider; nil means unlimited.
	Limiter *rate.Limiter

	// Available overrides the provider's own availability check.
	Available func() bool
}

// IsAvailable reports whether the provider can currently be tried.
func (d Descriptor) IsAvailable() bool {
	if d.Provider == nil {
		return false
	}
	if d.Available != nil {
		return d.Available()
	}
	if a, ok := d.Provider.(Availability); ok {
		return a.Available()
	}
	return true
}

// SupportsFormat reports whether format is acceptable for this provider.
func (d Descriptor) SupportsFormat(format string) bool {
	return acceptsValue(d.Criteria.SupportedFormats, format)
}

// SupportsVoice reports whether voice is acceptable for this provider. An
// empty voice always is: it selects the provider default.
func (d Descriptor) SupportsVoice(voice string) bool {
	if voice == "" {
		return true
	}
	return acceptsValue(d.Criteria.SupportedVoices, voice)
}

// NewLimiter builds a limiter allowing requestsPerMinute calls, or nil when
// requestsPerMinute is not positive.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

func acceptsValue(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	return slices.ContainsFunc(allowed, func(a string) bool {
		return strings.EqualFold(a, value)
	})
}

func (d Descriptor) clone() Descriptor {
	c := d
	c.Criteria.SupportedVoices = slices.Clone(d.Criteria.SupportedVoices)
	c.Criteria.SupportedFormats = slices.Clone(d.Criteria.SupportedFormats)
	return c
}
