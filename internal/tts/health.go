package tts

import (
	"context"
	"time"

	"github.com/dgnsrekt/hookvoice/internal/audio"
	"github.com/dgnsrekt/hookvoice/internal/cache"
	"github.com/dgnsrekt/hookvoice/internal/correlation"
)

// ProviderHealth is the state of one registered provider.
type ProviderHealth struct {
	ID              string        `json:"id"`
	Priority        int           `json:"priority"`
	Available       bool          `json:"available"`
	MaxResponseTime time.Duration `json:"max_response_time_ns,omitempty"`
	RateLimited     bool          `json:"rate_limited"`
}

// Health is a point-in-time status report.
type Health struct {
	// Healthy is true when at least one provider can be tried.
	Healthy   bool             `json:"healthy"`
	Providers []ProviderHealth `json:"providers"`

	CacheEnabled bool        `json:"cache_enabled"`
	CacheDir     string      `json:"cache_dir,omitempty"`
	Cache        cache.Stats `json:"cache"`

	Player string `json:"player,omitempty"` // Empty when playback is off

	Metrics       map[string]float64 `json:"metrics,omitempty"`
	CorrelationID string             `json:"correlation_id"`
	CheckedAt     time.Time          `json:"checked_at"`
}

// HealthStatus reports provider availability, cache statistics and the
// metric counters. It does not call any provider.
func (s *Service) HealthStatus(ctx context.Context) Health {
	ctx, cid := correlation.Ensure(ctx)

	h := Health{
		CacheEnabled:  s.store != nil,
		CorrelationID: cid,
		CheckedAt:     time.Now(),
	}

	for _, d := range s.registry.Ordered() {
		ph := ProviderHealth{
			ID:              d.ID,
			Priority:        d.Priority,
			Available:       d.IsAvailable(),
			MaxResponseTime: d.Criteria.MaxResponseTime,
			RateLimited:     d.Limiter != nil,
		}
		h.Healthy = h.Healthy || ph.Available
		h.Providers = append(h.Providers, ph)
	}

	if s.store != nil {
		h.CacheDir = s.store.Dir()
		h.Cache = s.store.Stats()
	}

	switch p := s.player.(type) {
	case nil:
	case *audio.CommandPlayer:
		h.Player = p.Command()[0]
	default:
		h.Player = "custom"
	}

	snapshot, err := s.metrics.Snapshot()
	if err != nil {
		correlation.Logger(ctx, s.logger).Warn("Failed to read metrics", "error", err)
	} else {
		h.Metrics = snapshot
	}

	correlation.Logger(ctx, s.logger).Debug("Health check",
		"healthy", h.Healthy,
		"providers", len(h.Providers),
		"entries", h.Cache.EntryCount)
	return h
}
