// Package tts is the hookvoice speech service. A Service owns the cache,
// the provider chain and the player, and runs every speak or preload
// request through the same cache-then-fallback pipeline.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/hookvoice/internal/audio"
	"github.com/dgnsrekt/hookvoice/internal/cache"
	"github.com/dgnsrekt/hookvoice/internal/config"
	"github.com/dgnsrekt/hookvoice/internal/correlation"
	"github.com/dgnsrekt/hookvoice/internal/fallback"
	"github.com/dgnsrekt/hookvoice/internal/metrics"
	"github.com/dgnsrekt/hookvoice/internal/provider"
	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

// preloadConcurrency bounds PreloadAll.
const preloadConcurrency = 4

// Options supplies collaborators. Every field is optional.
type Options struct {
	Logger *log.Logger

	// Player overrides the configured playback command.
	Player audio.Player

	// Registry overrides the providers built from the config.
	Registry *provider.Registry

	Metrics *metrics.Collector

	// Now overrides the cache clock, for tests.
	Now func() time.Time
}

// SpeakOptions tunes one request. Empty fields use the configured defaults.
type SpeakOptions struct {
	Voice    string
	Speed    float64
	Format   string
	Model    string
	Provider string

	// AllowFallback overrides default_criteria.allow_fallback when set.
	AllowFallback *bool

	// Play hands the audio to the player after synthesis.
	Play   bool
	Volume float64 // 0 uses playback.volume
}

// Service is the speech service.
type Service struct {
	cfg    config.Config
	logger *log.Logger

	store    *cache.Store // nil when caching is disabled
	policy   *cache.EvictionPolicy
	janitor  *cache.Janitor
	registry *provider.Registry
	pipeline *Pipeline
	player   audio.Player // nil when playback is unavailable
	metrics  *metrics.Collector

	// Background work (janitor, watcher) stops when bgCancel is called.
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New builds a service from a resolved configuration. It fails only with a
// configuration error or when the cache directory cannot be opened.
func New(cfg config.Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		logger:   opts.Logger,
		registry: opts.Registry,
		player:   opts.Player,
		metrics:  opts.Metrics,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	if s.registry == nil {
		registry, err := BuildRegistry(cfg)
		if err != nil {
			return nil, err
		}
		s.registry = registry
	}

	if s.player == nil && cfg.Playback.Enabled {
		player, err := audio.NewCommandPlayer(cfg.Playback.Command)
		if err != nil {
			// Synthesis and caching still work without a player
			s.logger.Warn("Playback disabled", "error", err)
		} else {
			s.player = player
		}
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if cfg.Cache.Enabled {
		store, err := cache.Open(bgCtx, cfg.Cache.Dir, cache.Options{
			CompressionLevel: cfg.Cache.CompressionLevel,
			MemoryCapacity:   cfg.Cache.MemorySizeBytes,
			Logger:           s.logger,
			Now:              opts.Now,
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		s.store = store
		s.policy = cache.NewEvictionPolicy(cache.Limits{
			MaxSizeBytes: cfg.Cache.MaxSizeBytes,
			MaxEntries:   cfg.Cache.MaxEntries,
			MaxAge:       cfg.Cache.MaxAge,
		}, s.logger, opts.Now)

		stats := store.Stats()
		s.metrics.SetCacheSize(stats.EntryCount, stats.TotalSizeBytes)

		if cfg.Cache.CleanupInterval > 0 {
			s.janitor = cache.NewJanitor(store, s.policy, cfg.Cache.CleanupInterval, s.logger)
			s.janitor.Start(bgCtx)
		}
		if cfg.Cache.Watch {
			s.bgWG.Add(1)
			go func() {
				defer s.bgWG.Done()
				if err := store.Watch(bgCtx); err != nil {
					s.logger.Warn("Cache watcher stopped", "error", err)
				}
			}()
		}
	}

	orchestrator := fallback.New(s.registry, fallback.Options{
		MaxResponseTime: cfg.DefaultCriteria.MaxResponseTime,
		Logger:          s.logger,
		Observer:        s.metrics,
	})
	s.pipeline = NewPipeline(s.store, s.policy, orchestrator, s.metrics, s.logger)

	s.logger.Debug("Speech service ready",
		"providers", s.registry.Len(),
		"cache", cfg.Cache.Enabled,
		"playback", s.player != nil)
	return s, nil
}

// Speak synthesizes text, serving it from the cache when possible, and
// plays it when opts.Play is set. Only malformed arguments return an error;
// provider, cache and playback failures are reported in the Result.
func (s *Service) Speak(ctx context.Context, text string, opts SpeakOptions) (ttypes.Result, error) {
	req, err := s.request(text, opts)
	if err != nil {
		return ttypes.Result{}, err
	}

	ctx, _ = correlation.Ensure(ctx)
	out := s.pipeline.Run(ctx, req)
	res := out.Result

	if opts.Play && res.Success {
		res.Played = s.play(ctx, out, opts.Volume)
	}
	return res, nil
}

// Preload synthesizes text into the cache without playing it.
func (s *Service) Preload(ctx context.Context, text string, opts SpeakOptions) (ttypes.Result, error) {
	opts.Play = false
	return s.Speak(ctx, text, opts)
}

// PreloadAll preloads several phrases concurrently. Results are in input
// order. Arguments are validated before any work starts.
func (s *Service) PreloadAll(ctx context.Context, texts []string, opts SpeakOptions) ([]ttypes.Result, error) {
	reqs := make([]ttypes.Request, len(texts))
	for i, text := range texts {
		req, err := s.request(text, opts)
		if err != nil {
			return nil, fmt.Errorf("phrase %d: %w", i+1, err)
		}
		reqs[i] = req
	}

	ctx, cid := correlation.Ensure(ctx)
	results := make([]ttypes.Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			// Each phrase is its own logical request
			phraseCtx := correlation.WithID(gctx, fmt.Sprintf("%s-%d", cid, i+1))
			results[i] = s.pipeline.Run(phraseCtx, req).Result
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// CacheStats returns the cache statistics; all zeros when caching is off.
func (s *Service) CacheStats(ctx context.Context) cache.Stats {
	if s.store == nil {
		return cache.Stats{}
	}
	return s.store.Stats()
}

// CacheEntries lists the cached entries, least recently used first.
func (s *Service) CacheEntries(ctx context.Context) []cache.Entry {
	if s.store == nil {
		return nil
	}
	return s.store.List()
}

// ClearCache removes every entry and resets the counters. It returns the
// number of entries removed.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	ctx, _ = correlation.Ensure(ctx)
	n, err := s.store.Clear(ctx)
	s.metrics.SetCacheSize(0, 0)
	if err != nil {
		return n, err
	}
	correlation.Logger(ctx, s.logger).Info("Cleared cache", "entries", n)
	return n, nil
}

// Cleanup reconciles the cache with its directory and enforces the limits.
// It returns the number of entries and stray files removed.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	ctx, _ = correlation.Ensure(ctx)

	rec, err := s.store.Reconcile(ctx)
	if err != nil {
		return 0, err
	}
	ev, err := s.policy.Enforce(ctx, s.store, "")
	s.metrics.AddEvictions(ev.Removed())
	stats := s.store.Stats()
	s.metrics.SetCacheSize(stats.EntryCount, stats.TotalSizeBytes)

	removed := rec.MissingFiles + rec.Orphans + rec.TempFiles + ev.Removed()
	if err != nil {
		return removed, err
	}
	correlation.Logger(ctx, s.logger).Info("Cache cleanup",
		"expired", ev.Expired,
		"evicted", ev.Evicted,
		"orphans", rec.Orphans,
		"missing", rec.MissingFiles)
	return removed, nil
}

// Metrics returns the service's metrics collector.
func (s *Service) Metrics() *metrics.Collector {
	return s.metrics
}

// Config returns the configuration the service was built with.
func (s *Service) Config() config.Config {
	return s.cfg
}

// Close stops background work and closes the cache. It is safe to call
// more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.janitor != nil {
			s.janitor.Stop()
		}
		s.bgCancel()
		s.bgWG.Wait()
		if s.store != nil {
			s.closeErr = s.store.Close()
		}
	})
	return s.closeErr
}

// request validates the arguments and applies the configured defaults.
func (s *Service) request(text string, opts SpeakOptions) (ttypes.Request, error) {
	d := s.cfg.DefaultCriteria
	req := ttypes.Request{
		Text:          text,
		Voice:         opts.Voice,
		Speed:         opts.Speed,
		Format:        opts.Format,
		Model:         opts.Model,
		Provider:      opts.Provider,
		AllowFallback: d.AllowFallback,
	}
	if opts.AllowFallback != nil {
		req.AllowFallback = *opts.AllowFallback
	}
	if req.Voice == "" {
		req.Voice = d.Voice
	}
	if req.Format == "" {
		req.Format = d.Format
	}
	if req.Speed == 0 {
		req.Speed = d.Speed
	}

	if err := req.Validate(); err != nil {
		return ttypes.Request{}, err
	}
	return req.Normalized(), nil
}

// play hands the audio to the player. Audio without a playable cache file
// is written to a temporary file first.
func (s *Service) play(ctx context.Context, out Output, volume float64) bool {
	logger := correlation.Logger(ctx, s.logger)
	if s.player == nil {
		logger.Warn("No audio player available, skipping playback")
		return false
	}
	if volume == 0 {
		volume = s.cfg.Playback.Volume
	}

	path := out.Result.AudioPath
	if path == "" {
		tmp, err := writeTemp(out.Audio, out.Format)
		if err != nil {
			logger.Warn("Failed to stage audio for playback", "error", err)
			return false
		}
		defer os.Remove(tmp)
		path = tmp
	}

	result, err := s.player.Play(ctx, path, audio.PlayOptions{Volume: volume})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("Playback cancelled")
		} else {
			logger.Warn("Playback failed", "player", result.Command, "error", err)
		}
		return false
	}
	logger.Debug("Played audio", "player", result.Command, "duration", result.Duration.Round(time.Millisecond))
	return true
}

func writeTemp(data []byte, format string) (string, error) {
	f, err := os.CreateTemp("", "hookvoice-*."+format)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
