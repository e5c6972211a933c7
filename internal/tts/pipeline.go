package tts

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/hookvoice/internal/cache"
	"github.com/dgnsrekt/hookvoice/internal/correlation"
	"github.com/dgnsrekt/hookvoice/internal/fallback"
	"github.com/dgnsrekt/hookvoice/internal/metrics"
	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

// Output is what one pipeline run produced.
type Output struct {
	Result ttypes.Result
	Audio  []byte  // Nil on failure
	Format string  // Container of Audio, may differ from the requested format
	Stages []Stage // Stages visited, Idle to Done
}

// Pipeline runs one request from cache lookup to result. Store and policy
// are nil when caching is disabled.
type Pipeline struct {
	store        *cache.Store
	policy       *cache.EvictionPolicy
	orchestrator *fallback.Orchestrator
	metrics      *metrics.Collector
	logger       *log.Logger
}

// NewPipeline creates a pipeline. store, policy and collector may be nil.
func NewPipeline(store *cache.Store, policy *cache.EvictionPolicy, orchestrator *fallback.Orchestrator, collector *metrics.Collector, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		store:        store,
		policy:       policy,
		orchestrator: orchestrator,
		metrics:      collector,
		logger:       logger,
	}
}

// Run executes the pipeline for req. It never returns an error: failures
// are reported in the result. Duration covers lookup to result only.
func (p *Pipeline) Run(ctx context.Context, req ttypes.Request) Output {
	ctx, cid := correlation.Ensure(ctx)
	logger := correlation.Logger(ctx, p.logger)
	start := time.Now()

	req = req.Normalized()
	key := cache.ComputeKey(req)
	m := newStageMachine()
	step := func(to Stage) {
		from := m.Current()
		if !m.transition(to) {
			logger.Error("Invalid pipeline transition", "from", from, "to", to)
		}
	}

	res := ttypes.Result{CacheKey: key, CorrelationID: cid}
	format := req.Format
	finish := func(audio []byte, source string) Output {
		step(StageDone)
		res.Duration = time.Since(start)
		if p.metrics != nil {
			p.metrics.ObserveRequest(source, res.Duration)
		}
		return Output{Result: res, Audio: audio, Format: format, Stages: m.Trace()}
	}

	step(StageCacheLookup)
	if entry, audio, ok := p.lookup(ctx, key, true); ok {
		step(StageHit)
		res.Success = true
		res.FromCache = true
		res.Provider = entry.Provider
		res.AudioPath = playablePath(entry)
		format = entry.Format
		logger.Debug("Cache hit", "key", key[:12], "provider", entry.Provider)
		return finish(audio, metrics.SourceCache)
	}

	step(StageMiss)
	step(StageProviderFallback)
	logger.Debug("Cache miss, synthesizing", "key", key[:12], "text", truncate.StringWithTail(req.Text, 40, "…"))

	out, err := p.orchestrator.Synthesize(ctx, fallback.Flight{
		Key:     key,
		Request: req,
		Lookup:  p.flightLookup(key),
		Commit:  p.flightCommit(key, req),
	})
	if err != nil {
		step(StageFailure)
		res.Err = err
		var fe *ttypes.FallbackError
		if errors.As(err, &fe) {
			res.Attempts = fe.Attempts
		}
		return finish(nil, metrics.SourceFailed)
	}

	step(StageSuccess)
	res.Success = true
	res.Provider = out.Provider
	res.FromCache = out.FromCache
	res.AudioPath = out.AudioPath
	res.CacheDegraded = out.CacheDegraded
	res.Attempts = out.Attempts
	if out.Format != "" {
		format = out.Format
	} else if sniffed := cache.SniffFormat(out.Audio); sniffed != "" {
		format = sniffed
	}

	if out.FromCache {
		// Another flight committed the entry while this one waited.
		return finish(out.Audio, metrics.SourceCache)
	}
	if p.store != nil {
		step(StageCachePut)
	}
	return finish(out.Audio, metrics.SourceProvider)
}

// lookup returns a cached entry and records the hit. Only the first lookup
// of a request counts a miss.
func (p *Pipeline) lookup(ctx context.Context, key string, first bool) (cache.Entry, []byte, bool) {
	if p.store == nil {
		return cache.Entry{}, nil, false
	}
	get := p.store.Get
	if !first {
		get = p.store.Recheck
	}
	entry, audio, ok := get(ctx, key)
	if !ok {
		return entry, nil, false
	}
	if err := p.store.RecordHit(ctx, key); err != nil {
		p.cacheError(ctx, err)
	}
	return entry, audio, true
}

// flightLookup re-checks the cache inside the flight, so a request that
// missed just before another flight committed does not call a provider.
func (p *Pipeline) flightLookup(key string) func(context.Context) (*fallback.Outcome, bool) {
	if p.store == nil {
		return nil
	}
	return func(ctx context.Context) (*fallback.Outcome, bool) {
		entry, audio, ok := p.lookup(ctx, key, false)
		if !ok {
			return nil, false
		}
		return &fallback.Outcome{
			Audio:     audio,
			Provider:  entry.Provider,
			AudioPath: playablePath(entry),
			Format:    entry.Format,
		}, true
	}
}

// flightCommit writes fresh audio to the cache and enforces the limits.
// Failures only mark the outcome as degraded.
func (p *Pipeline) flightCommit(key string, req ttypes.Request) func(context.Context, *fallback.Outcome) {
	if p.store == nil {
		return nil
	}
	return func(ctx context.Context, out *fallback.Outcome) {
		// Providers such as the local speech command ignore the requested
		// format, so the entry records the container actually returned.
		out.Format = req.Format
		if sniffed := cache.SniffFormat(out.Audio); sniffed != "" && sniffed != req.Format {
			correlation.Logger(ctx, p.logger).Debug("Provider returned a different container",
				"provider", out.Provider, "requested", req.Format, "actual", sniffed)
			out.Format = sniffed
		}

		entry, err := p.store.Put(ctx, key, out.Audio, cache.Metadata{
			Provider: out.Provider,
			Voice:    req.Voice,
			Format:   out.Format,
		})
		if err != nil {
			out.CacheDegraded = true
			p.cacheError(ctx, err)
			return
		}
		out.AudioPath = playablePath(entry)

		if p.policy != nil {
			report, err := p.policy.Enforce(ctx, p.store, key)
			if err != nil {
				p.cacheError(ctx, err)
			}
			if report.ProtectedHit {
				out.AudioPath = ""
			}
			if p.metrics != nil {
				p.metrics.AddEvictions(report.Removed())
			}
		}
		if p.metrics != nil {
			stats := p.store.Stats()
			p.metrics.SetCacheSize(stats.EntryCount, stats.TotalSizeBytes)
		}
	}
}

func (p *Pipeline) cacheError(ctx context.Context, err error) {
	code := ttypes.CodeOf(err)
	correlation.Logger(ctx, p.logger).Warn("Cache degraded", "code", code, "error", err)
	if p.metrics != nil {
		p.metrics.CacheError(code)
	}
}

// playablePath returns the entry's file if a player can read it directly.
func playablePath(e cache.Entry) string {
	if e.Compressed {
		return ""
	}
	return e.FilePath
}
