// Package fallback runs a synthesis request across the provider chain.
// Each attempt races a timer; the first success wins, and concurrent
// requests for the same key share one flight.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/truncate"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/hookvoice/internal/correlation"
	"github.com/dgnsrekt/hookvoice/internal/provider"
	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

// DefaultMaxResponseTime bounds an attempt whose provider sets no budget.
const DefaultMaxResponseTime = 10 * time.Second

// Outcome is the audio produced for a request.
type Outcome struct {
	Audio     []byte
	Provider  string
	FromCache bool // Found by Flight.Lookup inside the flight
	Attempts  []ttypes.Attempt

	// Set by Flight.Lookup or Flight.Commit
	AudioPath     string
	Format        string // Container of Audio when known
	CacheDegraded bool
}

// Flight describes one coalescable synthesis. Lookup and Commit run inside
// the flight so that late arrivals find the committed result.
type Flight struct {
	Key     string
	Request ttypes.Request

	// Lookup re-checks the cache before any provider is called. Optional.
	Lookup func(ctx context.Context) (*Outcome, bool)

	// Commit persists a fresh outcome before waiters are released. Optional.
	Commit func(ctx context.Context, out *Outcome)
}

// Observer receives attempt results, e.g. for metrics. Optional.
type Observer interface {
	ObserveAttempt(providerID string, code ttypes.ErrorCode, elapsed time.Duration)
}

// Orchestrator walks the provider chain for a request.
type Orchestrator struct {
	registry        *provider.Registry
	maxResponseTime time.Duration
	logger          *log.Logger
	observer        Observer

	group singleflight.Group
}

// Options configures an Orchestrator.
type Options struct {
	MaxResponseTime time.Duration // Default per-attempt budget
	Logger          *log.Logger
	Observer        Observer
}

// New creates an orchestrator over registry.
func New(registry *provider.Registry, opts Options) *Orchestrator {
	o := &Orchestrator{
		registry:        registry,
		maxResponseTime: opts.MaxResponseTime,
		logger:          opts.Logger,
		observer:        opts.Observer,
	}
	if o.maxResponseTime <= 0 {
		o.maxResponseTime = DefaultMaxResponseTime
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	return o
}

// Synthesize returns audio for the flight's request. Identical keys in
// flight at the same time share a single provider walk. A waiter whose ctx
// ends stops waiting; the flight itself carries on for the others.
func (o *Orchestrator) Synthesize(ctx context.Context, f Flight) (*Outcome, error) {
	flightCtx := context.WithoutCancel(ctx)

	ch := o.group.DoChan(f.Key, func() (any, error) {
		return o.run(flightCtx, f)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*Outcome)
		if res.Shared {
			correlation.Logger(ctx, o.logger).Debug("Joined in-flight synthesis", "key", shortKey(f.Key))
		}
		return &out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, f Flight) (*Outcome, error) {
	if f.Lookup != nil {
		if out, ok := f.Lookup(ctx); ok {
			out.FromCache = true
			return out, nil
		}
	}

	out, err := o.walk(ctx, f.Request.Normalized())
	if err != nil {
		return nil, err
	}
	if f.Commit != nil {
		f.Commit(ctx, out)
	}
	return out, nil
}

// walk tries each candidate in turn until one returns audio.
func (o *Orchestrator) walk(ctx context.Context, req ttypes.Request) (*Outcome, error) {
	logger := correlation.Logger(ctx, o.logger)
	candidates, attempts := o.candidates(req)
	invoked := 0

	for _, d := range candidates {
		if !d.IsAvailable() {
			attempts = append(attempts, ttypes.Attempt{
				Provider: d.ID,
				Code:     ttypes.CodeProviderUnavailable,
				Err:      ttypes.NewError(ttypes.CodeProviderUnavailable, d.ID, "provider not available", nil),
			})
			logger.Debug("Skipping unavailable provider", "provider", d.ID)
			continue
		}
		if !d.SupportsFormat(req.Format) {
			attempts = append(attempts, ttypes.Attempt{
				Provider: d.ID,
				Code:     ttypes.CodeProviderUnavailable,
				Err: ttypes.NewError(ttypes.CodeProviderUnavailable, d.ID,
					fmt.Sprintf("format %q not supported", req.Format), nil),
			})
			logger.Debug("Skipping provider without format", "provider", d.ID, "format", req.Format)
			continue
		}

		opts := provider.Options{
			Voice:  req.Voice,
			Speed:  req.Speed,
			Format: req.Format,
			Model:  req.Model,
		}
		if !d.SupportsVoice(opts.Voice) {
			// Fall back to the provider's own default voice
			logger.Debug("Voice not offered by provider, using its default", "provider", d.ID, "voice", opts.Voice)
			opts.Voice = ""
		}

		invoked++
		audio, attempt := o.attempt(ctx, d, req.Text, opts)
		attempts = append(attempts, attempt)
		if o.observer != nil {
			o.observer.ObserveAttempt(d.ID, attempt.Code, attempt.Elapsed)
		}

		if attempt.Err == nil {
			logger.Info("Synthesized speech",
				"provider", d.ID,
				"elapsed", attempt.Elapsed.Round(time.Millisecond),
				"bytes", len(audio),
				"text", truncate.StringWithTail(req.Text, 40, "…"))
			return &Outcome{Audio: audio, Provider: d.ID, Attempts: attempts}, nil
		}

		logger.Warn("Provider attempt failed, falling back",
			"provider", d.ID,
			"code", attempt.Code,
			"elapsed", attempt.Elapsed.Round(time.Millisecond),
			"error", attempt.Err)
	}

	// Nothing was actually called when every candidate was skipped
	code := ttypes.CodeProvidersExhausted
	if invoked == 0 {
		code = ttypes.CodeNoProviderAvailable
	}
	err := &ttypes.FallbackError{Code: code, Attempts: attempts}
	logger.Error("Speech synthesis failed", "error", err)
	return nil, err
}

// candidates builds the ordered chain for req. An explicit provider that is
// not registered is reported as an attempt rather than silently dropped.
func (o *Orchestrator) candidates(req ttypes.Request) ([]provider.Descriptor, []ttypes.Attempt) {
	ordered := o.registry.Ordered()
	if req.Provider == "" || req.Provider == ttypes.AutoProvider {
		return ordered, nil
	}

	var (
		chain    []provider.Descriptor
		attempts []ttypes.Attempt
	)
	if d, ok := o.registry.ByID(req.Provider); ok {
		chain = append(chain, d)
	} else {
		attempts = append(attempts, ttypes.Attempt{
			Provider: req.Provider,
			Code:     ttypes.CodeProviderUnavailable,
			Err:      ttypes.NewError(ttypes.CodeProviderUnavailable, req.Provider, "provider not registered", nil),
		})
	}

	if req.AllowFallback {
		for _, d := range ordered {
			if d.ID != req.Provider {
				chain = append(chain, d)
			}
		}
	}
	return chain, attempts
}

// attempt runs one provider call against its time budget. The call runs in
// its own goroutine; on timeout it is abandoned and its ctx cancelled, but
// the walk does not wait for it to return.
func (o *Orchestrator) attempt(ctx context.Context, d provider.Descriptor, text string, opts provider.Options) ([]byte, ttypes.Attempt) {
	budget := d.Criteria.MaxResponseTime
	if budget <= 0 {
		budget = o.maxResponseTime
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		audio []byte
		err   error
	}
	done := make(chan result, 1)

	start := time.Now()
	go func() {
		if d.Limiter != nil {
			if err := d.Limiter.Wait(callCtx); err != nil {
				done <- result{err: ttypes.NewError(ttypes.CodeProviderUnavailable, d.ID, "rate limit wait cancelled", err)}
				return
			}
		}
		audio, err := d.Provider.Synthesize(callCtx, text, opts)
		done <- result{audio: audio, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	attempt := ttypes.Attempt{Provider: d.ID}
	select {
	case res := <-done:
		attempt.Elapsed = time.Since(start)
		switch {
		case res.err != nil:
			attempt.Err = res.err
			attempt.Code = ttypes.CodeOf(res.err)
		case len(res.audio) == 0:
			attempt.Err = ttypes.NewError(ttypes.CodeProviderResponseInvalid, d.ID, "empty audio", nil)
			attempt.Code = ttypes.CodeProviderResponseInvalid
		default:
			return res.audio, attempt
		}

	case <-timer.C:
		attempt.Elapsed = time.Since(start)
		attempt.Code = ttypes.CodeProviderTimeout
		attempt.Err = ttypes.NewError(ttypes.CodeProviderTimeout, d.ID,
			fmt.Sprintf("no response within %s", budget), context.DeadlineExceeded)

	case <-ctx.Done():
		attempt.Elapsed = time.Since(start)
		attempt.Code = ttypes.CodeOf(ctx.Err())
		attempt.Err = ctx.Err()
	}
	return nil, attempt
}

// IsExhausted reports whether err is a fallback chain failure.
func IsExhausted(err error) bool {
	var fe *ttypes.FallbackError
	return errors.As(err, &fe)
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
