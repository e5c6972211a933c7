package cache

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/hookvoice/internal/correlation"
)

// EvictionReport summarizes one enforcement pass.
type EvictionReport struct {
	Expired      int    // Removed by the TTL sweep
	Evicted      int    // Removed by LRU to satisfy the bounds
	FreedBytes   uint64 // Bytes released by both
	ProtectedHit bool   // The protected key had to go too
}

// Removed returns the number of entries removed.
func (r EvictionReport) Removed() int {
	return r.Expired + r.Evicted
}

// EvictionPolicy keeps a Store within its Limits. Passes are serialized.
type EvictionPolicy struct {
	limits Limits
	logger *log.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewEvictionPolicy creates a policy for the given limits.
func NewEvictionPolicy(limits Limits, logger *log.Logger, now func() time.Time) *EvictionPolicy {
	if logger == nil {
		logger = log.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &EvictionPolicy{limits: limits, logger: logger, now: now}
}

// Limits returns the configured limits.
func (p *EvictionPolicy) Limits() Limits {
	return p.limits
}

// Enforce removes expired entries, then least recently used entries until
// the store is within bounds. The protect key is only removed when no other
// entry is left and the bounds still do not hold.
func (p *EvictionPolicy) Enforce(ctx context.Context, store *Store, protect string) (EvictionReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var report EvictionReport
	logger := correlation.Logger(ctx, p.logger)

	entries := store.List()

	// TTL sweep
	if p.limits.MaxAge > 0 {
		now := p.now()
		kept := entries[:0]
		for _, e := range entries {
			if e.Age(now) <= p.limits.MaxAge {
				kept = append(kept, e)
				continue
			}
			if err := store.Remove(ctx, e.Key); err != nil {
				return report, err
			}
			report.Expired++
			report.FreedBytes += e.SizeBytes
			logger.Debug("Expired cache entry", "key", e.Key, "age", e.Age(now).Round(time.Second))
		}
		entries = kept
	}

	// entries is already in LRU order
	var protected *Entry
	count := len(entries)
	var size uint64
	for _, e := range entries {
		size += e.SizeBytes
	}

	for _, e := range entries {
		if !p.overLimits(count, size) {
			break
		}
		if e.Key == protect {
			protected = &e
			continue
		}
		if err := store.Remove(ctx, e.Key); err != nil {
			return report, err
		}
		count--
		size -= e.SizeBytes
		report.Evicted++
		report.FreedBytes += e.SizeBytes
		logger.Debug("Evicted cache entry", "key", e.Key, "size", e.SizeBytes)
	}

	if protected != nil && p.overLimits(count, size) {
		if err := store.Remove(ctx, protected.Key); err != nil {
			return report, err
		}
		report.Evicted++
		report.FreedBytes += protected.SizeBytes
		report.ProtectedHit = true
		logger.Debug("Evicted newest cache entry to satisfy limits", "key", protected.Key)
	}

	if report.Removed() > 0 {
		logger.Info("Cache eviction pass",
			"expired", report.Expired,
			"evicted", report.Evicted,
			"freed", report.FreedBytes)
	}
	return report, nil
}

func (p *EvictionPolicy) overLimits(count int, size uint64) bool {
	return size > p.limits.MaxSizeBytes || count > p.limits.MaxEntries
}

// Janitor runs periodic maintenance for a long-lived store.
type Janitor struct {
	store    *Store
	policy   *EvictionPolicy
	interval time.Duration
	logger   *log.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewJanitor creates a janitor. It does nothing until Start is called.
func NewJanitor(store *Store, policy *EvictionPolicy, interval time.Duration, logger *log.Logger) *Janitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Janitor{
		store:    store,
		policy:   policy,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start launches the cleanup goroutine. A non-positive interval is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	j.wg.Add(1)

	go func() {
		defer j.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.RunOnce(ctx)
			case <-j.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunOnce performs a single reconcile + eviction pass.
func (j *Janitor) RunOnce(ctx context.Context) {
	if _, err := j.store.Reconcile(ctx); err != nil {
		j.logger.Warn("Periodic reconciliation failed", "error", err)
	}
	if _, err := j.policy.Enforce(ctx, j.store, ""); err != nil {
		j.logger.Warn("Periodic eviction failed", "error", err)
	}
}

// Stop stops the cleanup goroutine and waits for it to exit.
func (j *Janitor) Stop() {
	select {
	case <-j.stop:
	default:
		close(j.stop)
	}
	j.wg.Wait()
}
