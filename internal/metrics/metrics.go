// Package metrics collects Prometheus metrics for the speech service.
// Each Collector owns its registry, so several services can coexist in
// one process.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

const namespace = "hookvoice"

// Request sources.
const (
	SourceCache    = "cache"
	SourceProvider = "provider"
	SourceFailed   = "failed"
)

// Collector records service activity.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	attemptsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	evictionsTotal   prometheus.Counter
	cacheErrorsTotal *prometheus.CounterVec
	cacheEntries     prometheus.Gauge
	cacheBytes       prometheus.Gauge
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Speak and preload requests by how they were served",
			},
			[]string{"source"}, // cache, provider, failed
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Cache lookup to result duration in seconds",
				Buckets:   []float64{.001, .005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_attempts_total",
				Help:      "Provider attempts by outcome code",
			},
			[]string{"provider", "code"}, // code: ok or an error code
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_attempt_duration_seconds",
				Help:      "Duration of provider attempts in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		evictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Cache entries removed by eviction",
			},
		),
		cacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Non-fatal cache errors",
			},
			[]string{"code"},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Number of cached entries",
			},
		),
		cacheBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_size_bytes",
				Help:      "Total size of cached audio in bytes",
			},
		),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.attemptsTotal,
		c.attemptDuration,
		c.evictionsTotal,
		c.cacheErrorsTotal,
		c.cacheEntries,
		c.cacheBytes,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRequest records a finished speak or preload.
func (c *Collector) ObserveRequest(source string, d time.Duration) {
	c.requestsTotal.WithLabelValues(source).Inc()
	c.requestDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveAttempt records one provider attempt. An empty code is a success.
func (c *Collector) ObserveAttempt(providerID string, code ttypes.ErrorCode, elapsed time.Duration) {
	label := "ok"
	if code != "" {
		label = string(code)
	}
	c.attemptsTotal.WithLabelValues(providerID, label).Inc()
	c.attemptDuration.WithLabelValues(providerID).Observe(elapsed.Seconds())
}

// AddEvictions records evicted entries.
func (c *Collector) AddEvictions(n int) {
	if n > 0 {
		c.evictionsTotal.Add(float64(n))
	}
}

// CacheError records a non-fatal cache error.
func (c *Collector) CacheError(code ttypes.ErrorCode) {
	c.cacheErrorsTotal.WithLabelValues(string(code)).Inc()
}

// SetCacheSize updates the cache gauges.
func (c *Collector) SetCacheSize(entries int, bytes uint64) {
	c.cacheEntries.Set(float64(entries))
	c.cacheBytes.Set(float64(bytes))
}

// WriteText writes all metrics in the Prometheus text format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Snapshot flattens counters and gauges into name{labels} → value.
// Histograms report their sample count.
func (c *Collector) Snapshot() (map[string]float64, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName() + labelString(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[name] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[name] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[name+"_count"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}

func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
