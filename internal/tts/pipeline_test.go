package tts

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/dgnsrekt/hookvoice/internal/cache"
	"github.com/dgnsrekt/hookvoice/internal/config"
	"github.com/dgnsrekt/hookvoice/internal/correlation"
	"github.com/dgnsrekt/hookvoice/internal/fallback"
	"github.com/dgnsrekt/hookvoice/internal/provider"
	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

func newTestPipeline(t *testing.T, withCache bool, descriptors ...provider.Descriptor) *Pipeline {
	t.Helper()
	logger := quietLogger()

	var (
		store  *cache.Store
		policy *cache.EvictionPolicy
	)
	if withCache {
		var err error
		store, err = cache.Open(context.Background(), t.TempDir(), cache.Options{Logger: logger})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
		policy = cache.NewEvictionPolicy(cache.Limits{MaxSizeBytes: 1 << 20, MaxEntries: 10}, logger, nil)
	}

	orchestrator := fallback.New(newRegistry(t, descriptors...), fallback.Options{
		MaxResponseTime: time.Second,
		Logger:          logger,
	})
	return NewPipeline(store, policy, orchestrator, nil, logger)
}

func TestPipeline_Stages(t *testing.T) {
	req := ttypes.Request{Text: "stage check"}

	t.Run("miss then hit", func(t *testing.T) {
		p := newTestPipeline(t, true, mockDescriptor(provider.NewMock("primary"), 1))

		first := p.Run(context.Background(), req)
		want := []Stage{StageIdle, StageCacheLookup, StageMiss, StageProviderFallback, StageSuccess, StageCachePut, StageDone}
		if !slices.Equal(first.Stages, want) {
			t.Errorf("miss stages = %v, want %v", first.Stages, want)
		}
		if string(first.Audio) == "" {
			t.Error("miss returned no audio")
		}

		second := p.Run(context.Background(), req)
		want = []Stage{StageIdle, StageCacheLookup, StageHit, StageDone}
		if !slices.Equal(second.Stages, want) {
			t.Errorf("hit stages = %v, want %v", second.Stages, want)
		}
		if string(second.Audio) != string(first.Audio) {
			t.Error("hit returned different audio")
		}
	})

	t.Run("failure", func(t *testing.T) {
		p := newTestPipeline(t, true, mockDescriptor(provider.NewMock("broken").WithError(errors.New("nope")), 1))

		out := p.Run(context.Background(), req)
		want := []Stage{StageIdle, StageCacheLookup, StageMiss, StageProviderFallback, StageFailure, StageDone}
		if !slices.Equal(out.Stages, want) {
			t.Errorf("stages = %v, want %v", out.Stages, want)
		}
		if out.Result.Success || out.Audio != nil {
			t.Errorf("result = %+v", out.Result)
		}
	})

	t.Run("no cache skips the put", func(t *testing.T) {
		p := newTestPipeline(t, false, mockDescriptor(provider.NewMock("primary"), 1))

		out := p.Run(context.Background(), req)
		want := []Stage{StageIdle, StageCacheLookup, StageMiss, StageProviderFallback, StageSuccess, StageDone}
		if !slices.Equal(out.Stages, want) {
			t.Errorf("stages = %v, want %v", out.Stages, want)
		}
	})
}

func TestPipeline_KeepsCorrelationID(t *testing.T) {
	p := newTestPipeline(t, true, mockDescriptor(provider.NewMock("primary"), 1))

	ctx := correlation.WithID(context.Background(), "hook-42")
	out := p.Run(ctx, ttypes.Request{Text: "tagged"})
	if out.Result.CorrelationID != "hook-42" {
		t.Errorf("CorrelationID = %q, want hook-42", out.Result.CorrelationID)
	}
}

func TestPipeline_DurationCoversSynthesis(t *testing.T) {
	p := newTestPipeline(t, true, mockDescriptor(provider.NewMock("slow").WithDelay(30*time.Millisecond), 1))

	out := p.Run(context.Background(), ttypes.Request{Text: "timed"})
	if out.Result.Duration < 30*time.Millisecond {
		t.Errorf("Duration = %s, want at least the provider delay", out.Result.Duration)
	}
	if out.Result.DurationMs() != out.Result.Duration.Milliseconds() {
		t.Error("DurationMs() mismatch")
	}
}

func TestStageMachine_RejectsInvalidTransitions(t *testing.T) {
	m := newStageMachine()
	if m.transition(StageHit) {
		t.Error("Idle -> Hit should be rejected")
	}
	if !m.transition(StageCacheLookup) || !m.transition(StageMiss) {
		t.Fatal("valid transitions rejected")
	}
	if m.transition(StageDone) {
		t.Error("Miss -> Done should be rejected")
	}
	if m.Current() != StageMiss {
		t.Errorf("Current() = %s, want miss", m.Current())
	}
	if got := StageProviderFallback.String(); got != "provider_fallback" {
		t.Errorf("String() = %s", got)
	}
}

func TestBuildRegistry(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := config.Default()
		registry, err := BuildRegistry(cfg)
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, d := range registry.Ordered() {
			ids = append(ids, d.ID)
		}
		if !slices.Equal(ids, []string{"openai", "elevenlabs", "local"}) {
			t.Errorf("order = %v", ids)
		}
	})

	t.Run("local added last when not configured", func(t *testing.T) {
		cfg := config.Default()
		cfg.Providers = []config.ProviderConfig{
			{ID: "cloud", Type: config.TypeMock, Priority: 5, Enabled: true, RequestsPerMinute: 30},
			{ID: "off", Type: config.TypeMock, Priority: 1, Enabled: false},
		}
		registry, err := BuildRegistry(cfg)
		if err != nil {
			t.Fatal(err)
		}
		ordered := registry.Ordered()
		if len(ordered) != 2 || ordered[0].ID != "cloud" || ordered[1].ID != "local" {
			t.Fatalf("ordered = %+v", ordered)
		}
		if ordered[1].Priority <= ordered[0].Priority {
			t.Errorf("local priority %d should follow %d", ordered[1].Priority, ordered[0].Priority)
		}
		if ordered[0].Limiter == nil {
			t.Error("requests_per_minute should install a limiter")
		}
	})

	t.Run("disabled local is not re-added", func(t *testing.T) {
		cfg := config.Default()
		cfg.Providers = []config.ProviderConfig{
			{ID: "cloud", Type: config.TypeMock, Priority: 1, Enabled: true},
			{ID: "local", Type: config.TypeLocal, Priority: 2, Enabled: false},
		}
		registry, err := BuildRegistry(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if registry.Len() != 1 {
			t.Errorf("Len() = %d, want 1", registry.Len())
		}
	})

	t.Run("openai formats default", func(t *testing.T) {
		d, err := descriptorFor(config.ProviderConfig{ID: "openai", Type: config.TypeOpenAI})
		if err != nil {
			t.Fatal(err)
		}
		if d.SupportsFormat("midi") || !d.SupportsFormat("opus") {
			t.Errorf("formats = %v", d.Criteria.SupportedFormats)
		}
	})
}
