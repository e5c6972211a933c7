package tts

import "slices"

// Stage is a step of the speak pipeline.
type Stage int

const (
	// StageIdle is the state before a request starts.
	StageIdle Stage = iota
	// StageCacheLookup checks the cache for the request key.
	StageCacheLookup
	// StageHit means the audio came from the cache.
	StageHit
	// StageMiss means the cache had no usable entry.
	StageMiss
	// StageProviderFallback walks the provider chain.
	StageProviderFallback
	// StageSuccess means a provider (or a coalesced flight) produced audio.
	StageSuccess
	// StageCachePut writes fresh audio back to the cache.
	StageCachePut
	// StageFailure means every candidate provider failed.
	StageFailure
	// StageDone is terminal.
	StageDone
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageCacheLookup:
		return "cache_lookup"
	case StageHit:
		return "hit"
	case StageMiss:
		return "miss"
	case StageProviderFallback:
		return "provider_fallback"
	case StageSuccess:
		return "success"
	case StageCachePut:
		return "cache_put"
	case StageFailure:
		return "failure"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

var stageTransitions = map[Stage][]Stage{
	StageIdle:             {StageCacheLookup},
	StageCacheLookup:      {StageHit, StageMiss},
	StageHit:              {StageDone},
	StageMiss:             {StageProviderFallback},
	StageProviderFallback: {StageSuccess, StageFailure},
	StageSuccess:          {StageCachePut, StageDone}, // Done directly when nothing needs writing
	StageCachePut:         {StageDone},
	StageFailure:          {StageDone},
}

// stageMachine tracks one request through the pipeline. It is owned by a
// single goroutine.
type stageMachine struct {
	current Stage
	trace   []Stage
}

func newStageMachine() *stageMachine {
	return &stageMachine{current: StageIdle, trace: []Stage{StageIdle}}
}

// transition moves to the given stage if the move is valid.
func (m *stageMachine) transition(to Stage) bool {
	if !slices.Contains(stageTransitions[m.current], to) {
		return false
	}
	m.current = to
	m.trace = append(m.trace, to)
	return true
}

func (m *stageMachine) Current() Stage {
	return m.current
}

// Trace returns the stages visited so far.
func (m *stageMachine) Trace() []Stage {
	return slices.Clone(m.trace)
}
