package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Mock is a deterministic provider for tests and dry runs. Without a
// configured response it returns a small payload derived from the text.
type Mock struct {
	id    string
	calls atomic.Int64

	mu    sync.Mutex
	audio []byte
	err   error
	delay time.Duration
	down  bool
}

// NewMock creates a mock provider.
func NewMock(id string) *Mock {
	if id == "" {
		id = "mock"
	}
	return &Mock{id: id}
}

// ID returns the provider identifier.
func (m *Mock) ID() string {
	return m.id
}

// WithAudio sets the audio returned on success.
func (m *Mock) WithAudio(audio []byte) *Mock {
	m.mu.Lock()
	m.audio = audio
	m.mu.Unlock()
	return m
}

// WithError makes every call fail with err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	return m
}

// WithDelay makes every call take d.
func (m *Mock) WithDelay(d time.Duration) *Mock {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
	return m
}

// SetAvailable toggles the availability check.
func (m *Mock) SetAvailable(available bool) {
	m.mu.Lock()
	m.down = !available
	m.mu.Unlock()
}

// Available reports the configured availability.
func (m *Mock) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.down
}

// Calls returns how many times Synthesize was invoked.
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}

// Synthesize returns the configured response after the configured delay.
func (m *Mock) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	m.calls.Add(1)

	m.mu.Lock()
	audio, err, delay := m.audio, m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if audio != nil {
		return append([]byte(nil), audio...), nil
	}
	return []byte(fmt.Sprintf("%s|%s|%s|%s", m.id, opts.Voice, opts.Format, text)), nil
}
