package audio

import (
	"context"
	"os"
	"sync"
	"time"
)

// MockPlayer records playbacks without producing sound.
type MockPlayer struct {
	mu     sync.Mutex
	plays  []MockPlay
	err    error
	delay  time.Duration
	onPlay func(path string)
}

// MockPlay is one recorded playback.
type MockPlay struct {
	Path  string
	Audio []byte // File contents at play time
	Opts  PlayOptions
}

// NewMockPlayer creates a mock player.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// SetError makes subsequent plays fail with err.
func (m *MockPlayer) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// SetDelay simulates playback time.
func (m *MockPlayer) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// OnPlay registers a hook called with the path of each playback.
func (m *MockPlayer) OnPlay(fn func(path string)) {
	m.mu.Lock()
	m.onPlay = fn
	m.mu.Unlock()
}

// Plays returns the recorded playbacks.
func (m *MockPlayer) Plays() []MockPlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockPlay(nil), m.plays...)
}

// Play records the file and its contents.
func (m *MockPlayer) Play(ctx context.Context, path string, opts PlayOptions) (PlayResult, error) {
	m.mu.Lock()
	err, delay, onPlay := m.err, m.delay, m.onPlay
	m.mu.Unlock()

	if onPlay != nil {
		onPlay(path)
	}
	if err != nil {
		return PlayResult{Command: "mock"}, err
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return PlayResult{Command: "mock"}, readErr
	}

	start := time.Now()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return PlayResult{Command: "mock", Duration: time.Since(start)}, ctx.Err()
		}
	}

	m.mu.Lock()
	m.plays = append(m.plays, MockPlay{Path: path, Audio: data, Opts: opts})
	m.mu.Unlock()

	return PlayResult{Command: "mock", Duration: time.Since(start)}, nil
}
