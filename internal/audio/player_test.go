package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func writeAudio(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandPlayer_Play(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	out := filepath.Join(t.TempDir(), "played")
	player, err := NewCommandPlayer([]string{"sh", "-c", `cp "$0" "$1"`, "{file}", out})
	if err != nil {
		t.Fatalf("NewCommandPlayer() error = %v", err)
	}

	path := writeAudio(t, "audio-bytes")
	result, err := player.Play(context.Background(), path, PlayOptions{})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if result.Command != "sh" {
		t.Errorf("Command = %s, want sh", result.Command)
	}
	got, err := os.ReadFile(out)
	if err != nil || string(got) != "audio-bytes" {
		t.Errorf("player did not receive the file: %q %v", got, err)
	}
}

func TestCommandPlayer_Errors(t *testing.T) {
	if _, err := NewCommandPlayer([]string{"hookvoice-no-such-player"}); !errors.Is(err, ErrNoPlayer) {
		t.Errorf("NewCommandPlayer(missing) error = %v, want ErrNoPlayer", err)
	}

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	player, _ := NewCommandPlayer([]string{"sh", "-c", "exit 1"})
	if _, err := player.Play(context.Background(), writeAudio(t, "x"), PlayOptions{}); err == nil {
		t.Error("Play() should fail when the command fails")
	}
	if _, err := player.Play(context.Background(), "/nonexistent/clip.mp3", PlayOptions{}); err == nil {
		t.Error("Play() should fail for a missing file")
	}
}

func TestCommandPlayer_Cancel(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	player, _ := NewCommandPlayer([]string{"sleep", "5"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// sleep gets the file as an extra argument and rejects it, or is
	// interrupted; either way Play must return promptly.
	start := time.Now()
	player.Play(ctx, writeAudio(t, "x"), PlayOptions{})
	if time.Since(start) > 2*time.Second {
		t.Error("Play() did not honor cancellation")
	}
}

func TestMockPlayer(t *testing.T) {
	m := NewMockPlayer()
	path := writeAudio(t, "mock-audio")

	if _, err := m.Play(context.Background(), path, PlayOptions{Volume: 0.5}); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	plays := m.Plays()
	if len(plays) != 1 || string(plays[0].Audio) != "mock-audio" || plays[0].Opts.Volume != 0.5 {
		t.Errorf("Plays() = %+v", plays)
	}

	m.SetError(errors.New("device busy"))
	if _, err := m.Play(context.Background(), path, PlayOptions{}); err == nil {
		t.Error("Play() should return the configured error")
	}
	if len(m.Plays()) != 1 {
		t.Error("failed play should not be recorded")
	}
}
