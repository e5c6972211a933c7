package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ErrNoPlayer is returned when no playback command is installed.
var ErrNoPlayer = errors.New("no audio player found")

// PlayOptions tunes a single playback.
type PlayOptions struct {
	Volume float64 // 0 to 1; 0 means the player default
}

// PlayResult describes a finished playback.
type PlayResult struct {
	Command  string
	Duration time.Duration
}

// Player plays an audio file.
type Player interface {
	Play(ctx context.Context, path string, opts PlayOptions) (PlayResult, error)
}

// candidate is a known playback command. Args may contain {file} and
// {volume} placeholders.
type candidate struct {
	name string
	args []string
}

// Known players in preference order per platform.
var (
	darwinPlayers = []candidate{
		{"afplay", []string{"-v", "{volume}", "{file}"}},
	}
	unixPlayers = []candidate{
		{"paplay", []string{"{file}"}},
		{"ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "{file}"}},
		{"mpv", []string{"--no-video", "--really-quiet", "{file}"}},
		{"aplay", []string{"-q", "{file}"}},
	}
)

// CommandPlayer plays files with an external command.
type CommandPlayer struct {
	command []string
}

// NewCommandPlayer creates a player. An empty command selects the first
// known player installed on this system.
func NewCommandPlayer(command []string) (*CommandPlayer, error) {
	if len(command) > 0 {
		if _, err := exec.LookPath(command[0]); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoPlayer, command[0])
		}
		return &CommandPlayer{command: command}, nil
	}

	candidates := unixPlayers
	if runtime.GOOS == "darwin" {
		candidates = darwinPlayers
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c.name); err == nil {
			return &CommandPlayer{command: append([]string{c.name}, c.args...)}, nil
		}
	}
	return nil, ErrNoPlayer
}

// Command returns the configured command line template.
func (p *CommandPlayer) Command() []string {
	return append([]string(nil), p.command...)
}

// Play runs the player and waits for it to finish.
func (p *CommandPlayer) Play(ctx context.Context, path string, opts PlayOptions) (PlayResult, error) {
	if _, err := os.Stat(path); err != nil {
		return PlayResult{}, fmt.Errorf("audio file: %w", err)
	}

	volume := opts.Volume
	if volume <= 0 || volume > 1 {
		volume = 1
	}

	args := make([]string, 0, len(p.command))
	hasFile := false
	for _, arg := range p.command[1:] {
		if strings.Contains(arg, "{file}") {
			hasFile = true
		}
		arg = strings.ReplaceAll(arg, "{file}", path)
		arg = strings.ReplaceAll(arg, "{volume}", strconv.FormatFloat(volume, 'f', 2, 64))
		args = append(args, arg)
	}
	if !hasFile {
		args = append(args, path)
	}

	cmd := exec.CommandContext(ctx, p.command[0], args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 200 * time.Millisecond

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := PlayResult{Command: p.command[0], Duration: time.Since(start)}
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, fmt.Errorf("%s failed: %w: %s", p.command[0], err, strings.TrimSpace(stderr.String()))
	}
	return result, nil
}
