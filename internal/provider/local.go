package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

// Placeholders substituted into local command arguments.
const (
	placeholderOutput = "{output}"
	placeholderVoice  = "{voice}"
	placeholderRate   = "{rate}"
)

// LocalConfig configures the local system speech provider.
type LocalConfig struct {
	ID string

	// Command is the program and its arguments. Text is written to stdin.
	// If an argument contains {output} the audio is read from that file,
	// otherwise from stdout. Empty selects a platform default.
	Command []string

	Voice string
}

// Local synthesizes speech with an operating system speech command, such as
// say on macOS or espeak-ng elsewhere. It needs no network or credentials.
// The default commands produce WAV whatever format was requested.
type Local struct {
	id      string
	command []string
	voice   string
}

// espeakCommands are tried in order on platforms without say.
var espeakCommands = []string{"espeak-ng", "espeak"}

// DefaultLocalCommand returns the speech command for the current platform:
// say on macOS, otherwise the first of espeak-ng and espeak on PATH.
func DefaultLocalCommand() []string {
	return defaultLocalCommand(runtime.GOOS, exec.LookPath)
}

func defaultLocalCommand(goos string, lookPath func(string) (string, error)) []string {
	if goos == "darwin" {
		return []string{"say", "-o", placeholderOutput, "--data-format=LEI16@22050", "--file-format=WAVE"}
	}
	name := espeakCommands[0]
	for _, candidate := range espeakCommands {
		if _, err := lookPath(candidate); err == nil {
			name = candidate
			break
		}
	}
	// Both accept the same flags and write WAV to stdout
	return []string{name, "--stdin", "--stdout", "-s", placeholderRate}
}

// NewLocal creates a local provider.
func NewLocal(cfg LocalConfig) *Local {
	p := &Local{
		id:      cfg.ID,
		command: cfg.Command,
		voice:   cfg.Voice,
	}
	if p.id == "" {
		p.id = "local"
	}
	if len(p.command) == 0 {
		p.command = DefaultLocalCommand()
	}
	return p
}

// ID returns the provider identifier.
func (p *Local) ID() string {
	return p.id
}

// Available reports whether the speech command is installed.
func (p *Local) Available() bool {
	_, err := exec.LookPath(p.command[0])
	return err == nil
}

// Synthesize runs the speech command with text on stdin.
func (p *Local) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	voice := opts.Voice
	if voice == "" {
		voice = p.voice
	}
	speed := opts.Speed
	if speed == 0 {
		speed = ttypes.DefaultSpeed
	}

	var outputPath string
	args := make([]string, 0, len(p.command)-1)
	for _, arg := range p.command[1:] {
		if strings.Contains(arg, placeholderOutput) && outputPath == "" {
			f, err := os.CreateTemp("", "hookvoice-local-*.audio")
			if err != nil {
				return nil, fmt.Errorf("failed to create output file: %w", err)
			}
			f.Close()
			outputPath = f.Name()
			defer os.Remove(outputPath)
		}
		arg = strings.ReplaceAll(arg, placeholderOutput, outputPath)
		arg = strings.ReplaceAll(arg, placeholderVoice, voice)
		// 175 words per minute is the usual default speaking rate
		arg = strings.ReplaceAll(arg, placeholderRate, strconv.Itoa(int(175*speed)))
		args = append(args, arg)
	}

	cmd := exec.CommandContext(ctx, p.command[0], args...)
	cmd.Stdin = strings.NewReader(text)

	// Try graceful shutdown first when ctx ends
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 100 * time.Millisecond

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ttypes.NewError(ttypes.CodeProviderTimeout, p.id, "speech command timed out", ctx.Err())
			}
			return nil, ttypes.NewError(ttypes.CodeProviderUnavailable, p.id, "speech command cancelled", ctx.Err())
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, ttypes.NewError(ttypes.CodeProviderUnavailable, p.id,
				fmt.Sprintf("%s not found", filepath.Base(p.command[0])), err)
		}
		return nil, ttypes.NewError(ttypes.CodeProviderError, p.id,
			fmt.Sprintf("speech command failed: %s", strings.TrimSpace(stderr.String())), err)
	}

	audio := stdout.Bytes()
	if outputPath != "" {
		data, err := os.ReadFile(outputPath)
		if err != nil {
			return nil, ttypes.NewError(ttypes.CodeProviderResponseInvalid, p.id, "failed to read output file", err)
		}
		audio = data
	}
	if len(audio) == 0 {
		return nil, ttypes.NewError(ttypes.CodeProviderResponseInvalid, p.id, "speech command produced no audio", nil)
	}
	return audio, nil
}
