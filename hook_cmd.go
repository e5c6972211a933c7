package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/hookvoice/internal/config"
	"github.com/dgnsrekt/hookvoice/internal/correlation"
	"github.com/dgnsrekt/hookvoice/internal/tts"
)

// Hook event names sent by the host tool.
const (
	eventStop         = "Stop"
	eventNotification = "Notification"
	eventSubagentStop = "SubagentStop"
)

// maxHookPayload bounds how much of stdin is read.
const maxHookPayload = 1 << 20

var (
	hookEvent  string
	hookNoPlay bool
)

// hookPayload is the JSON document a hook receives on stdin. Unknown
// fields are ignored.
type hookPayload struct {
	Event     string `json:"hook_event_name"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Announce a hook event",
	Long: paragraph(fmt.Sprintf("\nRead a hook event from stdin and %s the phrase configured for it. The command always exits successfully so it never blocks the tool that ran it; failures are written to the log.",
		keyword("speak"))),
	Example: paragraph("echo '{\"hook_event_name\":\"Stop\"}' | hookvoice hook\nhookvoice hook --event Notification"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, logger := hookContext(cmd.Context(), log.Default())

		var payload hookPayload
		if pipe, _ := stdinIsPipe(); pipe {
			p, err := parseHookPayload(os.Stdin)
			if err != nil {
				logger.Warn("Ignoring hook payload", "error", err)
			} else {
				payload = p
			}
		}
		if hookEvent != "" {
			payload.Event = hookEvent
		}

		svc, err := newService()
		if err != nil {
			logger.Error("Hook could not start speech service", "error", err)
			return nil
		}
		defer func() { _ = svc.Close() }()

		phrase, ok := hookPhrase(svc.Config().Hooks, payload)
		if !ok {
			logger.Debug("No phrase for hook event", "event", payload.Event)
			return nil
		}

		res, err := svc.Speak(ctx, phrase, tts.SpeakOptions{Play: !hookNoPlay})
		switch {
		case err != nil:
			logger.Error("Hook speak rejected", "event", payload.Event, "error", err)
		case !res.Success:
			logger.Error("Hook speak failed", "event", payload.Event, "error", res.Err)
		default:
			logger.Info("Hook announced",
				"event", payload.Event,
				"session", payload.SessionID,
				"provider", res.Provider,
				"from_cache", res.FromCache,
				"played", res.Played)
		}
		return nil
	},
}

// hookContext assigns the request's correlation ID and returns a logger
// that tags every line with it, like the service's own logs.
func hookContext(parent context.Context, base *log.Logger) (context.Context, *log.Logger) {
	ctx, _ := correlation.Ensure(parent)
	return ctx, correlation.Logger(ctx, base)
}

func parseHookPayload(r io.Reader) (hookPayload, error) {
	var p hookPayload
	b, err := io.ReadAll(io.LimitReader(r, maxHookPayload))
	if err != nil {
		return p, fmt.Errorf("unable to read hook payload: %w", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return p, nil
	}
	if err := sonic.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("unable to decode hook payload: %w", err)
	}
	return p, nil
}

// hookPhrase picks the phrase for an event. Notifications speak their own
// message when one is given. Events without a phrase are skipped.
func hookPhrase(hooks config.HooksConfig, p hookPayload) (string, bool) {
	var phrase string
	switch {
	case strings.EqualFold(p.Event, eventStop):
		phrase = hooks.Stop
	case strings.EqualFold(p.Event, eventNotification):
		phrase = hooks.Notification
		if msg := strings.TrimSpace(p.Message); msg != "" {
			phrase = msg
		}
	case strings.EqualFold(p.Event, eventSubagentStop):
		phrase = hooks.SubagentStop
	}
	phrase = strings.TrimSpace(phrase)
	return phrase, phrase != ""
}

func init() {
	hookCmd.Flags().StringVar(&hookEvent, "event", "", "event name, overrides the payload: Stop, Notification or SubagentStop")
	hookCmd.Flags().BoolVar(&hookNoPlay, "no-play", false, "synthesize and cache without playing")
}
