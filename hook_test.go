package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/hookvoice/internal/config"
	"github.com/dgnsrekt/hookvoice/internal/correlation"
)

func TestParseHookPayload(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    hookPayload
		wantErr bool
	}{
		{
			name:  "stop event",
			input: `{"hook_event_name":"Stop","session_id":"abc","transcript_path":"/tmp/t.jsonl"}`,
			want:  hookPayload{Event: "Stop", SessionID: "abc"},
		},
		{
			name:  "notification with message",
			input: `{"hook_event_name":"Notification","message":"Claude needs your permission"}`,
			want:  hookPayload{Event: "Notification", Message: "Claude needs your permission"},
		},
		{
			name:  "empty input",
			input: "  \n",
			want:  hookPayload{},
		},
		{
			name:    "malformed json",
			input:   `{"hook_event_name":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHookPayload(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHookPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("parseHookPayload() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHookPhrase(t *testing.T) {
	hooks := config.Default().Hooks

	tests := []struct {
		name    string
		hooks   config.HooksConfig
		payload hookPayload
		want    string
		wantOK  bool
	}{
		{"stop", hooks, hookPayload{Event: "Stop"}, hooks.Stop, true},
		{"case insensitive", hooks, hookPayload{Event: "subagentstop"}, hooks.SubagentStop, true},
		{"notification default", hooks, hookPayload{Event: "Notification"}, hooks.Notification, true},
		{"notification message", hooks, hookPayload{Event: "Notification", Message: " Approve the edit? "}, "Approve the edit?", true},
		{"unknown event", hooks, hookPayload{Event: "PreToolUse"}, "", false},
		{"no event", hooks, hookPayload{}, "", false},
		{"phrase disabled", config.HooksConfig{}, hookPayload{Event: "Stop"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := hookPhrase(tt.hooks, tt.payload)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("hookPhrase() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParsePhrases(t *testing.T) {
	input := "# startup\nTask complete\n\n  Build failed  \n#Tests\nTests passed\n"
	got, err := parsePhrases(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parsePhrases() error = %v", err)
	}
	want := []string{"Task complete", "Build failed", "Tests passed"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("parsePhrases() = %q, want %q", got, want)
	}
}

func TestHookContext_TagsLogsWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := log.NewWithOptions(&buf, log.Options{})

	ctx, logger := hookContext(context.Background(), base)
	id, ok := correlation.FromContext(ctx)
	if !ok || id == "" {
		t.Fatal("hookContext() did not assign a correlation ID")
	}

	logger.Info("Hook announced")
	if out := buf.String(); !strings.Contains(out, "cid="+id) {
		t.Errorf("log line %q does not carry cid=%s", out, id)
	}

	// An existing ID is kept
	parent := correlation.WithID(context.Background(), "fixed-id")
	ctx, _ = hookContext(parent, base)
	if got, _ := correlation.FromContext(ctx); got != "fixed-id" {
		t.Errorf("correlation ID = %q, want fixed-id", got)
	}
}
