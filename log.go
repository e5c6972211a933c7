package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/hookvoice/internal/config"
)

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, config.AppName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.AppName+".log"), nil
}

// setupLog sends the default logger to a file in the user cache directory.
// Hooks run inside other tools, so nothing is logged to the terminal.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	logFile, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		return nil, err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	log.SetLevel(log.InfoLevel)
	if lvl := os.Getenv("HOOKVOICE_LOG_LEVEL"); lvl != "" {
		setLogLevel(lvl)
	}
	return f.Close, nil
}

func setLogLevel(s string) {
	level, err := log.ParseLevel(s)
	if err != nil {
		log.Warn("Ignoring unknown log level", "level", s)
		return
	}
	log.SetLevel(level)
}
