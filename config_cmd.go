package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Audio cache
cache:
  enabled: true
  # defaults to the user cache directory
  # dir: "~/.cache/hookvoice/audio"
  max_size_bytes: 104857600
  max_entries: 1000
  # entries older than this are removed, 0 keeps them forever
  max_age: "720h"
  # in-memory layer in front of the disk
  memory_size_bytes: 8388608
  # zstd level (1-22), 0 disables compression
  compression_level: 0
  # drop entries deleted by other processes (long-running commands)
  watch: false
  # periodic eviction (long-running commands), 0 disables it
  cleanup_interval: "0s"

# Providers are tried by ascending priority. ${VAR} is replaced from the
# environment. A local provider is appended when none is listed.
providers:
  - id: openai
    type: openai
    priority: 1
    api_key: "${OPENAI_API_KEY}"
    # model: "tts-1"
    # voice: "alloy"
    max_response_time: "8s"
    # requests_per_minute: 50
  - id: elevenlabs
    type: elevenlabs
    priority: 2
    api_key: "${ELEVENLABS_API_KEY}"
    max_response_time: "8s"
  - id: local
    type: local
    priority: 100
    # command: ["espeak-ng", "--stdin", "--stdout", "-s", "{rate}"]

default_criteria:
  allow_fallback: true
  max_response_time: "10s"
  format: "mp3"
  speed: 1.0

playback:
  enabled: true
  # command: ["mpv", "--no-video", "--really-quiet", "{file}"]
  volume: 1.0

# Phrases announced by "hookvoice hook"
hooks:
  stop: "Task complete"
  notification: "Your attention is needed"
  subagent_stop: "Subagent finished"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the hookvoice config file",
	Long:    paragraph(fmt.Sprintf("\n%s the hookvoice config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("hookvoice config\nhookvoice config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("hookvoice", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// Create the directories and write the default config, which may
		// hold API key placeholders, readable by the owner only
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.OpenFile(configFile, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
