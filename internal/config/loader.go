package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

// AppName scopes the config, cache and log directories.
const AppName = "hookvoice"

// envOverrides are read from the process environment after the config
// file. Set variables win over file values.
type envOverrides struct {
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
	CacheDir         string `env:"HOOKVOICE_CACHE_DIR"`
	CacheEnabled     *bool  `env:"HOOKVOICE_CACHE_ENABLED"`
	PlaybackEnabled  *bool  `env:"HOOKVOICE_PLAYBACK"`
}

// providerEntry is the file form of a provider. Enabled is a pointer so an
// omitted key means enabled.
type providerEntry struct {
	ID                string        `mapstructure:"id"`
	Type              string        `mapstructure:"type"`
	Priority          int           `mapstructure:"priority"`
	Enabled           *bool         `mapstructure:"enabled"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Voice             string        `mapstructure:"voice"`
	MaxResponseTime   time.Duration `mapstructure:"max_response_time"`
	SupportedVoices   []string      `mapstructure:"supported_voices"`
	SupportedFormats  []string      `mapstructure:"supported_formats"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Command           []string      `mapstructure:"command"`
}

// Load builds the configuration from v. Defaults are overlaid with the
// values present in v, then with the environment. The result is resolved
// and validated.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	providers := cfg.Providers
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, ttypes.NewError(ttypes.CodeConfiguration, "", "decoding config", err)
	}
	cfg.Providers = providers

	if v.IsSet("providers") {
		var entries []providerEntry
		if err := v.UnmarshalKey("providers", &entries); err != nil {
			return cfg, ttypes.NewError(ttypes.CodeConfiguration, "", "decoding providers", err)
		}
		cfg.Providers = fromEntries(entries)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := Resolve(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ReadFile loads the configuration from a single YAML file.
func ReadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, ttypes.NewError(ttypes.CodeConfiguration, "", "reading "+path, err)
	}
	return Load(v)
}

func fromEntries(entries []providerEntry) []ProviderConfig {
	out := make([]ProviderConfig, 0, len(entries))
	for _, e := range entries {
		p := ProviderConfig{
			ID:                e.ID,
			Type:              strings.ToLower(e.Type),
			Priority:          e.Priority,
			Enabled:           e.Enabled == nil || *e.Enabled,
			APIKey:            e.APIKey,
			BaseURL:           e.BaseURL,
			Model:             e.Model,
			Voice:             e.Voice,
			MaxResponseTime:   e.MaxResponseTime,
			SupportedVoices:   e.SupportedVoices,
			SupportedFormats:  e.SupportedFormats,
			RequestsPerMinute: e.RequestsPerMinute,
			Command:           e.Command,
		}
		if p.ID == "" {
			p.ID = p.Type
		}
		out = append(out, p)
	}
	return out
}

func applyEnv(cfg *Config) error {
	overrides, err := env.ParseAs[envOverrides]()
	if err != nil {
		return ttypes.NewError(ttypes.CodeConfiguration, "", "reading environment", err)
	}

	if overrides.CacheDir != "" {
		cfg.Cache.Dir = overrides.CacheDir
	}
	if overrides.CacheEnabled != nil {
		cfg.Cache.Enabled = *overrides.CacheEnabled
	}
	if overrides.PlaybackEnabled != nil {
		cfg.Playback.Enabled = *overrides.PlaybackEnabled
	}

	// Keys only fill providers that do not set one explicitly.
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey != "" {
			continue
		}
		switch p.Type {
		case TypeOpenAI:
			p.APIKey = overrides.OpenAIAPIKey
		case TypeElevenLabs:
			p.APIKey = overrides.ElevenLabsAPIKey
		}
	}
	return nil
}

// Resolve expands ${VAR} references and ~ in paths, and fills in the
// default cache directory.
func Resolve(cfg *Config) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.APIKey = os.ExpandEnv(p.APIKey)
		p.BaseURL = os.ExpandEnv(p.BaseURL)
		p.Model = os.ExpandEnv(p.Model)
		p.Voice = os.ExpandEnv(p.Voice)
		p.Command = expandAll(p.Command)
	}
	cfg.Playback.Command = expandAll(cfg.Playback.Command)

	dir := os.ExpandEnv(cfg.Cache.Dir)
	if dir == "" {
		d, err := DefaultCacheDir()
		if err != nil {
			return err
		}
		dir = d
	}
	dir, err := homedir.Expand(dir)
	if err != nil {
		return ttypes.NewError(ttypes.CodeConfiguration, "", "expanding cache.dir", err)
	}
	cfg.Cache.Dir = dir
	return nil
}

// DefaultCacheDir returns the per-user audio cache directory.
func DefaultCacheDir() (string, error) {
	dir, err := gap.NewScope(gap.User, AppName).CacheDir()
	if err != nil {
		return "", ttypes.NewError(ttypes.CodeConfiguration, "", "locating cache directory", err)
	}
	return filepath.Join(dir, "audio"), nil
}

// ConfigDirs returns the directories searched for hookvoice.yml, most
// specific first.
func ConfigDirs() ([]string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs()
	if err != nil {
		return nil, err
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("HOOKVOICE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

func expandAll(args []string) []string {
	if len(args) == 0 {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = os.ExpandEnv(a)
	}
	return out
}
