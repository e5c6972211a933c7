// Package config holds the resolved hookvoice configuration. Raw settings
// are read once by the loader; everything downstream consumes Config.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

// Provider types.
const (
	TypeOpenAI     = "openai"
	TypeElevenLabs = "elevenlabs"
	TypeLocal      = "local"
	TypeMock       = "mock"
)

var providerTypes = []string{TypeOpenAI, TypeElevenLabs, TypeLocal, TypeMock}

// Config is the complete, resolved configuration.
type Config struct {
	Cache           CacheConfig      `mapstructure:"cache"`
	Providers       []ProviderConfig `mapstructure:"providers"`
	DefaultCriteria CriteriaConfig   `mapstructure:"default_criteria"`
	Playback        PlaybackConfig   `mapstructure:"playback"`
	Hooks           HooksConfig      `mapstructure:"hooks"`
}

// CacheConfig configures the audio cache.
type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Dir          string        `mapstructure:"dir"`
	MaxSizeBytes uint64        `mapstructure:"max_size_bytes"`
	MaxEntries   int           `mapstructure:"max_entries"`
	MaxAge       time.Duration `mapstructure:"max_age"` // 0 disables expiry

	// In-memory layer in front of the disk, 0 disables it
	MemorySizeBytes int64 `mapstructure:"memory_size_bytes"`

	// zstd level, 0 disables compression
	CompressionLevel int `mapstructure:"compression_level"`

	// Drop entries deleted by other processes (long-running commands only)
	Watch bool `mapstructure:"watch"`

	// Periodic eviction for long-running commands, 0 disables it
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ProviderConfig configures one provider of the fallback chain.
type ProviderConfig struct {
	ID                string        `mapstructure:"id"`
	Type              string        `mapstructure:"type"`
	Priority          int           `mapstructure:"priority"`
	Enabled           bool          `mapstructure:"enabled"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Voice             string        `mapstructure:"voice"`
	MaxResponseTime   time.Duration `mapstructure:"max_response_time"`
	SupportedVoices   []string      `mapstructure:"supported_voices"`
	SupportedFormats  []string      `mapstructure:"supported_formats"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Command           []string      `mapstructure:"command"` // local only
}

// CriteriaConfig holds the defaults applied to every request.
type CriteriaConfig struct {
	AllowFallback   bool          `mapstructure:"allow_fallback"`
	MaxResponseTime time.Duration `mapstructure:"max_response_time"`
	Voice           string        `mapstructure:"voice"`
	Format          string        `mapstructure:"format"`
	Speed           float64       `mapstructure:"speed"`
}

// PlaybackConfig configures the audio player.
type PlaybackConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Command []string `mapstructure:"command"` // Empty detects a player
	Volume  float64  `mapstructure:"volume"`
}

// HooksConfig holds the phrases announced for hook events.
type HooksConfig struct {
	Stop         string `mapstructure:"stop"`
	Notification string `mapstructure:"notification"`
	SubagentStop string `mapstructure:"subagent_stop"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Enabled:         true,
			MaxSizeBytes:    100 * 1024 * 1024,
			MaxEntries:      1000,
			MaxAge:          30 * 24 * time.Hour,
			MemorySizeBytes: 8 * 1024 * 1024,
		},
		Providers: []ProviderConfig{
			{ID: "openai", Type: TypeOpenAI, Priority: 1, Enabled: true, APIKey: "${OPENAI_API_KEY}"},
			{ID: "elevenlabs", Type: TypeElevenLabs, Priority: 2, Enabled: true, APIKey: "${ELEVENLABS_API_KEY}"},
			{ID: "local", Type: TypeLocal, Priority: 100, Enabled: true},
		},
		DefaultCriteria: CriteriaConfig{
			AllowFallback:   true,
			MaxResponseTime: 10 * time.Second,
			Format:          ttypes.DefaultFormat,
			Speed:           ttypes.DefaultSpeed,
		},
		Playback: PlaybackConfig{
			Enabled: true,
			Volume:  1.0,
		},
		Hooks: HooksConfig{
			Stop:         "Task complete",
			Notification: "Your attention is needed",
			SubagentStop: "Subagent finished",
		},
	}
}

// EnabledProviders returns the enabled providers.
func (c Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration. All problems are reported together.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Cache.Enabled && c.Cache.Dir == "" {
		add("cache.dir is required when the cache is enabled")
	}
	if c.Cache.MaxEntries < 0 {
		add("cache.max_entries must not be negative, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxAge < 0 {
		add("cache.max_age must not be negative, got %s", c.Cache.MaxAge)
	}
	if c.Cache.MemorySizeBytes < 0 {
		add("cache.memory_size_bytes must not be negative, got %d", c.Cache.MemorySizeBytes)
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		add("cache.compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel)
	}
	if c.Cache.CleanupInterval < 0 {
		add("cache.cleanup_interval must not be negative, got %s", c.Cache.CleanupInterval)
	}

	if c.DefaultCriteria.MaxResponseTime < 0 {
		add("default_criteria.max_response_time must not be negative, got %s", c.DefaultCriteria.MaxResponseTime)
	}
	if f := c.DefaultCriteria.Format; f != "" && !slices.Contains(ttypes.SupportedFormats, strings.ToLower(f)) {
		add("default_criteria.format %q is not supported", f)
	}
	if s := c.DefaultCriteria.Speed; s != 0 && (s < ttypes.MinSpeed || s > ttypes.MaxSpeed) {
		add("default_criteria.speed must be between %.2f and %.2f, got %.2f", ttypes.MinSpeed, ttypes.MaxSpeed, s)
	}

	if v := c.Playback.Volume; v < 0 || v > 1 {
		add("playback.volume must be between 0 and 1, got %.2f", v)
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		id := strings.ToLower(p.ID)
		if id == "" {
			add("providers[%d].id is required", i)
		} else if seen[id] {
			add("providers[%d].id %q is duplicated", i, p.ID)
		}
		seen[id] = true

		if !slices.Contains(providerTypes, p.Type) {
			add("providers[%d].type %q must be one of %s", i, p.Type, strings.Join(providerTypes, ", "))
		}
		if p.MaxResponseTime < 0 {
			add("providers[%d].max_response_time must not be negative", i)
		}
		if p.RequestsPerMinute < 0 {
			add("providers[%d].requests_per_minute must not be negative", i)
		}
		for _, f := range p.SupportedFormats {
			if !slices.Contains(ttypes.SupportedFormats, strings.ToLower(f)) {
				add("providers[%d].supported_formats contains unknown format %q", i, f)
			}
		}
	}

	if len(problems) > 0 {
		return ttypes.NewError(ttypes.CodeConfiguration, "", strings.Join(problems, "; "), nil)
	}
	return nil
}
