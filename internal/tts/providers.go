package tts

import (
	"fmt"

	"github.com/dgnsrekt/hookvoice/internal/config"
	"github.com/dgnsrekt/hookvoice/internal/provider"
	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

// BuildRegistry creates the provider chain from the enabled providers in
// cfg. When the config names no local provider at all, one is added after
// every other provider so the chain ends with something that works offline.
func BuildRegistry(cfg config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	hasLocal := false
	lowest := 0
	for _, pc := range cfg.Providers {
		if pc.Type == config.TypeLocal {
			hasLocal = true
		}
		lowest = max(lowest, pc.Priority)
	}

	for _, pc := range cfg.EnabledProviders() {
		d, err := descriptorFor(pc)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(d); err != nil {
			return nil, ttypes.NewError(ttypes.CodeConfiguration, pc.ID, "register provider", err)
		}
	}

	if !hasLocal {
		local := provider.NewLocal(provider.LocalConfig{})
		if err := registry.Register(provider.Descriptor{
			ID:       local.ID(),
			Priority: lowest + 1,
			Provider: local,
		}); err != nil {
			return nil, ttypes.NewError(ttypes.CodeConfiguration, local.ID(), "register provider", err)
		}
	}
	return registry, nil
}

func descriptorFor(pc config.ProviderConfig) (provider.Descriptor, error) {
	d := provider.Descriptor{
		ID:       pc.ID,
		Priority: pc.Priority,
		Criteria: provider.Criteria{
			MaxResponseTime:  pc.MaxResponseTime,
			SupportedVoices:  pc.SupportedVoices,
			SupportedFormats: pc.SupportedFormats,
		},
		Limiter: provider.NewLimiter(pc.RequestsPerMinute),
	}

	switch pc.Type {
	case config.TypeOpenAI:
		d.Provider = provider.NewOpenAI(provider.OpenAIConfig{
			ID:      pc.ID,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Voice:   pc.Voice,
		})
		if len(d.Criteria.SupportedFormats) == 0 {
			d.Criteria.SupportedFormats = provider.OpenAIFormats
		}
	case config.TypeElevenLabs:
		d.Provider = provider.NewElevenLabs(provider.ElevenLabsConfig{
			ID:      pc.ID,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Voice:   pc.Voice,
		})
		if len(d.Criteria.SupportedFormats) == 0 {
			d.Criteria.SupportedFormats = provider.ElevenLabsFormats
		}
	case config.TypeLocal:
		d.Provider = provider.NewLocal(provider.LocalConfig{
			ID:      pc.ID,
			Command: pc.Command,
			Voice:   pc.Voice,
		})
	case config.TypeMock:
		d.Provider = provider.NewMock(pc.ID)
	default:
		return d, ttypes.NewError(ttypes.CodeConfiguration, pc.ID,
			fmt.Sprintf("unknown provider type %q", pc.Type), nil)
	}
	return d, nil
}
