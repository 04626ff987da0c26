package chat

import (
	"log/slog"
	"time"

	"github.com/vionhq/vion/internal/config"
)

const providerTimeout = 60 * time.Second

// BuildProviders assembles the failover chain from configuration. Providers
// without an API key are skipped, priority follows cfg.Order, and the
// heuristic fallback is always appended last.
func BuildProviders(log *slog.Logger, cfg config.ProvidersConfig) []Provider {
	if log == nil {
		log = slog.Default()
	}
	var providers []Provider
	for _, name := range cfg.Order {
		switch name {
		case "openai":
			if cfg.OpenAI.Configured() {
				providers = append(providers, NewOpenAIProvider(log, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, providerTimeout))
			}
		case "anthropic":
			if cfg.Anthropic.Configured() {
				providers = append(providers, NewAnthropicProvider(log, cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.Anthropic.Model, providerTimeout))
			}
		case "google":
			if cfg.Google.Configured() {
				providers = append(providers, NewGoogleProvider(log, cfg.Google.APIKey, cfg.Google.BaseURL, cfg.Google.Model, providerTimeout))
			}
		default:
			log.Warn("unknown provider in order, skipping", slog.String("provider", name))
		}
	}
	return append(providers, NewHeuristicProvider())
}
