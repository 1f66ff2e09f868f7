// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
	"github.com/dmage20/linkedin-job-agent/internal/config"
)

// NewClient is a factory function that creates a single-model LLMClient based
// on the model configuration.
func NewClient(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}

// NewRouterFromConfig builds the tiered router from the full LLM section:
// one client per tier, resolved through the configured model names.
func NewRouterFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	fastCfg, ok := cfg.ModelFor("fast")
	if !ok {
		return nil, fmt.Errorf("no model configuration for fast tier model %q", cfg.DefaultFastModel)
	}
	powerfulCfg, ok := cfg.ModelFor("powerful")
	if !ok {
		return nil, fmt.Errorf("no model configuration for powerful tier model %q", cfg.DefaultPowerfulModel)
	}

	fastClient, err := NewClient(fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build fast tier client: %w", err)
	}
	powerfulClient, err := NewClient(powerfulCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build powerful tier client: %w", err)
	}

	return NewLLMRouter(logger, fastClient, powerfulClient)
}
