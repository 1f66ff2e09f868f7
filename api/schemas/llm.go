// File: api/schemas/llm.go
package schemas

import "context"

// ModelTier selects between the configured fast and powerful models.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tunes a single LLM request.
type GenerationOptions struct {
	Temperature     float32
	ForceJSONFormat bool
}

// GenerationRequest is a provider-agnostic LLM generation request.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient generates text from a prompt pair. Implementations must respect
// context cancellation and return the raw model output without post-processing.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
