package out

import "context"

// GenerateOptions tunes one model call. Zero values fall back to the
// client's configured defaults.
type GenerateOptions struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// LLMClient is the outbound port for the language model. Generate returns
// the raw completion text; callers own extraction and validation.
type LLMClient interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, opts GenerateOptions) (string, error)

	// ModelName reports the configured model identifier, recorded as
	// version metadata on every classification.
	ModelName() string
}
