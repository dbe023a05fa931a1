package adapter

import "context"

// PromptEnhancer rewrites an edit instruction into a clearer provider prompt.
type PromptEnhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}
