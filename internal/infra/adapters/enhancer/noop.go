package enhancer

import (
	"context"

	"telegram-image-editor/internal/domain/ports/adapter"
)

var _ adapter.PromptEnhancer = Noop{}

// Noop returns the prompt unchanged.
type Noop struct{}

func (Noop) Enhance(_ context.Context, prompt string) (string, error) { return prompt, nil }
