package enhancer

import (
	"context"

	"telegram-image-editor/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.PromptEnhancer = (*limited)(nil)

type limited struct {
	inner adapter.PromptEnhancer
	sem   chan struct{}
}

// NewLimited caps concurrent Enhance calls; maxConcurrent <= 0 returns inner as is.
func NewLimited(inner adapter.PromptEnhancer, maxConcurrent int) adapter.PromptEnhancer {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limited{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limited) Enhance(ctx context.Context, prompt string) (string, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Enhance(ctx, prompt)
}
