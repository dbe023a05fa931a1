package enhancer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"telegram-image-editor/internal/config"
	"telegram-image-editor/internal/domain/ports/adapter"
)

const systemPrompt = `You rewrite image edit instructions for an instruction-following image editing model.
Keep the user's intent exactly. Be specific about the object, the change and what must stay untouched.
Answer with the rewritten instruction only, in English, in one or two sentences.`

var errEmptyAnswer = errors.New("enhancer: empty answer")

// New builds the enhancer selected by cfg.Provider, wrapped in the
// concurrency limit. "none" yields a pass-through enhancer.
func New(ctx context.Context, cfg config.EnhancerConfig, logger *zerolog.Logger) (adapter.PromptEnhancer, error) {
	var (
		inner adapter.PromptEnhancer
		err   error
	)
	switch cfg.Provider {
	case "", "none":
		return Noop{}, nil
	case "openai":
		inner, err = NewOpenAIEnhancer(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.Timeout)
	case "gemini":
		inner, err = NewGeminiEnhancer(ctx, cfg.GeminiKey, cfg.GeminiURL, cfg.Model, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown enhancer provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	logger.Info().Str("provider", cfg.Provider).Str("model", cfg.Model).Int("concurrency", cfg.ConcurrentLimit).Msg("prompt enhancer enabled")
	return NewLimited(inner, cfg.ConcurrentLimit), nil
}

// clean strips the quoting chat models like to add around a one-line answer.
func clean(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errEmptyAnswer
	}
	return s, nil
}
