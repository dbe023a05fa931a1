package enhancer

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"

	"telegram-image-editor/internal/domain/ports/adapter"
)

var _ adapter.PromptEnhancer = (*GeminiEnhancer)(nil)

type GeminiEnhancer struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiEnhancer creates a Gemini enhancer using the official SDK.
func NewGeminiEnhancer(ctx context.Context, apiKey, baseURL, model string, timeout time.Duration) (*GeminiEnhancer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiEnhancer{client: c, model: model, timeout: timeout}, nil
}

func (g *GeminiEnhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(0.2)),
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errEmptyAnswer
	}
	return clean(resp.Text())
}
