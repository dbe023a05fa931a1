package enhancer

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"telegram-image-editor/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.PromptEnhancer = (*OpenAIEnhancer)(nil)

// OpenAIEnhancer rewrites prompts with a Chat Completions model. Any
// OpenAI-compatible gateway works through baseURL.
type OpenAIEnhancer struct {
	client openai.Client
	model  string
}

func NewOpenAIEnhancer(apiKey, baseURL, model string, timeout time.Duration) (*OpenAIEnhancer, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAIEnhancer{client: openai.NewClient(opts...), model: model}, nil
}

func (o *OpenAIEnhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return "", err
	}
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			return clean(c.Message.Content)
		}
	}
	return "", errEmptyAnswer
}
