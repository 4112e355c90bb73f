package inference

import (
	"context"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// openaiBackend talks to any OpenAI-compatible chat completions endpoint.
type openaiBackend struct {
	client openai.Client
	model  string
}

func newOpenAIBackend(cfg Config, httpClient *http.Client) *openaiBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries are handled by Client.Complete.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openaiBackend{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (b *openaiBackend) complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(b.model),
		Messages:  toOpenAIMessages(req.Messages),
		MaxTokens: openai.Int(int64(req.MaxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	completion, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
