package inference

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// anthropicBackend talks to the Anthropic Messages API.
type anthropicBackend struct {
	client anthropic.Client
	model  string
}

func newAnthropicBackend(cfg Config, httpClient *http.Client) *anthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicBackend{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (b *anthropicBackend) complete(ctx context.Context, req Request) (string, error) {
	system, messages := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// toAnthropicMessages moves system messages into the system blocks and
// merges consecutive same-role turns, which the API rejects.
func toAnthropicMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam
	var lastRole Role

	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		if m.Role == RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: text})
			continue
		}

		role := anthropic.MessageParamRoleUser
		if m.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		if len(out) > 0 && lastRole == m.Role {
			last := &out[len(out)-1]
			last.Content = append(last.Content, anthropic.NewTextBlock(text))
			continue
		}
		out = append(out, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)},
		})
		lastRole = m.Role
	}

	if len(out) == 0 {
		out = append(out, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(".")},
		})
	}
	return system, out
}
