// Package inference talks to the text-generation backends. The bot uses two
// independently configured clients: a cheap Analyzer that classifies the
// conversation and a larger Generator that writes the reply. Each client is
// bound to one provider, model and endpoint.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Providers.
const (
	// ProviderOpenAI covers any OpenAI-compatible endpoint (OpenAI, Mistral,
	// the Gemini compatibility layer, local servers).
	ProviderOpenAI = "openai"
	// ProviderAnthropic uses the Anthropic Messages API.
	ProviderAnthropic = "anthropic"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message sent to a backend.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Config binds a client to a provider, model and endpoint.
type Config struct {
	// Provider is "openai" (any compatible endpoint) or "anthropic".
	Provider string `yaml:"provider"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey is the credential. Usually resolved from the keyring or env.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier.
	Model string `yaml:"model"`

	// Timeout bounds each attempt.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries after the first attempt for
	// transient failures.
	MaxRetries int `yaml:"max_retries"`

	// MaxTokens is the default output budget when a request sets none.
	MaxTokens int `yaml:"max_tokens"`
}

// backend is one provider SDK.
type backend interface {
	complete(ctx context.Context, req Request) (string, error)
}

// Client performs completions with per-attempt timeouts and exponential
// backoff on transient failures.
type Client struct {
	cfg     Config
	backend backend
	logger  *slog.Logger

	// initialInterval is the first backoff delay.
	initialInterval time.Duration
}

// New creates a client for the configured provider.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("inference: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     120 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	var b backend
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		cfg.Provider = ProviderOpenAI
		b = newOpenAIBackend(cfg, httpClient)
	case ProviderAnthropic:
		b = newAnthropicBackend(cfg, httpClient)
	default:
		return nil, fmt.Errorf("inference: unknown provider %q", cfg.Provider)
	}

	return &Client{
		cfg:             cfg,
		backend:         b,
		logger:          logger.With("component", "inference", "provider", cfg.Provider, "model", cfg.Model),
		initialInterval: 500 * time.Millisecond,
	}, nil
}

// Complete runs a completion, retrying transient failures. Errors are
// returned as *Error carrying the classified kind.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	attempt := 0
	op := func() (string, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		start := time.Now()
		text, err := c.backend.complete(callCtx, req)
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyResponse
		}
		if err != nil {
			wrapped := &Error{Kind: ClassifyError(err), Provider: c.cfg.Provider, Model: c.cfg.Model, Err: err}
			// A caller deadline is final even though a per-attempt timeout is not.
			if ctx.Err() != nil || !wrapped.Kind.IsRetryable() {
				return "", backoff.Permanent(wrapped)
			}
			return "", wrapped
		}

		c.logger.Debug("completion done", "attempt", attempt, "duration_ms", time.Since(start).Milliseconds())
		return text, nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	eb.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("completion failed, retrying", "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
}

// Analyzer adapts a Client to the analysis stage: a single user prompt, a
// short output budget and a low temperature.
type Analyzer struct {
	client      *Client
	maxTokens   int
	temperature float64
}

// NewAnalyzer wraps a client for the analysis stage.
func NewAnalyzer(c *Client) *Analyzer {
	return &Analyzer{client: c, maxTokens: 200, temperature: 0.2}
}

// Analyze sends the analysis prompt and returns the raw model output.
func (a *Analyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	t := a.temperature
	return a.client.Complete(ctx, Request{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:   a.maxTokens,
		Temperature: &t,
	})
}

// Generator adapts a Client to the reply generation stage.
type Generator struct {
	client *Client
}

// NewGenerator wraps a client for the generation stage.
func NewGenerator(c *Client) *Generator {
	return &Generator{client: c}
}

// Generate produces a reply from a full message list.
func (g *Generator) Generate(ctx context.Context, messages []Message, maxTokens int, temperature float64) (string, error) {
	return g.client.Complete(ctx, Request{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
}
