package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const openAIReply = `{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
	"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}]}`

func openAIResponse(content string) string {
	b, _ := json.Marshal(content)
	return fmt.Sprintf(openAIReply, b)
}

func newTestClient(t *testing.T, provider, baseURL string, retries int) *Client {
	t.Helper()
	c, err := New(Config{
		Provider:   provider,
		BaseURL:    baseURL + "/",
		APIKey:     "test-key",
		Model:      "test-model",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.initialInterval = time.Millisecond
	return c
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Model: "m"}, nil); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("missing key: got %v, want ErrNoAPIKey", err)
	}
	if _, err := New(Config{APIKey: "k"}, nil); err == nil {
		t.Error("missing model should fail")
	}
	if _, err := New(Config{APIKey: "k", Model: "m", Provider: "carrier-pigeon"}, nil); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestOpenAI_Generate(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, openAIResponse("  ну да)  "))
	}))
	defer srv.Close()

	g := NewGenerator(newTestClient(t, ProviderOpenAI, srv.URL, 0))
	out, err := g.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "Ann: hi"},
	}, 50, 0.9)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "ну да)" {
		t.Errorf("output = %q", out)
	}

	body := <-bodies
	if body["model"] != "test-model" {
		t.Errorf("model = %v", body["model"])
	}
	if body["max_tokens"] != float64(50) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	if body["temperature"] != 0.9 {
		t.Errorf("temperature = %v", body["temperature"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v", first["role"])
	}
}

func TestOpenAI_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		io.WriteString(w, openAIResponse("ok"))
	}))
	defer srv.Close()

	a := NewAnalyzer(newTestClient(t, ProviderOpenAI, srv.URL, 2))
	out, err := a.Analyze(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out != "ok" {
		t.Errorf("output = %q", out)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestOpenAI_AuthErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, ProviderOpenAI, srv.URL, 3)
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if k := KindOf(err); k != KindAuth {
		t.Errorf("kind = %s, want auth", k)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestOpenAI_EmptyResponse(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, openAIResponse("   "))
	}))
	defer srv.Close()

	c := newTestClient(t, ProviderOpenAI, srv.URL, 1)
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestComplete_CallerDeadlineStopsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, ProviderOpenAI, srv.URL, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Complete(ctx, Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if k := KindOf(err); k != KindTimeout {
		t.Errorf("kind = %s, want timeout", k)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("took %v, retries should stop at the caller deadline", elapsed)
	}
}

func TestAnthropic_Generate(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("X-Api-Key = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"test-model",
			"content":[{"type":"text","text":"согласна!"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	g := NewGenerator(newTestClient(t, ProviderAnthropic, srv.URL, 0))
	out, err := g.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "one"},
		{Role: RoleUser, Content: "two"},
	}, 150, 0.9)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "согласна!" {
		t.Errorf("output = %q", out)
	}

	body := <-bodies
	if body["max_tokens"] != float64(150) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("consecutive user turns should merge, got %d messages", len(msgs))
	}
	if _, ok := body["system"]; !ok {
		t.Error("system prompt missing")
	}
}

func TestToAnthropicMessages(t *testing.T) {
	t.Parallel()

	system, msgs := toAnthropicMessages([]Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: " "},
		{Role: RoleUser, Content: "c"},
	})
	if len(system) != 1 {
		t.Errorf("system blocks = %d, want 1", len(system))
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}

	_, empty := toAnthropicMessages(nil)
	if len(empty) != 1 {
		t.Errorf("empty input should yield a placeholder turn, got %d", len(empty))
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		body       string
		expected   ErrorKind
	}{
		{"rate limit 429", 429, `{"error": {"message": "Rate limit exceeded"}}`, KindRateLimit},
		{"server error 500", 500, `{"error": {"message": "Internal server error"}}`, KindRetryable},
		{"bad gateway 502", 502, "", KindRetryable},
		{"auth error 401", 401, `{"error": {"message": "Invalid API key"}}`, KindAuth},
		{"forbidden 403", 403, "", KindAuth},
		{"billing 402", 402, "", KindBilling},
		{"quota in body", 429, `{"error": {"type": "insufficient_quota"}}`, KindBilling},
		{"bad request 400", 400, `{"error": {"message": "Invalid request"}}`, KindBadRequest},
		{"overloaded 529", 529, `{"error": {"type": "overloaded_error"}}`, KindOverloaded},
		{"gateway timeout", 504, "", KindTimeout},
		{"teapot", 418, "", KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ClassifyStatus(tt.statusCode, tt.body); got != tt.expected {
				t.Errorf("ClassifyStatus(%d) = %s, want %s", tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want ErrorKind
	}{
		{context.Canceled, KindCanceled},
		{context.DeadlineExceeded, KindTimeout},
		{ErrNoAPIKey, KindAuth},
		{errors.New("weird"), KindFatal},
		{&Error{Kind: KindOverloaded, Err: errors.New("x")}, KindOverloaded},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}

	if !KindRateLimit.IsRetryable() || KindAuth.IsRetryable() || KindCanceled.IsRetryable() {
		t.Error("unexpected retryability")
	}
}
