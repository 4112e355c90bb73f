package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/chimein/pkg/chimein/channels"
)

// fakeChannel records everything sent to it.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []string
	typing  int
	latency time.Duration
	in      chan *channels.IncomingMessage
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{latency: 42 * time.Millisecond, in: make(chan *channels.IncomingMessage)}
}

func (f *fakeChannel) Name() string                  { return "fake" }
func (f *fakeChannel) Connect(context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error             { return nil }
func (f *fakeChannel) IsConnected() bool             { return true }
func (f *fakeChannel) Latency() time.Duration        { return f.latency }
func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage {
	return f.in
}
func (f *fakeChannel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: true}
}

func (f *fakeChannel) Send(_ context.Context, to string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+"|"+msg.Content)
	return nil
}

func (f *fakeChannel) SendTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeChannel) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// newModelServer answers analysis prompts with JSON and everything else
// with a fixed reply, like an OpenAI-compatible endpoint.
func newModelServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		content := reply
		if strings.Contains(string(raw), "Answer ONLY with JSON") {
			content = `{"topic": "test", "mood": "positive", "should_respond": "yes", "tone": "friendly", "gif_query": "wave"}`
		}
		b, _ := json.Marshal(content)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}]}`, b)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAssistant(t *testing.T) (*Assistant, *fakeChannel) {
	t.Helper()
	srv := newModelServer(t, "Lena: привет-привет!")
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Analyzer.BaseURL = srv.URL + "/"
	cfg.Analyzer.APIKey = "test"
	cfg.Generator.BaseURL = srv.URL + "/"
	cfg.Generator.APIKey = "test"
	cfg.GIF.APIKey = ""
	cfg.Transcript.Dir = filepath.Join(dir, "logs")
	cfg.Memory.Path = filepath.Join(dir, "memory.db")
	cfg.Memory.MaintenanceSchedule = ""
	cfg.Pipeline.PacingMin = 0
	cfg.Pipeline.PacingMax = 0

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.memory.Close() })

	ch := newFakeChannel()
	if err := a.ChannelManager().Register(ch); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return a, ch
}

func incoming(content string, mentioned, admin bool) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:        "m1",
		Channel:   "fake",
		From:      "u1",
		FromName:  "Ann",
		ChatID:    "room",
		IsGroup:   true,
		Content:   content,
		Mentioned: mentioned,
		IsAdmin:   admin,
		Timestamp: time.Now(),
	}
}

func TestAssistant_RepliesToMention(t *testing.T) {
	t.Parallel()
	a, ch := newTestAssistant(t)
	ctx := context.Background()

	a.handleMessage(ctx, incoming("@Lena как дела?", true, false))

	sent := ch.messages()
	if len(sent) != 1 || sent[0] != "room|привет-привет!" {
		t.Fatalf("sent = %v", sent)
	}
	if n, err := a.memory.MessageCount(ctx, "fake:room"); err != nil || n != 1 {
		t.Errorf("memory recorded %d messages (%v), want 1", n, err)
	}
	if last := a.pipeline.Registry().Get("fake:room").LastResponseAt(); last.IsZero() {
		t.Error("cooldown not started after the reply")
	}
}

func TestAssistant_IgnoresEmptyMessages(t *testing.T) {
	t.Parallel()
	a, ch := newTestAssistant(t)

	a.handleMessage(context.Background(), incoming("   ", true, false))
	if sent := ch.messages(); len(sent) != 0 {
		t.Errorf("sent = %v", sent)
	}
}

func TestAssistant_Commands(t *testing.T) {
	t.Parallel()
	a, ch := newTestAssistant(t)
	ctx := context.Background()

	a.handleMessage(ctx, incoming("!ping", false, false))
	if sent := ch.messages(); len(sent) != 1 || sent[0] != "room|Понг! 🏓 Задержка: 42мс" {
		t.Fatalf("ping reply = %v", sent)
	}

	entries, err := a.transcript.Load(ctx, "fake:room")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("command reached the transcript: %v", entries)
	}

	a.handleMessage(ctx, incoming("!unknown", false, true))
	if n := len(ch.messages()); n != 1 {
		t.Errorf("unknown command produced a reply")
	}
}

func TestAssistant_ClearHistory(t *testing.T) {
	t.Parallel()
	a, ch := newTestAssistant(t)
	ctx := context.Background()

	a.handleMessage(ctx, incoming("@Lena hi", true, false))
	state := a.pipeline.Registry().Get("fake:room")
	if state.LastResponseAt().IsZero() {
		t.Fatal("expected a reply first")
	}

	a.handleMessage(ctx, incoming("!clear_history", false, false))
	a.handleMessage(ctx, incoming("!clear_history", false, true))
	a.handleMessage(ctx, incoming("!CLEAR_HISTORY", false, true))

	sent := ch.messages()
	want := []string{
		"room|Эта команда только для администраторов.",
		"room|✅ История чата очищена!",
		"room|История чата уже пуста.",
	}
	if len(sent) != 4 {
		t.Fatalf("sent = %v", sent)
	}
	for i, w := range want {
		if !strings.HasSuffix(sent[i+1], strings.TrimPrefix(w, "room|")) {
			t.Errorf("reply %d = %q, want %q", i, sent[i+1], w)
		}
	}
	if !state.LastResponseAt().IsZero() || state.MessageCount() != 0 {
		t.Error("cooldown not reset")
	}
}

func TestAssistant_StartStop(t *testing.T) {
	t.Parallel()
	a, ch := newTestAssistant(t)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ch.in <- incoming("@Lena ты тут?", true, false)

	deadline := time.Now().Add(5 * time.Second)
	for len(ch.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	a.Stop()

	if len(ch.messages()) != 1 {
		t.Errorf("sent = %v", ch.messages())
	}
}

func TestChannelKey(t *testing.T) {
	t.Parallel()

	if got := channelKey("discord", "123"); got != "discord:123" {
		t.Errorf("channelKey = %q", got)
	}
	p, c, err := splitChannelKey("discord:123:456")
	if err != nil || p != "discord" || c != "123:456" {
		t.Errorf("split = %q %q %v", p, c, err)
	}
	for _, bad := range []string{"", "discord", ":1", "discord:"} {
		if _, _, err := splitChannelKey(bad); err == nil {
			t.Errorf("splitChannelKey(%q) should fail", bad)
		}
	}
}

func TestToPipelineMessage(t *testing.T) {
	t.Parallel()
	msg := incoming("  hi  ", true, false)
	msg.FromName = ""

	got := toPipelineMessage(msg)
	if got.ChannelID != "fake:room" || got.AuthorName != "u1" || got.Content != "hi" || !got.Explicit {
		t.Errorf("toPipelineMessage = %+v", got)
	}
}
