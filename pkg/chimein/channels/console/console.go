// Package console implements a local terminal channel so the bot can be
// exercised without a chat platform. Every line typed at the prompt becomes
// an incoming message in a single "local" room; replies, GIF links and the
// typing indicator are printed back to the terminal.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jholhewres/chimein/pkg/chimein/channels"
)

// ChatID is the room identifier used for every console message.
const ChatID = "local"

// Config holds console channel configuration.
type Config struct {
	// UserName is the author name attached to typed messages.
	UserName string

	// BotName is used for the reply label and mention detection.
	BotName string

	// HistoryFile persists readline history between sessions. Empty disables it.
	HistoryFile string

	// Admin marks the local user as privileged so !clear_history works.
	Admin bool
}

// Console implements channels.Channel over a readline prompt.
type Console struct {
	cfg    Config
	logger *slog.Logger

	rl  *readline.Instance
	out io.Writer
	mu  sync.Mutex // serializes writes to out

	messages  chan *channels.IncomingMessage
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time

	botStyle   *color.Color
	mediaStyle *color.Color
	hintStyle  *color.Color
}

// New creates a console channel.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserName == "" {
		cfg.UserName = "you"
	}
	if cfg.BotName == "" {
		cfg.BotName = "bot"
	}
	return &Console{
		cfg:        cfg,
		logger:     logger.With("component", "console"),
		out:        os.Stdout,
		messages:   make(chan *channels.IncomingMessage, 16),
		done:       make(chan struct{}),
		botStyle:   color.New(color.FgCyan, color.Bold),
		mediaStyle: color.New(color.FgMagenta),
		hintStyle:  color.New(color.FgHiBlack, color.Italic),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the readline prompt and starts reading lines.
func (c *Console) Connect(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          color.GreenString(c.cfg.UserName + "> "),
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("console: opening prompt: %w", err)
	}

	c.rl = rl
	c.mu.Lock()
	c.out = rl.Stdout()
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(ctx)
	return nil
}

// Disconnect closes the prompt.
func (c *Console) Disconnect() error {
	c.connected.Store(false)
	c.finish()
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

// Done is closed once the user leaves the prompt (Ctrl+C, Ctrl+D or /exit).
func (c *Console) Done() <-chan struct{} { return c.done }

// Send prints a reply from the bot.
func (c *Console) Send(_ context.Context, _ string, message *channels.OutgoingMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.botStyle.Fprintf(c.out, "%s: %s\n", c.cfg.BotName, message.Content)
	return err
}

// SendMedia prints the media URL.
func (c *Console) SendMedia(_ context.Context, _ string, media *channels.MediaMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.mediaStyle.Fprintf(c.out, "%s: [gif] %s\n", c.cfg.BotName, media.URL)
	return err
}

// SendTyping prints a typing hint.
func (c *Console) SendTyping(_ context.Context, _ string) error {
	if !c.connected.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.hintStyle.Fprintf(c.out, "%s is typing...\n", c.cfg.BotName)
	return err
}

// Latency is always zero for the local prompt.
func (c *Console) Latency() time.Duration { return 0 }

// Receive returns the incoming messages channel.
func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

// IsConnected returns true while the prompt is open.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

func (c *Console) readLoop(ctx context.Context) {
	defer c.finish()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error("console: read failed", "error", err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return
		}

		msg := c.incoming(line, time.Now())
		c.lastMsg.Store(msg.Timestamp)

		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// incoming builds the message for a typed line.
func (c *Console) incoming(line string, now time.Time) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:        uuid.NewString(),
		Channel:   "console",
		From:      "console:" + c.cfg.UserName,
		FromName:  c.cfg.UserName,
		ChatID:    ChatID,
		IsGroup:   true,
		Content:   line,
		Mentioned: mentions(line, c.cfg.BotName),
		IsAdmin:   c.cfg.Admin,
		Timestamp: now,
	}
}

func (c *Console) finish() {
	c.closeOnce.Do(func() { close(c.done) })
}

// mentions reports whether the line contains @botName, ignoring case.
func mentions(line, botName string) bool {
	return strings.Contains(strings.ToLower(line), "@"+strings.ToLower(botName))
}

var (
	_ channels.Channel         = (*Console)(nil)
	_ channels.MediaChannel    = (*Console)(nil)
	_ channels.PresenceChannel = (*Console)(nil)
	_ channels.LatencyChannel  = (*Console)(nil)
)
