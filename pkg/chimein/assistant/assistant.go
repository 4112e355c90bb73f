// Package assistant wires the chat channels, the storage layers, the
// inference clients and the reply pipeline into a running bot.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/chimein/pkg/chimein/channels"
	"github.com/jholhewres/chimein/pkg/chimein/gif"
	"github.com/jholhewres/chimein/pkg/chimein/inference"
	"github.com/jholhewres/chimein/pkg/chimein/memory"
	"github.com/jholhewres/chimein/pkg/chimein/pipeline"
	"github.com/jholhewres/chimein/pkg/chimein/transcript"
)

// Assistant is the running bot.
type Assistant struct {
	cfg    *Config
	logger *slog.Logger

	channelMgr  *channels.Manager
	transcript  *transcript.FileStore
	memory      *memory.SQLiteStore
	pipeline    *pipeline.Pipeline
	maintenance *Maintenance

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the assistant from cfg. Secrets must already be resolved. A
// missing Giphy key only disables GIFs; missing model credentials are fatal.
func New(cfg *Config, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ts, err := transcript.NewFileStore(cfg.Transcript, logger)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Memory.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating memory dir: %w", err)
		}
	}
	mem, err := memory.NewSQLiteStore(cfg.Memory.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}

	analyzerClient, err := inference.New(cfg.Analyzer, logger)
	if err != nil {
		mem.Close()
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	generatorClient, err := inference.New(cfg.Generator, logger)
	if err != nil {
		mem.Close()
		return nil, fmt.Errorf("generator: %w", err)
	}

	mgr := channels.NewManager(logger)

	deps := pipeline.Deps{
		Registry:   pipeline.NewRegistry(),
		Transcript: ts,
		Memory:     mem,
		Analyzer:   inference.NewAnalyzer(analyzerClient),
		Generator:  inference.NewGenerator(generatorClient),
		Sender:     &channelSender{mgr: mgr},
	}
	switch giphy, err := gif.New(cfg.GIF, logger); {
	case errors.Is(err, gif.ErrNoAPIKey):
		logger.Info("no Giphy key configured, GIFs disabled")
	case err != nil:
		logger.Warn("GIF lookup unavailable", "error", err)
	default:
		deps.GIF = giphy
	}

	a := &Assistant{
		cfg:         cfg,
		logger:      logger.With("component", "assistant"),
		channelMgr:  mgr,
		transcript:  ts,
		memory:      mem,
		pipeline:    pipeline.New(cfg.pipelineConfig(), deps, logger),
		maintenance: NewMaintenance(mem, cfg.Memory, logger),
	}
	return a, nil
}

// ChannelManager returns the channel manager so callers can register
// channels before Start.
func (a *Assistant) ChannelManager() *channels.Manager { return a.channelMgr }

// Start connects the channels and starts handling messages.
func (a *Assistant) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.channelMgr.Start(a.ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	if err := a.maintenance.Start(a.ctx); err != nil {
		a.logger.Warn("memory maintenance not started", "error", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.messageLoop()
	}()

	a.logger.Info("assistant started", "name", a.cfg.Name)
	return nil
}

// Stop disconnects everything and waits for in-flight messages.
func (a *Assistant) Stop() {
	a.logger.Info("stopping assistant")
	if a.cancel != nil {
		a.cancel()
	}
	a.maintenance.Stop()
	a.channelMgr.Stop()
	a.wg.Wait()

	if err := a.memory.Close(); err != nil {
		a.logger.Warn("error closing memory store", "error", err)
	}
	a.logger.Info("assistant stopped")
}

func (a *Assistant) messageLoop() {
	for {
		select {
		case msg, ok := <-a.channelMgr.Messages():
			if !ok {
				return
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.handleMessage(a.ctx, msg)
			}()
		case <-a.ctx.Done():
			return
		}
	}
}

// handleMessage routes commands and feeds everything else to the pipeline.
func (a *Assistant) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	logger := a.logger.With("channel", msg.Channel, "chat_id", msg.ChatID, "from", msg.From)

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		logger.Debug("ignoring empty message")
		return
	}

	if a.isCommand(content) {
		res := a.HandleCommand(ctx, msg)
		if res.Response != "" {
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := a.channelMgr.Send(sendCtx, msg.Channel, msg.ChatID, &channels.OutgoingMessage{Content: res.Response}); err != nil {
				logger.Warn("sending command response failed", "error", err)
			}
		}
		return
	}

	a.pipeline.Handle(ctx, toPipelineMessage(msg))
}

// channelKey builds the pipeline channel ID from a platform and a chat.
func channelKey(platform, chatID string) string {
	return platform + ":" + chatID
}

func splitChannelKey(key string) (platform, chatID string, err error) {
	platform, chatID, ok := strings.Cut(key, ":")
	if !ok || platform == "" || chatID == "" {
		return "", "", fmt.Errorf("malformed channel key %q", key)
	}
	return platform, chatID, nil
}

func toPipelineMessage(msg *channels.IncomingMessage) pipeline.Message {
	name := msg.FromName
	if name == "" {
		name = msg.From
	}
	return pipeline.Message{
		ChannelID:  channelKey(msg.Channel, msg.ChatID),
		AuthorID:   msg.From,
		AuthorName: name,
		Content:    strings.TrimSpace(msg.Content),
		Explicit:   msg.Mentioned,
		Timestamp:  msg.Timestamp,
	}
}

// channelSender adapts the channel manager to the pipeline's Sender.
type channelSender struct {
	mgr *channels.Manager
}

func (s *channelSender) SendText(ctx context.Context, channelID, text string) error {
	platform, chatID, err := splitChannelKey(channelID)
	if err != nil {
		return err
	}
	return s.mgr.Send(ctx, platform, chatID, &channels.OutgoingMessage{Content: text})
}

func (s *channelSender) SendMedia(ctx context.Context, channelID, url string) error {
	platform, chatID, err := splitChannelKey(channelID)
	if err != nil {
		return err
	}
	return s.mgr.SendMedia(ctx, platform, chatID, &channels.MediaMessage{URL: url})
}

func (s *channelSender) SendTyping(ctx context.Context, channelID string) error {
	platform, chatID, err := splitChannelKey(channelID)
	if err != nil {
		return err
	}
	return s.mgr.SendTyping(ctx, platform, chatID)
}
