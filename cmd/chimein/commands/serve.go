package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chimein/pkg/chimein/assistant"
	"github.com/jholhewres/chimein/pkg/chimein/channels/discord"
	"github.com/jholhewres/chimein/pkg/chimein/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start chiming in",
		Long: `Start the bot as a daemon: connect to Discord, listen to the allowed
guilds and channels, and reply when it fits the conversation.

Examples:
  chimein serve
  chimein serve --config ./config.yaml -v`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg.Logging, os.Stdout)
	logger.Info("config loaded", "path", path)

	assistant.ResolveSecrets(cfg, logger)
	if cfg.Discord.Token == "" {
		return fmt.Errorf("no Discord token: set DISCORD_TOKEN or run 'chimein config set-key %s'", assistant.KeyDiscordToken)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	bot, err := assistant.New(cfg, logger)
	if err != nil {
		return err
	}
	discordCfg := cfg.Discord
	discordCfg.CommandPrefix = cfg.CommandPrefix
	if err := bot.ChannelManager().Register(discord.New(discordCfg, logger)); err != nil {
		return err
	}
	if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	for name, h := range bot.ChannelManager().HealthAll() {
		logger.Info("channel status", "channel", name, "connected", h.Connected, "error", h.ErrorCount)
	}
	logger.Info("chimein running. Press Ctrl+C to stop.", "name", cfg.Name)
	<-ctx.Done()
	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		bot.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn("flushing traces failed", "error", err)
	}
	return nil
}
