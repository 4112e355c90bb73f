package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jholhewres/chimein/pkg/chimein/assistant"
	"github.com/jholhewres/chimein/pkg/chimein/channels/console"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk with the bot in the terminal",
		Long: `Run the full reply pipeline against a local console chat instead of
Discord. Mention the bot with @<name> to address it directly; otherwise it
chimes in on its own every few messages. Exit with Ctrl+D or /exit.

Examples:
  chimein chat
  chimein chat --as Ann`,
		RunE: runChat,
	}
	cmd.Flags().String("as", "you", "your name in the chat")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Logs go to stderr at warn level so they do not mix with the chat.
	logCfg := cfg.Logging
	logCfg.Format = "text"
	if logCfg.Level == "" || logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	logger := newLogger(cmd, logCfg, os.Stderr)

	assistant.ResolveSecrets(cfg, logger)

	bot, err := assistant.New(cfg, logger)
	if err != nil {
		return err
	}

	userName, _ := cmd.Flags().GetString("as")
	history := ""
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".chimein_history")
	}
	con := console.New(console.Config{
		UserName:    userName,
		BotName:     cfg.Name,
		HistoryFile: history,
		Admin:       true,
	}, logger)
	if err := bot.ChannelManager().Register(con); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	color.New(color.FgHiBlack).Printf("Chatting with %s. Mention @%s to address it, /exit to leave.\n", cfg.Name, cfg.Name)

	select {
	case <-con.Done():
	case <-ctx.Done():
	}
	bot.Stop()
	return nil
}
