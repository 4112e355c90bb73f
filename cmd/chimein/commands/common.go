package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/chimein/pkg/chimein/assistant"
)

// errSetupDeclined is returned when no config exists and the user does not
// want to create one.
var errSetupDeclined = errors.New("configuration required: run 'chimein setup' first")

// loadConfig loads the config named by --config, or the first one found in
// the usual places. With no config at all it offers the setup wizard when
// running in a terminal.
func loadConfig(cmd *cobra.Command) (*assistant.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = assistant.FindConfigFile()
	}

	if path == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, "", errSetupDeclined
		}
		run := true
		err := huh.NewConfirm().
			Title("No config file found. Run the setup wizard now?").
			Affirmative("Yes").
			Negative("No").
			Value(&run).
			Run()
		if err != nil || !run {
			return nil, "", errSetupDeclined
		}
		if path, err = runSetupWizard(defaultConfigPath); err != nil {
			return nil, "", fmt.Errorf("setup: %w", err)
		}
	}

	cfg, err := assistant.LoadConfigFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config from %s: %w", path, err)
	}
	return cfg, path, nil
}

// newLogger builds the slog logger from the logging config. --verbose
// forces debug.
func newLogger(cmd *cobra.Command, cfg assistant.LoggingConfig, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := parseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
