package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chimein/pkg/chimein/assistant"
	"github.com/jholhewres/chimein/pkg/chimein/memory"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and edit the long-term memory",
		Long: `Read what the bot remembers about a chat: the most frequent keywords and
the facts learned about each member. Chat IDs have the form
<platform>:<chat>, e.g. discord:123456789.

Examples:
  chimein memory keywords discord:123456789 -n 20
  chimein memory facts discord:123456789 987654321
  chimein memory forget discord:123456789
  chimein memory prune`,
	}
	cmd.AddCommand(newMemoryKeywordsCmd(), newMemoryFactsCmd(), newMemoryForgetCmd(), newMemoryPruneCmd())
	return cmd
}

// withMemory opens the memory store from the config and runs fn.
func withMemory(cmd *cobra.Command, fn func(ctx context.Context, cfg *assistant.Config, store *memory.SQLiteStore) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Memory.Path); err != nil {
		return fmt.Errorf("memory database %s: %w", cfg.Memory.Path, err)
	}

	logger := newLogger(cmd, assistant.LoggingConfig{Level: "warn", Format: "text"}, cmd.ErrOrStderr())
	store, err := memory.NewSQLiteStore(cfg.Memory.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(cmd.Context(), cfg, store)
}

func newMemoryKeywordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords <chat-id>",
		Short: "List the most frequent keywords of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withMemory(cmd, func(ctx context.Context, _ *assistant.Config, store *memory.SQLiteStore) error {
				kws, err := store.TopKeywords(ctx, args[0], limit)
				if err != nil {
					return err
				}
				logged, err := store.MessageCount(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d messages logged.\n", logged)
				if len(kws) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No keywords yet.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEYWORD\tCOUNT")
				for _, kw := range kws {
					fmt.Fprintf(tw, "%s\t%d\n", kw.Keyword, kw.Count)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 10, "how many keywords to show")
	return cmd
}

func newMemoryFactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "facts <chat-id> <author-id>",
		Short: "List the facts remembered about a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(cmd, func(ctx context.Context, _ *assistant.Config, store *memory.SQLiteStore) error {
				facts, err := store.UserFacts(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if len(facts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No facts remembered.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tVALUE\tUPDATED")
				for _, f := range facts {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Key, f.Value, f.UpdatedAt.Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
}

func newMemoryForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <chat-id>",
		Short: "Erase everything remembered about a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(cmd, func(ctx context.Context, _ *assistant.Config, store *memory.SQLiteStore) error {
				if err := store.Forget(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Memory of %s erased.\n", args[0])
				return nil
			})
		},
	}
}

func newMemoryPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Run memory maintenance now (retention and keyword decay)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMemory(cmd, func(ctx context.Context, cfg *assistant.Config, store *memory.SQLiteStore) error {
				logger := newLogger(cmd, assistant.LoggingConfig{Level: "info", Format: "text"}, cmd.ErrOrStderr())
				assistant.NewMaintenance(store, cfg.Memory, logger).RunOnce(ctx)
				return nil
			})
		},
	}
}
