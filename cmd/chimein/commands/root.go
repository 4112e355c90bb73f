// Package commands implements the chimein CLI with cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chimein",
		Short: "chimein - a Discord bot that joins the conversation",
		Long: `chimein watches group chats and, every few messages or when addressed,
decides whether to chime in. A small model reads the mood of the chat and a
larger one writes the reply, with a GIF now and then.

Examples:
  chimein setup
  chimein serve
  chimein chat
  chimein memory keywords discord:123456789`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newMemoryCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
