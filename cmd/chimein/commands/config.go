package commands

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/chimein/pkg/chimein/assistant"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration and manage credentials",
		Long: `Show the effective configuration or manage the credentials kept in the
OS keyring.

Keys: ` + strings.Join(assistant.SecretKeys, ", ") + `

Examples:
  chimein config show
  chimein config set-key discord_token
  chimein config delete-key giphy_api_key`,
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSetKeyCmd(), newConfigDeleteKeyCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, assistant.LoggingConfig{Level: "error", Format: "text"}, cmd.ErrOrStderr())
			assistant.ResolveSecrets(cfg, logger)

			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
			return writeMasked(cmd.OutOrStdout(), cfg)
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <key>",
		Short: "Store a credential in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := checkSecretKey(key); err != nil {
				return err
			}
			value, err := assistant.ReadPassword(key + " (hidden input): ")
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := assistant.StoreKeyring(key, value); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stored in the OS keyring.\n", key)
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key <key>",
		Short: "Remove a credential from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := checkSecretKey(key); err != nil {
				return err
			}
			if err := assistant.DeleteKeyring(key); err != nil {
				return fmt.Errorf("deleting from keyring: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed from the OS keyring.\n", key)
			return nil
		},
	}
}

func checkSecretKey(key string) error {
	if !slices.Contains(assistant.SecretKeys, key) {
		return fmt.Errorf("unknown key %q (valid: %s)", key, strings.Join(assistant.SecretKeys, ", "))
	}
	return nil
}

// writeMasked prints cfg as YAML with every credential masked.
func writeMasked(w io.Writer, cfg *assistant.Config) error {
	out := *cfg
	out.Discord.Token = mask(cfg.Discord.Token)
	out.Analyzer.APIKey = mask(cfg.Analyzer.APIKey)
	out.Generator.APIKey = mask(cfg.Generator.APIKey)
	out.GIF.APIKey = mask(cfg.GIF.APIKey)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

// mask keeps the last four characters of a secret.
func mask(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (examples: 90s, 3m)", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}
