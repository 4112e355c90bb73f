package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/chimein/pkg/chimein/assistant"
)

const defaultConfigPath = "config.yaml"

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Create config.yaml step by step: bot name, language, models and
credentials. Credentials go to the OS keyring when it is available and are
never written to the config file.

Examples:
  chimein setup
  chimein setup --output ./configs/config.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			path, err := runSetupWizard(out)
			if err != nil {
				return err
			}
			fmt.Printf("Config written to %s. Start the bot with: chimein serve\n", path)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", defaultConfigPath, "where to write the config")
	return cmd
}

// setupAnswers collects the wizard fields.
type setupAnswers struct {
	name         string
	language     string
	guilds       string
	discordToken string
	analyzerKey  string
	generatorKey string
	giphyKey     string
	cooldown     string
}

// runSetupWizard asks for the essentials and writes the config to path.
func runSetupWizard(path string) (string, error) {
	cfg := assistant.DefaultConfig()
	ans := setupAnswers{
		name:     cfg.Name,
		language: cfg.Language,
		cooldown: cfg.Pipeline.Cooldown.String(),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Description("Used in the persona; members mention the bot with @name.").
				Value(&ans.name).
				Validate(notEmpty("name")),
			huh.NewSelect[string]().
				Title("Reply language").
				Options(huh.NewOptions("Russian", "English", "Portuguese", "Spanish")...).
				Value(&ans.language),
			huh.NewInput().
				Title("Cooldown between unprompted replies").
				Value(&ans.cooldown).
				Validate(validDuration),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				EchoMode(huh.EchoModePassword).
				Value(&ans.discordToken),
			huh.NewInput().
				Title("Allowed guild IDs").
				Description("Comma separated. Empty allows every guild the bot is in.").
				Value(&ans.guilds),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Google AI key (analyzer: "+cfg.Analyzer.Model+")").
				EchoMode(huh.EchoModePassword).
				Value(&ans.analyzerKey),
			huh.NewInput().
				Title("Mistral key (generator: "+cfg.Generator.Model+")").
				EchoMode(huh.EchoModePassword).
				Value(&ans.generatorKey),
			huh.NewInput().
				Title("Giphy key").
				Description("Optional. Without it the bot never sends GIFs.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.giphyKey),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}

	if err := ans.apply(cfg); err != nil {
		return "", err
	}
	storeSecrets(map[string]string{
		assistant.KeyDiscordToken:    ans.discordToken,
		assistant.KeyAnalyzerAPIKey:  ans.analyzerKey,
		assistant.KeyGeneratorAPIKey: ans.generatorKey,
		assistant.KeyGiphyAPIKey:     ans.giphyKey,
	})

	if path == "" {
		path = defaultConfigPath
	}
	if err := assistant.SaveConfigToFile(cfg, path); err != nil {
		return "", err
	}
	return path, nil
}

// apply copies the answers into cfg. Secrets become environment references
// so the file stays free of credentials.
func (a setupAnswers) apply(cfg *assistant.Config) error {
	cfg.Name = strings.TrimSpace(a.name)
	cfg.Language = a.language
	cooldown, err := parseDuration(a.cooldown)
	if err != nil {
		return err
	}
	cfg.Pipeline.Cooldown = cooldown
	cfg.Discord.AllowedGuilds = splitList(a.guilds)

	cfg.Discord.Token = "${DISCORD_TOKEN}"
	cfg.Analyzer.APIKey = "${GOOGLE_API_KEY}"
	cfg.Generator.APIKey = "${MISTRAL_API_KEY}"
	cfg.GIF.APIKey = "${GIPHY_API_KEY}"
	return nil
}

// storeSecrets saves non-empty secrets in the OS keyring, or explains how
// to provide them through the environment when the keyring is unavailable.
func storeSecrets(secrets map[string]string) {
	available := assistant.KeyringAvailable()
	for key, value := range secrets {
		if value == "" {
			continue
		}
		if !available {
			fmt.Printf("[!] OS keyring unavailable: export %s in the environment or a .env file.\n", envNameFor(key))
			continue
		}
		if err := assistant.StoreKeyring(key, value); err != nil {
			fmt.Printf("[!] Could not store %s in the keyring: %v\n", key, err)
			continue
		}
		fmt.Printf("Stored %s in the OS keyring.\n", key)
	}
}

func envNameFor(key string) string {
	switch key {
	case assistant.KeyDiscordToken:
		return "DISCORD_TOKEN"
	case assistant.KeyAnalyzerAPIKey:
		return "GOOGLE_API_KEY"
	case assistant.KeyGeneratorAPIKey:
		return "MISTRAL_API_KEY"
	case assistant.KeyGiphyAPIKey:
		return "GIPHY_API_KEY"
	default:
		return strings.ToUpper(key)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validDuration(s string) error {
	_, err := parseDuration(s)
	return err
}
