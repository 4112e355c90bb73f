package assistant

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "chimein"

// Keyring entry names.
const (
	KeyDiscordToken    = "discord_token"
	KeyAnalyzerAPIKey  = "analyzer_api_key"
	KeyGeneratorAPIKey = "generator_api_key"
	KeyGiphyAPIKey     = "giphy_api_key"
)

// SecretKeys lists every keyring entry the bot reads.
var SecretKeys = []string{KeyDiscordToken, KeyAnalyzerAPIKey, KeyGeneratorAPIKey, KeyGiphyAPIKey}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring returns a secret from the OS keyring, or "" if absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring. Deleting a missing
// entry is not an error.
func DeleteKeyring(key string) error {
	err := keyring.Delete(keyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// KeyringAvailable reports whether the OS keyring is usable.
func KeyringAvailable() bool {
	const probe = "__chimein_probe__"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

// envSecrets are the standard environment names for the bot's credentials.
type envSecrets struct {
	DiscordToken    string `envconfig:"DISCORD_TOKEN"`
	GoogleAPIKey    string `envconfig:"GOOGLE_API_KEY"`
	MistralAPIKey   string `envconfig:"MISTRAL_API_KEY"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	GiphyAPIKey     string `envconfig:"GIPHY_API_KEY"`
}

// providerKey picks the environment credential for an inference endpoint.
func (e envSecrets) providerKey(provider, baseURL string) string {
	switch providerEnvName(provider, baseURL) {
	case "ANTHROPIC_API_KEY":
		return e.AnthropicAPIKey
	case "MISTRAL_API_KEY":
		return e.MistralAPIKey
	case "GOOGLE_API_KEY":
		return e.GoogleAPIKey
	default:
		return e.OpenAIAPIKey
	}
}

// ResolveSecrets fills the credentials of cfg using the priority chain
// OS keyring, then environment, then the config value itself. Values that
// are still unexpanded ${VAR} references count as missing.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	var env envSecrets
	if err := envconfig.Process("", &env); err != nil {
		logger.Warn("reading secrets from environment failed", "error", err)
	}

	resolve := func(name, keyringKey, envValue string, target *string) {
		stored := GetKeyring(keyringKey)
		switch {
		case stored != "":
			*target = stored
			logger.Debug("secret loaded from OS keyring", "secret", name)
		case envValue != "":
			*target = envValue
			logger.Debug("secret loaded from environment", "secret", name)
		case *target != "" && !IsEnvReference(*target):
			logger.Debug("secret loaded from config", "secret", name)
		default:
			*target = ""
		}
	}

	resolve("discord_token", KeyDiscordToken, env.DiscordToken, &cfg.Discord.Token)
	resolve("analyzer_api_key", KeyAnalyzerAPIKey, env.providerKey(cfg.Analyzer.Provider, cfg.Analyzer.BaseURL), &cfg.Analyzer.APIKey)
	resolve("generator_api_key", KeyGeneratorAPIKey, env.providerKey(cfg.Generator.Provider, cfg.Generator.BaseURL), &cfg.Generator.APIKey)
	resolve("giphy_api_key", KeyGiphyAPIKey, env.GiphyAPIKey, &cfg.GIF.APIKey)
}

// ReadPassword prompts for a secret without echoing it.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
