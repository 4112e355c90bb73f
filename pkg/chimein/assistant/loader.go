package assistant

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
//
// Groups: 1 variable name, 2 modifier ("-" or "?"), 3 default or message.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// LoadConfigFromFile reads a YAML config. .env files are loaded first and
// ${VAR} references are expanded before parsing; a ${VAR:?msg} reference to
// an unset variable is an error. Relative paths are resolved against the
// config file's directory.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveRelativePaths(cfg, filepath.Dir(path))
	AuditSecrets(data, slog.Default())
	checkFilePermissions(path)
	return cfg, nil
}

// ParseConfig overlays YAML onto DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg as YAML with owner-only permissions. Secrets
// are never written: they belong in the keyring or the environment, so the
// file gets ${VAR} references instead.
func SaveConfigToFile(cfg *Config, path string) error {
	out := *cfg
	out.Discord.Token = secretRef(cfg.Discord.Token, "DISCORD_TOKEN")
	out.Analyzer.APIKey = secretRef(cfg.Analyzer.APIKey, providerEnvName(cfg.Analyzer.Provider, cfg.Analyzer.BaseURL))
	out.Generator.APIKey = secretRef(cfg.Generator.APIKey, providerEnvName(cfg.Generator.Provider, cfg.Generator.BaseURL))
	out.GIF.APIKey = secretRef(cfg.GIF.APIKey, "GIPHY_API_KEY")

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first config file found in the usual places,
// or "" if none exists.
func FindConfigFile() string {
	for _, p := range []string{
		"config.yaml",
		"config.yml",
		"chimein.yaml",
		"chimein.yml",
		"configs/config.yaml",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// AuditSecrets warns about credentials written in plain text in the config
// file instead of coming from the keyring or the environment.
func AuditSecrets(raw []byte, logger *slog.Logger) {
	type keyed struct {
		Token  string `yaml:"token"`
		APIKey string `yaml:"api_key"`
	}
	var file struct {
		Discord   keyed `yaml:"discord"`
		Analyzer  keyed `yaml:"analyzer"`
		Generator keyed `yaml:"generator"`
		GIF       keyed `yaml:"gif"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return
	}
	check := func(field, value string) {
		if looksLikeRealKey(value) {
			logger.Warn("secret appears to be hardcoded in config",
				"field", field,
				"hint", "store it with 'chimein config set-key' or use a ${VAR} reference")
		}
	}
	check("discord.token", file.Discord.Token)
	check("analyzer.api_key", file.Analyzer.APIKey)
	check("generator.api_key", file.Generator.APIKey)
	check("gif.api_key", file.GIF.APIKey)
}

// IsEnvReference reports whether s is an unexpanded ${VAR} reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${")
}

// ---------- internal ----------

// loadEnvFiles loads .env files next to the config and in the working
// directory. Existing variables are never overwritten.
func loadEnvFiles(configDir string) {
	seen := make(map[string]bool)
	for _, dir := range []string{configDir, "."} {
		for _, name := range []string{".env.local", ".env"} {
			p := filepath.Clean(filepath.Join(dir, name))
			if seen[p] {
				continue
			}
			seen[p] = true
			_ = godotenv.Load(p)
		}
	}
}

// expandEnv replaces environment references. Unset plain references are
// left in place so ResolveSecrets can tell them apart from real values.
func expandEnv(input string) (string, error) {
	var errs []error
	out := envRef.ReplaceAllStringFunc(input, func(match string) string {
		m := envRef.FindStringSubmatch(match)
		name, mod, arg := m[1], m[2], m[3]
		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		switch mod {
		case "-":
			return arg
		case "?":
			if arg == "" {
				arg = "required environment variable not set"
			}
			errs = append(errs, fmt.Errorf("%s: %s", name, arg))
			return ""
		default:
			return match
		}
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

func resolveRelativePaths(cfg *Config, configDir string) {
	cfg.Transcript.Dir = resolvePath(cfg.Transcript.Dir, configDir)
	cfg.Memory.Path = resolvePath(cfg.Memory.Path, configDir)
}

// resolvePath makes p absolute relative to base, expanding a leading ~/.
func resolvePath(p, base string) string {
	if p == "" {
		return p
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, rest)
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func providerEnvName(provider, baseURL string) string {
	u := strings.ToLower(baseURL)
	switch {
	case strings.EqualFold(provider, "anthropic"):
		return "ANTHROPIC_API_KEY"
	case strings.Contains(u, "mistral"):
		return "MISTRAL_API_KEY"
	case strings.Contains(u, "googleapis"):
		return "GOOGLE_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// secretRef replaces a secret with a reference to its environment name.
func secretRef(value, envName string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	return "${" + envName + "}"
}

func looksLikeRealKey(s string) bool {
	if s == "" || IsEnvReference(s) {
		return false
	}
	return strings.HasPrefix(s, "sk-") || len(s) > 20
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", "chmod 600 "+path)
	}
}
