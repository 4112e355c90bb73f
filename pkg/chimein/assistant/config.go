package assistant

import (
	"time"

	"github.com/jholhewres/chimein/pkg/chimein/channels/discord"
	"github.com/jholhewres/chimein/pkg/chimein/gif"
	"github.com/jholhewres/chimein/pkg/chimein/inference"
	"github.com/jholhewres/chimein/pkg/chimein/memory"
	"github.com/jholhewres/chimein/pkg/chimein/pipeline"
	"github.com/jholhewres/chimein/pkg/chimein/telemetry"
	"github.com/jholhewres/chimein/pkg/chimein/transcript"
)

// Config is the top-level configuration, usually loaded from config.yaml.
type Config struct {
	// Name is the bot's display name. It is used in the persona and
	// stripped from replies that echo it.
	Name string `yaml:"name"`

	// Persona overrides the generator system prompt.
	Persona string `yaml:"persona,omitempty"`

	// Language the bot replies in.
	Language string `yaml:"language"`

	// CommandPrefix marks admin commands (default "!").
	CommandPrefix string `yaml:"command_prefix"`

	Discord    discord.Config    `yaml:"discord"`
	Analyzer   inference.Config  `yaml:"analyzer"`
	Generator  inference.Config  `yaml:"generator"`
	GIF        gif.Config        `yaml:"gif"`
	Pipeline   pipeline.Config   `yaml:"pipeline"`
	Transcript transcript.Config `yaml:"transcript"`
	Memory     memory.Config     `yaml:"memory"`
	Logging    LoggingConfig     `yaml:"logging"`
	Telemetry  telemetry.Config  `yaml:"telemetry"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with the defaults of the bot: a
// Gemini-compatible analyzer and a Mistral generator, both reached through
// their OpenAI-compatible endpoints.
func DefaultConfig() *Config {
	return &Config{
		Name:          "Lena",
		Language:      "Russian",
		CommandPrefix: "!",
		Discord:       discord.DefaultConfig(),
		Analyzer: inference.Config{
			Provider:   inference.ProviderOpenAI,
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:      "gemma-3-27b-it",
			Timeout:    20 * time.Second,
			MaxRetries: 2,
			MaxTokens:  200,
		},
		Generator: inference.Config{
			Provider:   inference.ProviderOpenAI,
			BaseURL:    "https://api.mistral.ai/v1",
			Model:      "mistral-small-latest",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			MaxTokens:  150,
		},
		GIF:        gif.DefaultConfig(),
		Pipeline:   pipeline.DefaultConfig(),
		Transcript: transcript.DefaultConfig(),
		Memory:     memory.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// pipelineConfig derives the pipeline configuration, filling the persona
// fields from the top level.
func (c *Config) pipelineConfig() pipeline.Config {
	pc := c.Pipeline
	pc.BotName = c.Name
	pc.Persona = c.Persona
	if pc.Persona == "" {
		lang := c.Language
		if lang == "" {
			lang = "Russian"
		}
		pc.Persona = pipeline.DefaultPersona(c.Name, lang)
	}
	return pc
}
