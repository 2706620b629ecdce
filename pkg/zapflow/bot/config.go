// Package bot – config.go defines the engine configuration tree. All
// sub-configs live with their packages; this file only composes them and
// carries the defaults.
package bot

import (
	"fmt"

	"github.com/jholhewres/zapflow/pkg/zapflow/channels/whatsapp"
	"github.com/jholhewres/zapflow/pkg/zapflow/directory"
	"github.com/jholhewres/zapflow/pkg/zapflow/export"
	"github.com/jholhewres/zapflow/pkg/zapflow/gateway"
	"github.com/jholhewres/zapflow/pkg/zapflow/mailer"
	"github.com/jholhewres/zapflow/pkg/zapflow/openai"
	"github.com/jholhewres/zapflow/pkg/zapflow/retention"
	"github.com/jholhewres/zapflow/pkg/zapflow/sandbox"
)

// Config is the full engine configuration.
type Config struct {
	// Name identifies the bot in logs and the gateway.
	Name string `yaml:"name"`

	// PromptFile holds the system prompt plus optional [TAG] message
	// overrides for the flow replies.
	PromptFile string `yaml:"prompt_file"`

	// MaxHistory bounds the per-chat conversation memory.
	MaxHistory int `yaml:"max_history"`

	// SessionDBPath is the SQLite file for chat sessions.
	SessionDBPath string `yaml:"session_db"`

	WhatsApp  whatsapp.Config  `yaml:"whatsapp"`
	OpenAI    openai.Config    `yaml:"openai"`
	Directory directory.Config `yaml:"directory"`
	Sandbox   sandbox.Config   `yaml:"sandbox"`
	Gateway   gateway.Config   `yaml:"gateway"`
	Mailer    mailer.Config    `yaml:"mailer"`
	Export    export.Config    `yaml:"export"`
	Retention retention.Config `yaml:"retention"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Name:          "ZapFlow",
		PromptFile:    "prompt.txt",
		MaxHistory:    10,
		SessionDBPath: "data/sessions.db",
		WhatsApp:      whatsapp.DefaultConfig(),
		OpenAI:        openai.DefaultConfig(),
		Sandbox:       sandbox.DefaultConfig(),
		Gateway:       gateway.DefaultConfig(),
		Retention:     retention.DefaultConfig(),
		Logging:       LoggingConfig{Level: "info", Format: "text"},
	}
}

// Validate checks the parts that cannot limp along with defaults.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required (set OPENAI_API_KEY)")
	}
	if c.MaxHistory <= 0 {
		return fmt.Errorf("max_history must be positive, got %d", c.MaxHistory)
	}
	return nil
}
