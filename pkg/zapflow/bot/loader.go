// Package bot – loader.go loads the YAML configuration with credential
// resolution through environment variables and .env files.
package bot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and bare $VAR references
// in config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads a YAML config file, expanding environment
// variables first. .env and .env.local are loaded when present and never
// overwrite variables already set in the environment.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := ParseConfig([]byte(expandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)

	return cfg, nil
}

// ParseConfig parses YAML bytes over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"zapflow.yaml",
		"zapflow.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files. godotenv does not overwrite existing
// environment variables.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default} and $VAR references with
// environment values. Unset variables without a default keep the
// placeholder so the failure is visible downstream.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, defaultValue, bareVar := sub[1], sub[2], sub[3]

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if strings.Contains(match, ":-") {
			return defaultValue
		}
		return match
	})
}

// resolveSecrets fills empty or unresolved secrets from well-known
// environment variables.
func resolveSecrets(cfg *Config) {
	if cfg.OpenAI.APIKey == "" || isEnvReference(cfg.OpenAI.APIKey) {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.OpenAI.APIKey = key
		}
	}
	if cfg.Directory.URL == "" || isEnvReference(cfg.Directory.URL) {
		if url := os.Getenv("DATABASE_URL"); url != "" {
			cfg.Directory.URL = url
		}
	}
	if cfg.Mailer.Password == "" || isEnvReference(cfg.Mailer.Password) {
		if pw := os.Getenv("SMTP_PASSWORD"); pw != "" {
			cfg.Mailer.Password = pw
		}
	}
}

// resolveRelativePaths anchors file paths on the config file's directory
// so startup does not depend on the working directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	cfg.PromptFile = resolvePath(cfg.PromptFile, dir)
	cfg.SessionDBPath = resolvePath(cfg.SessionDBPath, dir)
	cfg.WhatsApp.DatabasePath = resolvePath(cfg.WhatsApp.DatabasePath, dir)
	cfg.Sandbox.ScriptsDir = resolvePath(cfg.Sandbox.ScriptsDir, dir)
	cfg.Export.Path = resolvePath(cfg.Export.Path, dir)
}

func resolvePath(path, configDir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

func isEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}
