package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Groq      GroqConfig      `koanf:"groq"`
	Database  DatabaseConfig  `koanf:"database"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Agent     AgentConfig     `koanf:"agent"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type GroqConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type SecretsConfig struct {
	// EncryptionKey is a base64-encoded 32-byte key used to encrypt
	// tool environments at rest. Empty disables encryption.
	EncryptionKey string `koanf:"encryption_key"`
}

type AgentConfig struct {
	MaxToolRounds int `koanf:"max_tool_rounds"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Load reads configuration from an optional YAML file and then the
// FORGE_ environment, environment taking precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("FORGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "FORGE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("database.path") {
		k.Set("database.path", "engine.db")
	}
	if !k.Exists("agent.max_tool_rounds") {
		k.Set("agent.max_tool_rounds", 8)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
