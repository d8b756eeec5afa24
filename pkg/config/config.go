package config

import (
	"fmt"
	"net/url"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for memory-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"memory"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"memory_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`

	// URL overrides the discrete fields when set.
	URL string `yaml:"-" env:"DATABASE_URL"`
}

// LLMConfig holds chat-completion and embedding provider configuration.
type LLMConfig struct {
	// Provider selects the chat-completion backend: "openai" or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`

	// OpenAI settings. The OpenAI endpoint also serves embeddings
	// regardless of the chat provider.
	OpenAIBaseURL  string `yaml:"openai_base_url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	OpenAIModel    string `yaml:"openai_model" env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
	OpenAIAPIKey   string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
	EmbeddingModel string `yaml:"embedding_model" env:"OPENAI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`

	// Anthropic settings (used when Provider == "anthropic").
	AnthropicModel  string `yaml:"anthropic_model" env:"ANTHROPIC_MODEL" env-default:"claude-sonnet-4-20250514"`
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD, OPENAI_API_KEY,
// ANTHROPIC_API_KEY) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validate checks cross-field constraints that cleanenv cannot express.
func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q (want openai or anthropic)", c.LLM.Provider)
	}
	if c.LLM.Provider == "anthropic" && c.LLM.AnthropicAPIKey == "" && c.Env != "local" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when llm provider is anthropic")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
// DATABASE_URL takes precedence over the discrete fields. A loopback host
// is remapped when running inside a container so a Postgres instance on
// the host machine stays reachable.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
