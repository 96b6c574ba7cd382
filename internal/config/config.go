package config

import (
	"fmt"
	"time"
)

// Config holds all pltm configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Jury      JuryConfig      `yaml:"jury"`
	Index     IndexConfig     `yaml:"index"`
	Migration MigrationConfig `yaml:"migration"`
	Decay     DecayConfig     `yaml:"decay"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Bind           string  `yaml:"bind"`
	Port           int     `yaml:"port"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"` // resolved at runtime via store.DefaultDBPath() when empty
	BusyRetries   int    `yaml:"busy_retries"`
	BusyBackoffMS int    `yaml:"busy_backoff_ms"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

type LLMConfig struct {
	Provider       string `yaml:"provider"` // "claude-cli", "anthropic", "ollama"
	Model          string `yaml:"model"`    // e.g. "haiku"
	OllamaURL      string `yaml:"ollama_url"`
	OllamaModel    string `yaml:"ollama_model"`    // e.g. "llama3.2"
	EmbeddingModel string `yaml:"embedding_model"` // e.g. "nomic-embed-text"
	AnthropicKey   string `yaml:"anthropic_key"`
}

// JuryConfig controls admission of typed memories.
type JuryConfig struct {
	EnableMetaJudge      bool    `yaml:"enable_meta_judge"`
	MinContentLength     int     `yaml:"min_content_length"`
	MetaJudgeTimeoutMS   int     `yaml:"meta_judge_timeout_ms"`
	QuarantineMultiplier float64 `yaml:"quarantine_multiplier"`
}

// MetaJudgeTimeout returns the meta-judge deadline as a duration.
func (j JuryConfig) MetaJudgeTimeout() time.Duration {
	return time.Duration(j.MetaJudgeTimeoutMS) * time.Millisecond
}

type IndexConfig struct {
	BatchSize int    `yaml:"batch_size"`
	Workers   int    `yaml:"workers"`
	Embedder  string `yaml:"embedder"` // "auto", "ollama", "tfidf"
	CacheSize int    `yaml:"cache_size"`
	Schedule  string `yaml:"schedule"` // cron spec, empty disables
}

type MigrationConfig struct {
	BatchSize int    `yaml:"batch_size"`
	Schedule  string `yaml:"schedule"`
}

// DecayConfig overrides the built-in per-type decay rates.
type DecayConfig struct {
	MemoryRates map[string]float64 `yaml:"memory_rates"` // per day
	AtomRates   map[string]float64 `yaml:"atom_rates"`   // per hour
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:           "127.0.0.1",
			Port:           37778,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Database: DatabaseConfig{
			BusyRetries:   5,
			BusyBackoffMS: 50,
			BusyTimeoutMS: 10000,
		},
		LLM: LLMConfig{
			Provider:       "claude-cli",
			Model:          "haiku",
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "llama3.2",
			EmbeddingModel: "nomic-embed-text",
		},
		Jury: JuryConfig{
			EnableMetaJudge:      false,
			MinContentLength:     10,
			MetaJudgeTimeoutMS:   3000,
			QuarantineMultiplier: 0.5,
		},
		Index: IndexConfig{
			BatchSize: 32,
			Workers:   4,
			Embedder:  "auto",
			CacheSize: 1024,
			Schedule:  "@every 10m",
		},
		Migration: MigrationConfig{
			BatchSize: 100,
			Schedule:  "@every 1h",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Validate rejects values that would make the engine misbehave.
func (c *Config) Validate() error {
	if c.Jury.MinContentLength < 0 {
		return fmt.Errorf("jury.min_content_length must be >= 0, got %d", c.Jury.MinContentLength)
	}
	if c.Jury.QuarantineMultiplier <= 0 || c.Jury.QuarantineMultiplier >= 1 {
		return fmt.Errorf("jury.quarantine_multiplier must be in (0,1), got %v", c.Jury.QuarantineMultiplier)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batch_size must be > 0, got %d", c.Index.BatchSize)
	}
	if c.Migration.BatchSize <= 0 {
		return fmt.Errorf("migration.batch_size must be > 0, got %d", c.Migration.BatchSize)
	}
	if c.Database.BusyRetries < 0 {
		return fmt.Errorf("database.busy_retries must be >= 0, got %d", c.Database.BusyRetries)
	}
	for name, r := range c.Decay.MemoryRates {
		if r < 0 {
			return fmt.Errorf("decay.memory_rates.%s must be >= 0", name)
		}
	}
	for name, r := range c.Decay.AtomRates {
		if r < 0 {
			return fmt.Errorf("decay.atom_rates.%s must be >= 0", name)
		}
	}
	return nil
}
