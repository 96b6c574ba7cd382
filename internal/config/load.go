package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns ~/.pltm/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".pltm", "config.yaml"), nil
}

// Load builds a Config from defaults, an optional YAML file, a .env file,
// and environment overrides, in that order.
//
// An explicit path that does not exist is an error; the implicit default
// path is allowed to be missing.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("PLTM_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		if p, err := DefaultConfigPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Ignore error if the file doesn't exist
	_ = godotenv.Load()

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PLTM_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PLTM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PLTM_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v, err := strconv.Atoi(os.Getenv("PLTM_PORT")); err == nil && v > 0 {
		cfg.Server.Port = v
	}
	if v, err := strconv.ParseBool(os.Getenv("PLTM_META_JUDGE")); err == nil {
		cfg.Jury.EnableMetaJudge = v
	}
	if v := os.Getenv("PLTM_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.LLM.OllamaURL = v
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.AnthropicKey = key
		if os.Getenv("PLTM_LLM_PROVIDER") == "" {
			cfg.LLM.Provider = "anthropic"
		}
	}
}
