package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/Alby2007/PLTM-sub001/internal/config"
)

// Client completes a single prompt. Callers bound the call with ctx; the
// meta-judge always passes a deadline.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response is one completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

const (
	defaultCLIModel       = "haiku"
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
	defaultOllamaURL      = "http://localhost:11434"
	defaultOllamaModel    = "llama3.2"
)

// ErrMissingKey is returned when the anthropic provider has no API key.
var ErrMissingKey = errors.New("anthropic provider requires ANTHROPIC_API_KEY or llm.anthropic_key")

// NewClient picks a backend from cfg.Provider. "none" and "" return a nil
// client, which leaves the jury on rule checks alone.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "none", "":
		return nil, nil
	case "claude-cli":
		return NewClaudeCLI(orDefault(cfg.Model, defaultCLIModel)), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, ErrMissingKey
		}
		model := cfg.Model
		if model == "" || model == defaultCLIModel {
			model = defaultAnthropicModel
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "ollama":
		return NewOllama(orDefault(cfg.OllamaURL, defaultOllamaURL), orDefault(cfg.OllamaModel, defaultOllamaModel)), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
