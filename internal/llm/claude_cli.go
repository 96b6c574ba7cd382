package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ClaudeCLI runs one-shot `claude -p` subprocesses. The process is killed
// when ctx ends, so the judge timeout applies to it directly.
type ClaudeCLI struct {
	model string
	bin   string
}

// NewClaudeCLI returns a backend that invokes the claude binary from PATH.
func NewClaudeCLI(model string) *ClaudeCLI {
	return &ClaudeCLI{model: model, bin: "claude"}
}

func (c *ClaudeCLI) Complete(ctx context.Context, prompt string) (*Response, error) {
	cmd := exec.CommandContext(ctx, c.bin, "-p", "--model", c.model, "--max-turns", "1")
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = filterEnv(os.Environ())

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("claude cli exit %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("claude cli: %w", err)
	}
	return &Response{Content: strings.TrimSpace(string(out)), Provider: "claude-cli"}, nil
}

// filterEnv drops CLAUDE_* variables so the child starts outside any
// parent session.
func filterEnv(env []string) []string {
	kept := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDE_") {
			continue
		}
		kept = append(kept, kv)
	}
	return kept
}
