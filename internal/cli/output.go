package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/config"
)

// newLogger builds the process logger from the log section.
func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// printOK writes {"ok": true, ...fields} to stdout.
func printOK(cmd *cobra.Command, fields map[string]any) error {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["ok"] = true
	return printJSON(cmd, body)
}

// fail writes {"ok": false, "err": ...} to stdout and returns err so the
// process exits non-zero.
func fail(cmd *cobra.Command, err error) error {
	_ = printJSON(cmd, map[string]any{"ok": false, "err": err.Error()})
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
