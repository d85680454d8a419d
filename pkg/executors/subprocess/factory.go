package subprocess

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/devflow/pkg/protocol"
)

// ExecutorType identifies this executor in pipeline configuration.
const ExecutorType = "subprocess"

// Factory creates subprocess executors from run configuration.
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a subprocess executor factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger}
}

func (f *Factory) ID() string {
	return ExecutorType
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal executor config: %w", err)
	}

	var parsed Config

	err = json.Unmarshal(raw, &parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor config: %w", err)
	}

	if parsed.Command == "" {
		return nil, errors.New("subprocess executor requires a command")
	}

	return NewExecutor(parsed, f.logger), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Executable that performs one phase per invocation",
			},
			"args": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"workdir": map[string]any{
				"type": "string",
			},
			"env": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"required": []any{"command"},
	}
}
