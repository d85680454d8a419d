package cmd

import (
	"log/slog"

	"github.com/dukex/devflow/pkg/executors/subprocess"
	"github.com/dukex/devflow/pkg/registry"
)

// NewRegistry builds the executor registry with the built-in executor types
// plus any plugins found under pluginsPath.
func NewRegistry(logger *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)
	reg.RegisterExecutor(subprocess.NewFactory(logger))

	if pluginsPath == "" {
		return reg, nil
	}

	plugins, err := reg.LoadExecutorPlugins(pluginsPath)
	if err != nil {
		return nil, err
	}

	for _, plugin := range plugins {
		reg.RegisterExecutor(plugin)
	}

	return reg, nil
}
