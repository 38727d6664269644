package cmd

import (
	"log/slog"

	logrunner "github.com/navio-ai/navio/pkg/nodes/log"
	"github.com/navio-ai/navio/pkg/registry"
)

// NewRegistry builds the node runner registry with the builtin runners.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.Register(logrunner.NewFactory())

	return reg
}
