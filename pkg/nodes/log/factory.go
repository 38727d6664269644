// Package log provides the logging node runner, the builtin used in
// development and tests.
package log

import (
	"context"

	"github.com/navio-ai/navio/pkg/protocol"
)

// Factory creates LogRunner instances.
type Factory struct{}

// NewFactory creates a new factory instance.
func NewFactory() protocol.NodeRunnerFactory {
	return &Factory{}
}

// Create creates a new LogRunner instance.
func (f *Factory) Create(_ context.Context, nodeID string, config map[string]any) (protocol.NodeRunner, error) {
	return NewLogRunner(nodeID, config)
}

// ID returns the factory ID.
func (f *Factory) ID() string {
	return "log"
}

// Name returns the factory name.
func (f *Factory) Name() string {
	return "Log"
}

// Description returns the factory description.
func (f *Factory) Description() string {
	return "Logs a static message at the configured level and passes its input through"
}

// Schema returns the JSON schema for Log node configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log.",
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"enum":        []string{"debug", "info", "warn", "error"},
				"default":     "info",
			},
		},
		"required": []string{"message"},
	}
}
