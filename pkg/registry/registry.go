// Package registry maps node types to their runner factories and validates
// node configuration against each factory's schema.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/navio-ai/navio/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.NodeRunnerFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[string]protocol.NodeRunnerFactory),
	}
}

func (r *Registry) Register(factory protocol.NodeRunnerFactory) {
	r.factories[factory.ID()] = factory
}

// Create validates config against the factory schema and builds a runner.
func (r *Registry) Create(ctx context.Context, nodeType, nodeID string, config map[string]any) (protocol.NodeRunner, error) {
	factory, ok := r.factories[nodeType]
	if !ok {
		return nil, fmt.Errorf("node type '%s' not registered", nodeType)
	}

	if err := r.validateConfig(factory, config); err != nil {
		return nil, fmt.Errorf("invalid configuration for node %s: %w", nodeID, err)
	}

	return factory.Create(ctx, nodeID, config)
}

// Available returns the registered node type ids.
func (r *Registry) Available() []string {
	types := make([]string, 0, len(r.factories))
	for nodeType := range r.factories {
		types = append(types, nodeType)
	}

	return types
}

// HealthCheck reports whether the registry has any runners registered.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.factories) == 0 {
		return "No node runners registered", false
	}

	return fmt.Sprintf("%d node runner(s) registered", len(r.factories)), true
}

func (r *Registry) validateConfig(factory protocol.NodeRunnerFactory, config map[string]any) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		for _, desc := range result.Errors() {
			r.logger.Warn("Node configuration rejected",
				"node_type", factory.ID(),
				"violation", desc.String(),
			)
		}

		return fmt.Errorf("configuration does not match schema for node type '%s'", factory.ID())
	}

	return nil
}
