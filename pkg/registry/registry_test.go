package registry_test

import (
	"context"
	"testing"

	"github.com/navio-ai/navio/pkg/log"
	logfactory "github.com/navio-ai/navio/pkg/nodes/log"
	"github.com/navio-ai/navio/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry() *registry.Registry {
	reg := registry.NewRegistry(log.WithModule("test"))
	reg.Register(logfactory.NewFactory())

	return reg
}

func TestCreateValidatesConfigAgainstSchema(t *testing.T) {
	reg := newRegistry()

	runner, err := reg.Create(context.Background(), "log", "node-1", map[string]any{"message": "hello"})
	require.NoError(t, err)
	require.NotNil(t, runner)

	_, err = reg.Create(context.Background(), "log", "node-1", map[string]any{"level": "info"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node-1")

	_, err = reg.Create(context.Background(), "log", "node-1", map[string]any{"message": "hi", "level": "loud"})
	require.Error(t, err)
}

func TestCreateRejectsUnknownNodeType(t *testing.T) {
	reg := newRegistry()

	_, err := reg.Create(context.Background(), "teleport", "node-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestAvailableAndHealth(t *testing.T) {
	empty := registry.NewRegistry(log.WithModule("test"))

	message, healthy := empty.HealthCheck()
	assert.False(t, healthy)
	assert.Contains(t, message, "No node runners")

	reg := newRegistry()
	assert.Equal(t, []string{"log"}, reg.Available())

	message, healthy = reg.HealthCheck()
	assert.True(t, healthy)
	assert.Contains(t, message, "1 node runner")
}
