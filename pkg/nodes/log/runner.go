package log

import (
	"context"
	"errors"
	"log/slog"

	"github.com/navio-ai/navio/pkg/protocol"
)

// LogRunner logs a configured message and passes its input through
// unchanged.
type LogRunner struct {
	nodeID  string
	message string
	level   slog.Level
}

func NewLogRunner(nodeID string, config map[string]any) (*LogRunner, error) {
	message, _ := config["message"].(string)
	if message == "" {
		return nil, errors.New("log node requires a message")
	}

	level := slog.LevelInfo

	switch config["level"] {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return &LogRunner{
		nodeID:  nodeID,
		message: message,
		level:   level,
	}, nil
}

func (r *LogRunner) Run(ctx context.Context, input map[string]any) (*protocol.NodeResult, error) {
	slog.Log(ctx, r.level, r.message, "node_id", r.nodeID)

	return &protocol.NodeResult{Output: input}, nil
}
