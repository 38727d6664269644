package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/navio-ai/navio/pkg/persistence"
	"github.com/navio-ai/navio/pkg/persistence/file"
	"github.com/navio-ai/navio/pkg/persistence/postgresql"
)

// NewPersistence builds the storage layer from a database URL. A
// postgres:// URL selects PostgreSQL; anything else is treated as a file
// persistence root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgresql: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
