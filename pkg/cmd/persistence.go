// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence/file"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence/postgresql"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence/redis"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql", "sqlite", "redis", "rediss"}

// NewPersistence opens the pipeline state store named by databaseURL. The scheme selects
// the driver; a bare path is a file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Opening pipeline state store", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, databaseURL)
	case "redis", "rediss":
		return redis.NewPersistence(ctx, logger, databaseURL)
	case "file":
		if databaseURL == "" {
			return nil, fmt.Errorf("database url is required")
		}

		return file.NewPersistence(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %s", provider)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return provider
}
