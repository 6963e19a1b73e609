// Package sqlite provides an embedded SQLite persistence implementation for review pipelines.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence/sqlbase"
	_ "modernc.org/sqlite"
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Persistence implements the persistence layer on a local SQLite database file.
type Persistence struct {
	*sqlbase.Store
}

// NewPersistence opens (creating if needed) the database at path. Both plain paths and
// sqlite:// URLs are accepted.
func NewPersistence(ctx context.Context, logger *slog.Logger, path string) (*Persistence, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		err := os.MkdirAll(dir, 0750)
		if err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	database, err := sql.Open("sqlite", "file:"+path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite serialises writers; a single connection avoids SQLITE_BUSY under load.
	database.SetMaxOpenConns(1)

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, sqlbase.SQLite, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		Store: sqlbase.NewStore(database, logger.With("module", "sqlite_persistence"), sqlbase.SQLite),
	}, nil
}
