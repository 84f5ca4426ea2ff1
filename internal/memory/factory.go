package memory

import (
	"context"
	"strings"
)

type Config struct {
	DatabaseURL string
	SQLitePath  string
	Dimensions  int
}

// NewStore picks postgres when a database URL is configured, then sqlite when
// a file path is configured, otherwise in-memory.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return NewPostgresStore(ctx, cfg.DatabaseURL, cfg.Dimensions)
	}
	if strings.TrimSpace(cfg.SQLitePath) != "" {
		return NewSQLiteStore(cfg.SQLitePath)
	}
	return NewInMemoryStore(), nil
}

// Describe names the concrete store for startup logs.
func Describe(s Store) string {
	switch s.(type) {
	case *PostgresStore:
		return "postgres"
	case *SQLiteStore:
		return "sqlite"
	case *InMemoryStore:
		return "memory"
	default:
		return "custom"
	}
}
