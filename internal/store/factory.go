package store

import (
	"context"
	"fmt"
	"log/slog"

	"timebill/internal/config"
	"timebill/internal/ports"
)

// NewFromConfig creates a Store implementation based on the database config
// type.
func NewFromConfig(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (ports.Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "timebill.db"
		}
		return OpenSQLite(path, log)
	case "memory":
		return OpenSQLite(":memory:", log)
	case "mysql":
		return OpenMySQL(ctx, cfg.DSN, log)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
