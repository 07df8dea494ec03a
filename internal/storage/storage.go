// Package storage opens the configured LifetimeStore backend.
package storage

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
	"github.com/tjfontaine/hass-matrix-gateway/internal/storage/memory"
	"github.com/tjfontaine/hass-matrix-gateway/internal/storage/sqldb"
)

// Config selects and configures the backend.
type Config struct {
	Driver string // sqlite, postgres, pgx or memory
	DSN    string
}

// Open returns the LifetimeStore for cfg.
func Open(cfg Config) (ports.LifetimeStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return memory.New(), nil
	case "", "sqlite", "sqlite3":
		return sqldb.New(sqldb.Config{Driver: "sqlite", DSN: cfg.DSN})
	case "postgres", "postgresql", "pgx":
		return sqldb.New(sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
