// Package store selects the flyer.Store backend from configuration.
package store

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/phanxgames/flyer"
	"github.com/phanxgames/flyer/internal/config"
	"github.com/phanxgames/flyer/internal/store/memory"
	sqlitestore "github.com/phanxgames/flyer/internal/store/sqlite"
)

// Backend is a flyer.Store that holds a connection.
type Backend interface {
	flyer.Store
	Close() error
}

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "sqlite":
		return sqlitestore.Open(cfg.SQLite, log)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
