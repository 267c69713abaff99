package storage

import (
	"fmt"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/config"
)

// NewStore builds the store for a driver name: memory (or empty), sqlite or postgres
func NewStore(driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case DriverSQLite, DriverPostgres:
		return NewSQLStore(driver, dsn)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", driver)
	}
}

// FromConfig builds the store for the storage section; a nil section means memory
func FromConfig(cfg *config.Storage) (Store, error) {
	if cfg == nil {
		return NewMemoryStore(), nil
	}
	return NewStore(cfg.Driver, cfg.DSN)
}
