package main

import (
	"context"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	tollgatestore "github.com/xraph/tollgate/store"
	"github.com/xraph/tollgate/store/memory"
	"github.com/xraph/tollgate/store/mongo"
	"github.com/xraph/tollgate/store/postgres"
	"github.com/xraph/tollgate/store/sqlite"
)

// Database drivers accepted in DATABASE_DRIVER.
const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMongo    = "mongo"
)

// openStore opens the store selected by cfg. The caller closes it.
func openStore(ctx context.Context, cfg *Config) (tollgatestore.Store, error) {
	switch name := cfg.DatabaseDriverName(); name {
	case driverMemory:
		return memory.New(), nil

	case driverPostgres:
		drv := pgdriver.New()
		if err := drv.Open(ctx, cfg.DatabaseURL, driver.WithPoolSize(cfg.DatabasePoolSize)); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			_ = drv.Close()
			return nil, err
		}
		return postgres.New(db), nil

	case driverSQLite:
		drv := sqlitedriver.New()
		// SQLite has a single writer; one connection avoids SQLITE_BUSY.
		if err := drv.Open(ctx, cfg.DatabaseURL, driver.WithPoolSize(1)); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			_ = drv.Close()
			return nil, err
		}
		return sqlite.New(db), nil

	case driverMongo:
		drv := mongodriver.New()
		if err := drv.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			_ = drv.Close()
			return nil, err
		}
		return mongo.New(db), nil

	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER %q", name)
	}
}
