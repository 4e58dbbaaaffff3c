package extension

import (
	"context"
	"fmt"

	"github.com/xraph/storekit/config"
	"github.com/xraph/storekit/store"
	"github.com/xraph/storekit/store/memory"
	"github.com/xraph/storekit/store/mongo"
	"github.com/xraph/storekit/store/postgres"
	"github.com/xraph/storekit/store/sqlite"
)

// OpenStore opens the store backend selected by cfg. The caller owns the
// returned store; the manager closes it on Stop.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil

	case config.DriverSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = config.DefaultConfig().Store.DSN
		}
		s, err := sqlite.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("storekit: open sqlite store: %w", err)
		}
		return s, nil

	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("storekit: open postgres store: %w", err)
		}
		return s, nil

	case config.DriverMongo:
		s, err := mongo.Open(cfg.DSN, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("storekit: open mongo store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("storekit: unknown store driver %q", cfg.Driver)
}
