package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	Name    string
	Version string
	Up      string
}

// Migrations is the ordered schema history for the PostgreSQL store.
var Migrations = []migration{
	{
		Name:    "create_storekit_flags",
		Version: "20260101000001",
		Up: `
CREATE TABLE IF NOT EXISTS storekit_flags (
    key        TEXT PRIMARY KEY,
    value      BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		Name:    "index_storekit_flags_updated_at",
		Version: "20260101000002",
		Up:      `CREATE INDEX IF NOT EXISTS idx_storekit_flags_updated_at ON storekit_flags (updated_at);`,
	},
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS storekit_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range Migrations {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO storekit_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
				m.Version, m.Name,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil // already applied
			}
			_, err = tx.Exec(ctx, m.Up)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", m.Name, err)
		}
	}
	return nil
}
