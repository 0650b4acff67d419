// Package storage applies the schema and records ride lifecycle events
// for audit, grounded on the teacher's internal/storage/migrate.go and
// events.go.
package storage

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema applies schema.sql once, recording its hash in a
// migrations table so redeploys of an unchanged schema are a no-op.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if err := ensureMigrationTable(ctx, pool); err != nil {
		return err
	}
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(schemaSQL)))
	applied, err := isHashApplied(ctx, pool, hash)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `INSERT INTO migrations (name, hash) VALUES ($1,$2)`, "schema.sql", hash)
	return err
}

func ensureMigrationTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS migrations (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	hash TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS migrations_name_hash_idx ON migrations(name, hash);
`)
	return err
}

func isHashApplied(ctx context.Context, pool *pgxpool.Pool, hash string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM migrations WHERE name=$1 AND hash=$2)`, "schema.sql", hash).Scan(&exists)
	return exists, err
}

// RecordEvent appends a best-effort audit row for a ride lifecycle
// transition. Failures are logged by the caller, never fatal: the
// audit trail is a convenience, not a correctness dependency.
func RecordEvent(ctx context.Context, pool *pgxpool.Pool, rideID int64, event string, detail any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
INSERT INTO ride_events (ride_id, event, detail) VALUES ($1,$2,$3)
`, rideID, event, raw)
	return err
}
