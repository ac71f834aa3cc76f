package database

import (
	"context"
	"fmt"
)

// The same DDL runs on postgres and sqlite. Version 0 of a (kind, id) is the
// current row; versioned records add one row per revision.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		kind       TEXT      NOT NULL,
		id         TEXT      NOT NULL,
		version    INTEGER   NOT NULL,
		revision   INTEGER   NOT NULL,
		versioned  BOOLEAN   NOT NULL,
		payload    TEXT      NOT NULL,
		expires_at BIGINT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (kind, id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_expires_at ON records (expires_at)`,
}

func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
