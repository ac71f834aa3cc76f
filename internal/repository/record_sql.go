package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/msull/misc/internal/database"
	"github.com/msull/misc/internal/model"
)

const recordColumns = `kind, id, version, revision, versioned, payload, expires_at, created_at, updated_at`

type sqlRecordRepo struct {
	db      *database.DB
	ttlAttr string
	now     func() time.Time
}

// NewSQLRecordRepository stores records in the records table. ttlAttr names
// the item attribute copied into the expires_at column.
func NewSQLRecordRepository(db *database.DB, ttlAttr string) RecordRepository {
	return &sqlRecordRepo{db: db, ttlAttr: ttlAttr, now: time.Now}
}

func (r *sqlRecordRepo) CreateNew(ctx context.Context, kind string, res model.Resource, overrideID string) (*model.Record, error) {
	rec, hist, err := newRecord(kind, recordID(overrideID), res, r.ttlAttr, r.now().UTC())
	if err != nil {
		return nil, err
	}

	err = r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		if hist != nil {
			return insertRecord(ctx, tx, hist)
		}
		return nil
	})
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create record %s/%s: %w", kind, rec.ID, err)
	}
	return rec, nil
}

func (r *sqlRecordRepo) GetExisting(ctx context.Context, kind, id string) (*model.Record, error) {
	var rec model.Record
	err := r.db.GetContext(ctx, &rec, r.db.Rebind(`
		SELECT `+recordColumns+` FROM records
		WHERE kind = ? AND id = ? AND version = ?
	`), kind, id, model.CurrentVersion)
	return HandleNotFound(&rec, err)
}

func (r *sqlRecordRepo) UpdateExisting(ctx context.Context, existing *model.Record, res model.Resource) (*model.Record, error) {
	rec, hist, err := nextRecord(existing, res, r.ttlAttr, r.now().UTC())
	if err != nil {
		return nil, err
	}

	err = r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE records SET
				revision = ?,
				payload = ?,
				expires_at = ?,
				updated_at = ?
			WHERE kind = ? AND id = ? AND version = ? AND revision = ?
		`), rec.Revision, rec.Item, rec.ExpiresAt, rec.UpdatedAt,
			rec.Kind, rec.ID, model.CurrentVersion, existing.Revision)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}
		if hist != nil {
			return insertRecord(ctx, tx, hist)
		}
		return nil
	})
	if errors.Is(err, ErrConflict) || isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update record %s/%s: %w", rec.Kind, rec.ID, err)
	}
	return rec, nil
}

func (r *sqlRecordRepo) ListVersions(ctx context.Context, kind, id string) ([]model.Record, error) {
	var rows []model.Record
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+recordColumns+` FROM records
		WHERE kind = ? AND id = ?
		ORDER BY version
	`), kind, id)
	if err != nil {
		return nil, err
	}
	if len(rows) > 1 {
		// history rows follow the current row
		return rows[1:], nil
	}
	return rows, nil
}

func (r *sqlRecordRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM records
		WHERE EXISTS (
			SELECT 1 FROM records cur
			WHERE cur.kind = records.kind
			AND cur.id = records.id
			AND cur.version = ?
			AND cur.expires_at IS NOT NULL
			AND cur.expires_at < ?
		)
	`), model.CurrentVersion, r.now().Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func insertRecord(ctx context.Context, db database.DBTX, rec *model.Record) error {
	_, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.Kind, rec.ID, rec.Version, rec.Revision, rec.Versioned,
		rec.Item, rec.ExpiresAt, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
