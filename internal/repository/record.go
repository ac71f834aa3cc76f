package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/msull/misc/internal/model"
)

var (
	// ErrConflict is returned when a conditional update loses against a
	// concurrent writer.
	ErrConflict = errors.New("record was modified concurrently")
	// ErrAlreadyExists is returned by CreateNew when the id is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// RecordRepository is the durable key-value store behind sessions. Records
// are addressed by (kind, id); GetExisting returns (nil, nil) when nothing
// is stored under the key.
type RecordRepository interface {
	CreateNew(ctx context.Context, kind string, res model.Resource, overrideID string) (*model.Record, error)
	GetExisting(ctx context.Context, kind, id string) (*model.Record, error)
	UpdateExisting(ctx context.Context, existing *model.Record, res model.Resource) (*model.Record, error)
	// ListVersions returns the history rows of a versioned record in
	// ascending order, or the single current row otherwise.
	ListVersions(ctx context.Context, kind, id string) ([]model.Record, error)
	// DeleteExpired removes records whose TTL attribute is in the past,
	// history included.
	DeleteExpired(ctx context.Context) (int64, error)
}

// recordID picks the id of a new record.
func recordID(overrideID string) string {
	if overrideID != "" {
		return overrideID
	}
	return uuid.NewString()
}

// newRecord builds the current row and, for versioned resources, its first
// history row.
func newRecord(kind, id string, res model.Resource, ttlAttr string, now time.Time) (*model.Record, *model.Record, error) {
	if kind == "" {
		return nil, nil, fmt.Errorf("create record: empty kind")
	}
	item, err := res.Item(true)
	if err != nil {
		return nil, nil, fmt.Errorf("create record: %w", err)
	}
	exp, err := item.Expiry(ttlAttr)
	if err != nil {
		return nil, nil, fmt.Errorf("create record: %w", err)
	}

	rec := &model.Record{
		Kind:      kind,
		ID:        id,
		Version:   model.CurrentVersion,
		Revision:  1,
		Versioned: res.Versioned(),
		Item:      item,
		ExpiresAt: exp,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !rec.Versioned {
		return rec, nil, nil
	}
	hist, err := historyRecord(rec, res)
	if err != nil {
		return nil, nil, err
	}
	return rec, hist, nil
}

// nextRecord builds the successor of existing and, when versioned, the
// history row for the new revision.
func nextRecord(existing *model.Record, res model.Resource, ttlAttr string, now time.Time) (*model.Record, *model.Record, error) {
	if existing == nil {
		return nil, nil, fmt.Errorf("update record: nil existing record")
	}
	item, err := res.Item(true)
	if err != nil {
		return nil, nil, fmt.Errorf("update record: %w", err)
	}
	exp, err := item.Expiry(ttlAttr)
	if err != nil {
		return nil, nil, fmt.Errorf("update record: %w", err)
	}

	rec := *existing
	rec.Version = model.CurrentVersion
	rec.Revision = existing.Revision + 1
	rec.Item = item
	rec.ExpiresAt = exp
	rec.UpdatedAt = now
	if !rec.Versioned {
		return &rec, nil, nil
	}
	hist, err := historyRecord(&rec, res)
	if err != nil {
		return nil, nil, err
	}
	return &rec, hist, nil
}

func historyRecord(current *model.Record, res model.Resource) (*model.Record, error) {
	item, err := res.Item(false)
	if err != nil {
		return nil, fmt.Errorf("history record: %w", err)
	}
	return &model.Record{
		Kind:      current.Kind,
		ID:        current.ID,
		Version:   current.Revision,
		Revision:  current.Revision,
		Versioned: true,
		Item:      item,
		CreatedAt: current.UpdatedAt,
		UpdatedAt: current.UpdatedAt,
	}, nil
}
