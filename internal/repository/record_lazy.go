package repository

import (
	"context"

	"github.com/msull/misc/internal/model"
	"github.com/msull/misc/internal/registry"
)

// lazyRecordRepo resolves the backing repository on every call, so an
// invalidated store client is replaced without rebuilding its users.
type lazyRecordRepo struct {
	ref *registry.Lazy[RecordRepository]
}

func NewLazyRecordRepository(ref *registry.Lazy[RecordRepository]) RecordRepository {
	return &lazyRecordRepo{ref: ref}
}

func (r *lazyRecordRepo) CreateNew(ctx context.Context, kind string, res model.Resource, overrideID string) (*model.Record, error) {
	repo, err := r.ref.Get(ctx)
	if err != nil {
		return nil, err
	}
	return repo.CreateNew(ctx, kind, res, overrideID)
}

func (r *lazyRecordRepo) GetExisting(ctx context.Context, kind, id string) (*model.Record, error) {
	repo, err := r.ref.Get(ctx)
	if err != nil {
		return nil, err
	}
	return repo.GetExisting(ctx, kind, id)
}

func (r *lazyRecordRepo) UpdateExisting(ctx context.Context, existing *model.Record, res model.Resource) (*model.Record, error) {
	repo, err := r.ref.Get(ctx)
	if err != nil {
		return nil, err
	}
	return repo.UpdateExisting(ctx, existing, res)
}

func (r *lazyRecordRepo) ListVersions(ctx context.Context, kind, id string) ([]model.Record, error) {
	repo, err := r.ref.Get(ctx)
	if err != nil {
		return nil, err
	}
	return repo.ListVersions(ctx, kind, id)
}

func (r *lazyRecordRepo) DeleteExpired(ctx context.Context) (int64, error) {
	repo, err := r.ref.Get(ctx)
	if err != nil {
		return 0, err
	}
	return repo.DeleteExpired(ctx)
}
