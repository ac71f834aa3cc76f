package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msull/misc/internal/registry"
)

func TestLazyRecordRepository(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	loads := 0
	var fake *fakeS3
	ref := registry.NewLazy("records", 0, func(ctx context.Context) (RecordRepository, error) {
		loads++
		repo, f := newTestS3Repo(now)
		fake = f
		return repo, nil
	})
	repo := NewLazyRecordRepository(ref)

	_, err := repo.CreateNew(ctx, "ChatSession", testResource{value: "one"}, "a")
	require.NoError(t, err)
	got, err := repo.GetExisting(ctx, "ChatSession", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, loads)
	assert.Len(t, fake.objects, 1)

	ref.Invalidate()

	got, err = repo.GetExisting(ctx, "ChatSession", "a")
	require.NoError(t, err)
	assert.Nil(t, got, "a fresh backend was loaded")
	assert.Equal(t, 2, loads)
}

func TestLazyRecordRepositoryLoadError(t *testing.T) {
	ref := registry.NewLazy("records", 0, func(ctx context.Context) (RecordRepository, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	repo := NewLazyRecordRepository(ref)

	_, err := repo.GetExisting(context.Background(), "ChatSession", "a")
	assert.ErrorContains(t, err, "connection refused")

	_, err = repo.DeleteExpired(context.Background())
	assert.Error(t, err)
}
