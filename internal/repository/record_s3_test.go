package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data []byte
	etag string
	meta map[string]string
}

// fakeS3 is an in-memory bucket honoring IfMatch and IfNoneMatch.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	seq     int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	existing, exists := f.objects[key]
	if aws.ToString(in.IfNoneMatch) == "*" && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	if in.IfMatch != nil && (!exists || existing.etag != aws.ToString(in.IfMatch)) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.seq++
	etag := fmt.Sprintf(`"%d"`, f.seq)
	f.objects[key] = fakeObject{data: data, etag: etag, meta: in.Metadata}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(obj.data)),
		ETag:     aws.String(obj.etag),
		Metadata: obj.meta,
	}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ETag: aws.String(obj.etag), Metadata: obj.meta}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func newTestS3Repo(now time.Time) (*s3RecordRepo, *fakeS3) {
	fake := newFakeS3()
	repo := NewS3RecordRepository(fake, "bucket", "records/", "ttl").(*s3RecordRepo)
	repo.now = func() time.Time { return now }
	return repo, fake
}

func TestS3RecordRepository(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo, fake := newTestS3Repo(now)
	ctx := context.Background()

	t.Run("create get update", func(t *testing.T) {
		rec, err := repo.CreateNew(ctx, "ChatSession", testResource{value: "one"}, "a")
		require.NoError(t, err)
		assert.Contains(t, fake.objects, "records/ChatSession/a/current.json")

		_, err = repo.CreateNew(ctx, "ChatSession", testResource{value: "dup"}, "a")
		assert.ErrorIs(t, err, ErrAlreadyExists)

		updated, err := repo.UpdateExisting(ctx, rec, testResource{value: "two"})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Revision)

		_, err = repo.UpdateExisting(ctx, rec, testResource{value: "stale"})
		assert.ErrorIs(t, err, ErrConflict)

		got, err := repo.GetExisting(ctx, "ChatSession", "a")
		require.NoError(t, err)
		assert.Equal(t, "two", valueOf(t, *got))
	})

	t.Run("missing record is nil", func(t *testing.T) {
		got, err := repo.GetExisting(ctx, "ChatSession", "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("versioned history", func(t *testing.T) {
		rec, err := repo.CreateNew(ctx, "SettingsSession", testResource{value: "v1", versioned: true}, "s")
		require.NoError(t, err)
		_, err = repo.UpdateExisting(ctx, rec, testResource{value: "v2", versioned: true})
		require.NoError(t, err)

		rows, err := repo.ListVersions(ctx, "SettingsSession", "s")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "v1", valueOf(t, rows[0]))
		assert.Equal(t, "v2", valueOf(t, rows[1]))
	})

	t.Run("sweep removes expired record directories", func(t *testing.T) {
		past := now.Add(-time.Second).Unix()
		future := now.Add(time.Hour).Unix()
		rec, err := repo.CreateNew(ctx, "SettingsSession", testResource{value: "x", ttl: &past, versioned: true}, "expired")
		require.NoError(t, err)
		_, err = repo.UpdateExisting(ctx, rec, testResource{value: "y", ttl: &past, versioned: true})
		require.NoError(t, err)
		_, err = repo.CreateNew(ctx, "ChatSession", testResource{value: "z", ttl: &future}, "live")
		require.NoError(t, err)

		n, err := repo.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		got, err := repo.GetExisting(ctx, "SettingsSession", "expired")
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = repo.GetExisting(ctx, "ChatSession", "live")
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}
