package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/msull/misc/internal/model"
)

const s3ExpiresMeta = "expires-at"

// S3API is the subset of *s3.Client used by the record store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type s3RecordRepo struct {
	client  S3API
	bucket  string
	prefix  string
	ttlAttr string
	now     func() time.Time
}

// NewS3RecordRepository keeps every row as a JSON object under
// prefix/kind/id/. Writes are conditional puts, so two writers racing on the
// same record cannot both win.
func NewS3RecordRepository(client S3API, bucket, prefix, ttlAttr string) RecordRepository {
	return &s3RecordRepo{client: client, bucket: bucket, prefix: prefix, ttlAttr: ttlAttr, now: time.Now}
}

func (r *s3RecordRepo) dir(kind, id string) string {
	return fmt.Sprintf("%s%s/%s/", r.prefix, kind, id)
}

func (r *s3RecordRepo) currentKey(kind, id string) string {
	return r.dir(kind, id) + "current.json"
}

func (r *s3RecordRepo) versionKey(kind, id string, version int) string {
	return fmt.Sprintf("%sv%d.json", r.dir(kind, id), version)
}

func (r *s3RecordRepo) CreateNew(ctx context.Context, kind string, res model.Resource, overrideID string) (*model.Record, error) {
	rec, hist, err := newRecord(kind, recordID(overrideID), res, r.ttlAttr, r.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := r.put(ctx, r.currentKey(kind, rec.ID), rec, &s3.PutObjectInput{IfNoneMatch: aws.String("*")}); err != nil {
		if isPreconditionFailed(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create record %s/%s: %w", kind, rec.ID, err)
	}
	if hist != nil {
		if err := r.put(ctx, r.versionKey(kind, rec.ID, hist.Version), hist, &s3.PutObjectInput{}); err != nil {
			return nil, fmt.Errorf("create record history %s/%s: %w", kind, rec.ID, err)
		}
	}
	return rec, nil
}

func (r *s3RecordRepo) GetExisting(ctx context.Context, kind, id string) (*model.Record, error) {
	rec, _, err := r.get(ctx, r.currentKey(kind, id))
	return rec, err
}

func (r *s3RecordRepo) UpdateExisting(ctx context.Context, existing *model.Record, res model.Resource) (*model.Record, error) {
	rec, hist, err := nextRecord(existing, res, r.ttlAttr, r.now().UTC())
	if err != nil {
		return nil, err
	}
	key := r.currentKey(rec.Kind, rec.ID)

	stored, etag, err := r.get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("update record %s/%s: %w", rec.Kind, rec.ID, err)
	}
	if stored == nil || stored.Revision != existing.Revision {
		return nil, ErrConflict
	}

	if err := r.put(ctx, key, rec, &s3.PutObjectInput{IfMatch: aws.String(etag)}); err != nil {
		if isPreconditionFailed(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update record %s/%s: %w", rec.Kind, rec.ID, err)
	}
	if hist != nil {
		if err := r.put(ctx, r.versionKey(rec.Kind, rec.ID, hist.Version), hist, &s3.PutObjectInput{}); err != nil {
			return nil, fmt.Errorf("update record history %s/%s: %w", rec.Kind, rec.ID, err)
		}
	}
	return rec, nil
}

func (r *s3RecordRepo) ListVersions(ctx context.Context, kind, id string) ([]model.Record, error) {
	current, err := r.GetExisting(ctx, kind, id)
	if err != nil || current == nil {
		return nil, err
	}
	if !current.Versioned {
		return []model.Record{*current}, nil
	}

	out := make([]model.Record, 0, current.Revision)
	for v := 1; v <= current.Revision; v++ {
		rec, _, err := r.get(ctx, r.versionKey(kind, id, v))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// DeleteExpired walks every current object and removes the whole record
// directory when its expires-at metadata is in the past.
func (r *s3RecordRepo) DeleteExpired(ctx context.Context) (int64, error) {
	now := r.now().Unix()
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(r.prefix),
	})

	var expired []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, "/current.json") {
				continue
			}
			head, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(r.bucket),
				Key:    aws.String(key),
			})
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return 0, err
			}
			raw, ok := head.Metadata[s3ExpiresMeta]
			if !ok {
				continue
			}
			exp, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || exp >= now {
				continue
			}
			expired = append(expired, strings.TrimSuffix(key, "current.json"))
		}
	}

	var count int64
	for _, dir := range expired {
		n, err := r.deleteDir(ctx, dir)
		count += n
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

func (r *s3RecordRepo) deleteDir(ctx context.Context, dir string) (int64, error) {
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(dir),
	})
	var count int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return count, err
		}
		for _, obj := range page.Contents {
			if _, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(r.bucket),
				Key:    obj.Key,
			}); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func (r *s3RecordRepo) get(ctx context.Context, key string) (*model.Record, string, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", err
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, "", fmt.Errorf("decode record %s: %w", key, err)
	}
	return &rec, aws.ToString(out.ETag), nil
}

// put fills in bucket, key, body and metadata on input and sends it.
func (r *s3RecordRepo) put(ctx context.Context, key string, rec *model.Record, input *s3.PutObjectInput) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	input.Bucket = aws.String(r.bucket)
	input.Key = aws.String(key)
	input.Body = bytes.NewReader(data)
	input.ContentType = aws.String("application/json")
	if rec.ExpiresAt != nil {
		input.Metadata = map[string]string{s3ExpiresMeta: strconv.FormatInt(*rec.ExpiresAt, 10)}
	}
	_, err = r.client.PutObject(ctx, input)
	return err
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
