package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/msull/misc/internal/model"
)

type redisRecordRepo struct {
	client  redis.UniversalClient
	prefix  string
	ttlAttr string
	now     func() time.Time
}

// NewRedisRecordRepository stores each row as a JSON string. The TTL
// attribute becomes the key's EXPIREAT so redis removes expired records on
// its own.
func NewRedisRecordRepository(client redis.UniversalClient, prefix, ttlAttr string) RecordRepository {
	return &redisRecordRepo{client: client, prefix: prefix, ttlAttr: ttlAttr, now: time.Now}
}

func (r *redisRecordRepo) key(kind, id string) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, kind, id)
}

func (r *redisRecordRepo) versionKey(kind, id string, version int) string {
	return fmt.Sprintf("%s%s:%s:v%d", r.prefix, kind, id, version)
}

func (r *redisRecordRepo) CreateNew(ctx context.Context, kind string, res model.Resource, overrideID string) (*model.Record, error) {
	rec, hist, err := newRecord(kind, recordID(overrideID), res, r.ttlAttr, r.now().UTC())
	if err != nil {
		return nil, err
	}
	key := r.key(kind, rec.ID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.write(ctx, pipe, rec, hist)
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create record %s/%s: %w", kind, rec.ID, err)
	}
	return rec, nil
}

func (r *redisRecordRepo) GetExisting(ctx context.Context, kind, id string) (*model.Record, error) {
	return r.get(ctx, r.client, r.key(kind, id))
}

func (r *redisRecordRepo) UpdateExisting(ctx context.Context, existing *model.Record, res model.Resource) (*model.Record, error) {
	rec, hist, err := nextRecord(existing, res, r.ttlAttr, r.now().UTC())
	if err != nil {
		return nil, err
	}
	key := r.key(rec.Kind, rec.ID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored == nil || stored.Revision != existing.Revision {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.write(ctx, pipe, rec, hist)
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) || errors.Is(err, ErrConflict) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update record %s/%s: %w", rec.Kind, rec.ID, err)
	}
	return rec, nil
}

func (r *redisRecordRepo) ListVersions(ctx context.Context, kind, id string) ([]model.Record, error) {
	current, err := r.GetExisting(ctx, kind, id)
	if err != nil || current == nil {
		return nil, err
	}
	if !current.Versioned {
		return []model.Record{*current}, nil
	}

	keys := make([]string, 0, current.Revision)
	for v := 1; v <= current.Revision; v++ {
		keys = append(keys, r.versionKey(kind, id, v))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]model.Record, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode record history: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteExpired is a no-op: keys carry their own EXPIREAT.
func (r *redisRecordRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *redisRecordRepo) get(ctx context.Context, c redisGetter, key string) (*model.Record, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	return &rec, nil
}

// write queues the current row, the new history row and the expiry of every
// key belonging to the record.
func (r *redisRecordRepo) write(ctx context.Context, pipe redis.Pipeliner, rec, hist *model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	keys := []string{r.key(rec.Kind, rec.ID)}
	pipe.Set(ctx, keys[0], data, 0)

	if hist != nil {
		histData, err := json.Marshal(hist)
		if err != nil {
			return err
		}
		histKey := r.versionKey(rec.Kind, rec.ID, hist.Version)
		pipe.Set(ctx, histKey, histData, 0)
		for v := 1; v < hist.Version; v++ {
			keys = append(keys, r.versionKey(rec.Kind, rec.ID, v))
		}
		keys = append(keys, histKey)
	}

	for _, k := range keys {
		if rec.ExpiresAt != nil {
			pipe.ExpireAt(ctx, k, time.Unix(*rec.ExpiresAt, 0))
		} else {
			pipe.Persist(ctx, k)
		}
	}
	return nil
}
