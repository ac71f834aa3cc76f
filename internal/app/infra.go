// Package app opens the infrastructure the server and the CLI share.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/msull/misc/internal/config"
	"github.com/msull/misc/internal/database"
	"github.com/msull/misc/internal/redis"
	"github.com/msull/misc/internal/registry"
	"github.com/msull/misc/internal/repository"
)

// RecordStoreName is the registry name of the shared record store.
const RecordStoreName = "records"

// Records is an open record store together with the client it owns.
type Records struct {
	repository.RecordRepository
	Backend string
	close   func() error
}

func (r *Records) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// OpenRecords connects to the configured backend. SQL databases are
// migrated before use.
func OpenRecords(ctx context.Context, cfg *config.Config) (*Records, error) {
	switch cfg.StoreBackend {
	case config.BackendSQL:
		db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		log.Info().Str("driver", cfg.DatabaseDriver).Msg("database connected")
		return &Records{
			RecordRepository: repository.NewSQLRecordRepository(db, cfg.SessionTTLAttribute),
			Backend:          config.BackendSQL,
			close:            db.Close,
		}, nil

	case config.BackendRedis:
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("redis connected")
		return &Records{
			RecordRepository: repository.NewRedisRecordRepository(client.Client, redis.DefaultKeyPrefix, cfg.SessionTTLAttribute),
			Backend:          config.BackendRedis,
			close:            client.Close,
		}, nil

	case config.BackendS3:
		client := NewS3Client(cfg)
		log.Info().Str("bucket", cfg.S3Bucket).Str("prefix", cfg.S3Prefix).Msg("s3 record store ready")
		return &Records{
			RecordRepository: repository.NewS3RecordRepository(client, cfg.S3Bucket, cfg.S3Prefix, cfg.SessionTTLAttribute),
			Backend:          config.BackendS3,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// NewS3Client builds an S3 client from static credentials. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Client(cfg *config.Config) *s3.Client {
	creds := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			SessionToken:    cfg.AWSSessionToken,
			Source:          "environment",
		}, nil
	})

	opts := s3.Options{
		Region:      cfg.S3Region,
		Credentials: aws.NewCredentialsCache(creds),
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// RecordStore returns the process-wide record store. It connects on first
// use; a replaced store is closed after drain so rerenders still holding
// it can finish.
func RecordStore(cfg *config.Config, drain time.Duration) *registry.Lazy[repository.RecordRepository] {
	lazy := registry.NewLazy(RecordStoreName, 0, func(ctx context.Context) (repository.RecordRepository, error) {
		return OpenRecords(ctx, cfg)
	})
	lazy.OnEvict(func(old repository.RecordRepository) {
		closer, ok := old.(io.Closer)
		if !ok {
			return
		}
		time.AfterFunc(drain, func() {
			if err := closer.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close replaced record store")
			}
		})
	})
	return lazy
}

// CloseRecordStore closes the store currently held by lazy without
// waiting for the drain delay. Used at shutdown.
func CloseRecordStore(ctx context.Context, lazy *registry.Lazy[repository.RecordRepository]) error {
	repo, err := lazy.Get(ctx)
	if err != nil {
		return err
	}
	if closer, ok := repo.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
