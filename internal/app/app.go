// Package app assembles codedrop from configuration: it opens the selected
// metadata and blob backends once, wires the share service and the sweeper
// on top, and hands them to the HTTP server or the worker.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/dharsanguruparan/codedrop/internal/blob"
	"github.com/dharsanguruparan/codedrop/internal/config"
	"github.com/dharsanguruparan/codedrop/internal/database"
	"github.com/dharsanguruparan/codedrop/internal/fsstorage"
	"github.com/dharsanguruparan/codedrop/internal/metadata"
	"github.com/dharsanguruparan/codedrop/internal/redisstore"
	"github.com/dharsanguruparan/codedrop/internal/repository"
	"github.com/dharsanguruparan/codedrop/internal/s3storage"
	"github.com/dharsanguruparan/codedrop/internal/share"
	"github.com/dharsanguruparan/codedrop/internal/storage"
	"github.com/dharsanguruparan/codedrop/internal/sweeper"
)

// App holds the process-wide handles.
type App struct {
	Config   *config.Config
	Logger   *log.Logger
	Metadata metadata.Backend
	Blobs    blob.Store
	Service  *share.Service
	Sweeper  *sweeper.Sweeper
}

// Build opens the configured backends. Callers must Close the App.
func Build(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	meta, err := openMetadata(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	blobs, err := openBlobs(ctx, cfg, logger)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	return assemble(cfg, logger, meta, blobs), nil
}

// assemble wires the service and sweeper onto already opened backends.
func assemble(cfg *config.Config, logger *log.Logger, meta metadata.Backend, blobs blob.Store) *App {
	svc := share.New(meta, meta, meta, blobs,
		share.WithTTL(cfg.TTL),
		share.WithMaxTextBytes(cfg.MaxTextBytes),
		share.WithStoreTimeout(cfg.StoreTimeout),
		share.WithLogger(logger),
	)
	opts := []sweeper.Option{
		sweeper.WithGrace(cfg.ReconcileGrace),
		sweeper.WithLogger(logger),
	}
	if p, ok := meta.(metadata.Purger); ok {
		opts = append(opts, sweeper.WithPurger(p))
	}
	return &App{
		Config:   cfg,
		Logger:   logger,
		Metadata: meta,
		Blobs:    blobs,
		Service:  svc,
		Sweeper:  sweeper.New(meta, blobs, cfg.TTL, opts...),
	}
}

// Presigner returns the blob store's presigner, or nil if it has none.
func (a *App) Presigner() blob.Presigner {
	if p, ok := a.Blobs.(blob.Presigner); ok {
		return p
	}
	return nil
}

// Close releases backend connections.
func (a *App) Close() error {
	return a.Metadata.Close()
}

func openMetadata(ctx context.Context, cfg *config.Config, logger *log.Logger) (metadata.Backend, error) {
	switch cfg.MetadataBackend {
	case config.MetadataMemory:
		logger.Warn("using in-memory metadata; shares are lost on restart and not visible to other processes")
		return storage.NewMemoryStore(cfg.MemoryCapacity, cfg.TTL), nil
	case config.MetadataRedis:
		store, err := redisstore.Open(ctx, redisstore.Options{URL: cfg.RedisURL})
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		return store, nil
	case config.MetadataPostgres:
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repository.NewShareRepository(pool), nil
	}
	return nil, fmt.Errorf("unknown metadata backend %q", cfg.MetadataBackend)
}

func openBlobs(ctx context.Context, cfg *config.Config, logger *log.Logger) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobFS:
		store, err := fsstorage.New(afero.NewOsFs(), cfg.DataDir)
		if err != nil {
			return nil, err
		}
		logger.Info("storing uploads on disk", "dir", cfg.DataDir)
		return store, nil
	case config.BlobS3:
		store, err := s3storage.New(s3storage.Options{
			Endpoint:      cfg.S3.Endpoint,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			Region:        cfg.S3.Region,
			Bucket:        cfg.S3.Bucket,
			UseSSL:        cfg.S3.UseSSL,
			LifecycleDays: cfg.LifecycleDays(),
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		logger.Info("storing uploads in bucket", "bucket", cfg.S3.Bucket, "lifecycle_days", cfg.LifecycleDays())
		return store, nil
	}
	return nil, errors.New("unknown blob backend " + cfg.BlobBackend)
}
