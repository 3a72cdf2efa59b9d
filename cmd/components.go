package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ethernal-Tech/cardano-projector/blockstore"
	"github.com/Ethernal-Tech/cardano-projector/common"
	"github.com/Ethernal-Tech/cardano-projector/config"
	"github.com/Ethernal-Tech/cardano-projector/enrichment"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/Ethernal-Tech/cardano-projector/logger"
	"github.com/Ethernal-Tech/cardano-projector/storage"
	"github.com/hashicorp/go-hclog"
)

const dirPerms = 0o770

// components owns every opened store. close releases them in reverse order.
type components struct {
	blockStore *blockstore.BlockStore
	cache      *enrichment.Cache
	store      storage.Store
	closers    []indexer.Closable
}

func (c *components) add(closer indexer.Closable) {
	c.closers = append(c.closers, closer)
}

func (c *components) close() error {
	var errs []error

	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}

	c.closers = nil

	return errors.Join(errs...)
}

func openComponents(ctx context.Context, cfg *config.Config, loggers logger.LoggerContainer) (_ *components, err error) {
	result := &components{}

	defer func() {
		if err != nil {
			_ = result.close()
		}
	}()

	named, err := getLoggers(loggers, "storage", "block_store", "enrichment")
	if err != nil {
		return nil, err
	}

	if result.store, err = openStore(ctx, cfg, named["storage"]); err != nil {
		return nil, err
	}

	result.add(result.store)

	if err := common.EnsureParentDirs(dirPerms, cfg.BlockStore.Path); err != nil {
		return nil, err
	}

	if result.blockStore, err = blockstore.NewBlockStore(
		cfg.BlockStore.Path, cfg.BlockStore.Retention, named["block_store"]); err != nil {
		return nil, err
	}

	result.add(result.blockStore)

	backend, err := openEnrichmentBackend(ctx, cfg, named["enrichment"])
	if err != nil {
		return nil, err
	}

	result.cache = enrichment.NewCache(backend, cfg.CacheConfig(), named["enrichment"])
	result.add(result.cache)

	return result, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger hclog.Logger) (storage.ProjectionStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendBBolt:
		if err := common.EnsureParentDirs(dirPerms, cfg.Storage.Path); err != nil {
			return nil, err
		}

		return storage.NewBBoltStore(cfg.Storage.Path, logger)
	case config.StorageBackendRedis:
		return common.ExecuteWithRetry(ctx, func(ctx context.Context) (storage.ProjectionStore, error) {
			return storage.NewRedisStore(ctx, cfg.Storage.Redis, logger)
		}, cfg.Retry.Transport.Options(logger)...)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

func openEnrichmentBackend(ctx context.Context, cfg *config.Config, logger hclog.Logger) (enrichment.Backend, error) {
	switch cfg.Enrichment.Backend {
	case config.EnrichmentBackendLevelDB:
		if err := common.EnsureParentDirs(dirPerms, cfg.Enrichment.Path); err != nil {
			return nil, err
		}

		return enrichment.NewLevelDBBackend(cfg.Enrichment.Path)
	case config.EnrichmentBackendBadger:
		if cfg.Enrichment.Path != "" {
			if err := common.CreateDirSafe(cfg.Enrichment.Path, dirPerms); err != nil {
				return nil, err
			}
		}

		return enrichment.NewBadgerBackend(cfg.Enrichment.Path)
	case config.EnrichmentBackendRedis:
		return common.ExecuteWithRetry(ctx, func(ctx context.Context) (enrichment.Backend, error) {
			return enrichment.NewRedisBackend(ctx, cfg.Enrichment.Redis)
		}, cfg.Retry.Transport.Options(logger)...)
	default:
		return nil, fmt.Errorf("unknown enrichment backend: %s", cfg.Enrichment.Backend)
	}
}

// getLoggers resolves every named logger up front so the wiring can not fail halfway.
func getLoggers(loggers logger.LoggerContainer, names ...string) (map[string]hclog.Logger, error) {
	result := make(map[string]hclog.Logger, len(names))

	for _, name := range names {
		named, err := loggers.GetLogger(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s logger: %w", name, err)
		}

		result[name] = named
	}

	return result, nil
}
