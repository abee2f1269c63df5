package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/cart/internal/health"
	"github.com/vladislavdragonenkov/cart/internal/storage/memory"
	"github.com/vladislavdragonenkov/cart/internal/storage/postgres"
	"github.com/vladislavdragonenkov/cart/internal/storage/redis"
	"github.com/vladislavdragonenkov/cart/internal/storage/sqlite"
)

const redisInitAttempts = 5

type runtimeDependencies struct {
	kv             domain.KVStore
	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies открывает key-value хранилище выбранного backend'а.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := normalizeStorageDriver(cfg.StorageDriver)
	logger = logger.WithField("storage", driver)

	switch driver {
	case StorageDriverMemory:
		kv := memory.NewKVStore()
		return &runtimeDependencies{
			kv:             kv,
			storageChecker: healthcheck.NewPingChecker("storage", kv, 0),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", driver)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		return &runtimeDependencies{
			kv:             postgres.NewKVStore(store),
			storageChecker: healthcheck.NewPingChecker("storage", store, 0),
			closeFn:        store.Close,
		}, nil

	case StorageDriverRedis:
		kv, err := redis.NewKVStore(cfg.RedisAddr, logger)
		if err != nil {
			return nil, err
		}
		if err := kv.Initialize(ctx, redisInitAttempts); err != nil {
			_ = kv.Close()
			return nil, err
		}
		return &runtimeDependencies{
			kv:             kv,
			storageChecker: healthcheck.NewPingChecker("storage", kv, 0),
			closeFn:        kv.Close,
		}, nil

	case StorageDriverSQLite:
		kv, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", kv.Path()).Info("sqlite storage opened")
		return &runtimeDependencies{
			kv:             kv,
			storageChecker: healthcheck.NewPingChecker("storage", kv, 0),
			closeFn:        kv.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func closeRuntimeDependencies(deps *runtimeDependencies, logger *log.Entry) {
	if deps == nil || deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
		return
	}
	logger.Info("storage closed")
}
