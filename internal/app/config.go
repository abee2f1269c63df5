package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/cart/internal/cart"
)

// Поддерживаемые backend'ы key-value хранилища корзины.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverRedis    = "redis"
	StorageDriverSQLite   = "sqlite"
)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	RedisAddr           string
	SQLitePath          string
	KeyPrefix           string

	// KafkaBrokers: список через запятую; пусто = без публикации событий.
	KafkaBrokers string

	PersistMaxAttempts int
	PersistRetryDelay  time.Duration
	PersistQueueSize   int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		RedisAddr:           "localhost:6379",
		SQLitePath:          "data/cart.db",
		KeyPrefix:           cart.DefaultKeyPrefix,
		PersistMaxAttempts:  3,
		PersistRetryDelay:   50 * time.Millisecond,
		PersistQueueSize:    64,
		ShutdownTimeout:     5 * time.Second,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	if strings.TrimSpace(c.MetricsAddr) == "" {
		errs = append(errs, errors.New("metrics address is required"))
	}

	switch normalizeStorageDriver(c.StorageDriver) {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	case StorageDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis address is required for redis storage driver"))
		}
	case StorageDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("sqlite path is required for sqlite storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.PersistMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("persist max attempts must be >= 1, got %d", c.PersistMaxAttempts))
	}
	if c.PersistQueueSize < 1 {
		errs = append(errs, fmt.Errorf("persist queue size must be >= 1, got %d", c.PersistQueueSize))
	}
	if c.PersistRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("persist retry delay must be >= 0, got %s", c.PersistRetryDelay))
	}

	return errors.Join(errs...)
}

func normalizeStorageDriver(driver string) string {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		return StorageDriverMemory
	}
	return driver
}
