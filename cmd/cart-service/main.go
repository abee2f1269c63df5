package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/app"
	"github.com/vladislavdragonenkov/cart/internal/version"
)

const (
	envGRPCAddr            = "CART_GRPC_ADDR"
	envMetricsAddr         = "CART_METRICS_ADDR"
	envStorageDriver       = "CART_STORAGE_DRIVER"
	envPostgresDSN         = "CART_POSTGRES_DSN"
	envPostgresAutoMigrate = "CART_POSTGRES_AUTO_MIGRATE"
	envRedisAddr           = "CART_REDIS_ADDR"
	envSQLitePath          = "CART_SQLITE_PATH"
	envKeyPrefix           = "CART_KEY_PREFIX"
	envKafkaBrokers        = "CART_KAFKA_BROKERS"
	envPersistMaxAttempts  = "CART_PERSIST_MAX_ATTEMPTS"
	envPersistRetryDelay   = "CART_PERSIST_RETRY_DELAY"
	envPersistQueueSize    = "CART_PERSIST_QUEUE_SIZE"
	envLogLevel            = "CART_LOG_LEVEL"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	level = strings.TrimSpace(level)
	if level == "" {
		return nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(parsed)
	return nil
}

// readConfigFromEnv формирует конфигурацию из переменных окружения. Некорректные
// значения не прерывают запуск: остаётся значение по умолчанию и возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envPostgresDSN, &cfg.PostgresDSN)
	str(envRedisAddr, &cfg.RedisAddr)
	str(envSQLitePath, &cfg.SQLitePath)
	str(envKeyPrefix, &cfg.KeyPrefix)
	str(envKafkaBrokers, &cfg.KafkaBrokers)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}

	if v, ok := lookup(envPostgresAutoMigrate); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envPostgresAutoMigrate, err))
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	positive := func(v int) bool { return v > 0 }
	if v, ok := lookup(envPersistMaxAttempts); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseInt(v, positive, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envPersistMaxAttempts, err))
		} else {
			cfg.PersistMaxAttempts = parsed
		}
	}
	if v, ok := lookup(envPersistQueueSize); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseInt(v, positive, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envPersistQueueSize, err))
		} else {
			cfg.PersistQueueSize = parsed
		}
	}
	if v, ok := lookup(envPersistRetryDelay); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseDuration(v, func(d time.Duration) bool { return d >= 0 }, "must be >= 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envPersistRetryDelay, err))
		} else {
			cfg.PersistRetryDelay = parsed
		}
	}

	return cfg, warnings
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", value)
	}
}

func parseInt(value string, valid func(int) bool, constraint string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", value, err)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("value %d %s", parsed, constraint)
	}
	return parsed, nil
}

func parseDuration(value string, valid func(time.Duration) bool, constraint string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("value %s %s", parsed, constraint)
	}
	return parsed, nil
}

func main() {
	if err := setupLogger(os.Getenv(envLogLevel)); err != nil {
		log.WithError(err).Warn("invalid log level, using info")
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning + ", using default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"version":        version.String(),
	}).Info("запускаем CartService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("CartService остановлен")
}
