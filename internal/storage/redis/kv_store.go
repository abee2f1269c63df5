package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const (
	defaultPingTimeout = 5 * time.Second
	maxBackoff         = 30 * time.Second
)

// KVStore хранит снимки корзины в Redis обычными строковыми ключами.
type KVStore struct {
	client *goredis.Client
	logger *log.Entry
}

// NewKVStore принимает адрес вида "host:port" или URL "redis://...".
func NewKVStore(addr string, logger *log.Entry) (*KVStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if logger == nil {
		logger = log.WithField("component", "redis-kv")
	}

	opts, err := goredis.ParseURL(addr)
	if err != nil {
		if !strings.Contains(addr, ":") {
			addr += ":6379"
		}
		opts = &goredis.Options{
			Addr:         addr,
			MinIdleConns: 1,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     4,
			PoolTimeout:  4 * time.Second,
			IdleTimeout:  180 * time.Second,
		}
	}

	return &KVStore{
		client: goredis.NewClient(opts),
		logger: logger,
	}, nil
}

// Initialize ждёт доступности Redis с экспоненциальным backoff.
func (s *KVStore) Initialize(ctx context.Context, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = s.Ping(ctx); lastErr == nil {
			s.logger.WithField("attempt", i+1).Info("redis is reachable")
			return nil
		}

		if i == attempts-1 {
			break
		}
		backoff := time.Duration(1<<uint(i)) * 100 * time.Millisecond
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		s.logger.WithError(lastErr).WithField("backoff", backoff).Warn("redis ping failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("redis unreachable after %d attempts: %w", attempts, lastErr)
}

// Get возвращает значение ключа; redis.Nil означает отсутствие.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, domain.ErrKeyRequired
	}

	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

// Set перезаписывает ключ без TTL.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return domain.ErrKeyRequired
	}
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping проверяет соединение с таймаутом.
func (s *KVStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close закрывает клиент.
func (s *KVStore) Close() error {
	return s.client.Close()
}

var _ domain.KVStore = (*KVStore)(nil)
