package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type kvStore struct {
	store *Store
}

// NewKVStore создаёт PostgreSQL-реализацию KVStore поверх таблицы kv_entries.
func NewKVStore(store *Store) domain.KVStore {
	return &kvStore{store: store}
}

func (r *kvStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, domain.ErrKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var value []byte
	err := r.store.DB().QueryRowContext(ctx, `
		SELECT value
		FROM kv_entries
		WHERE key = $1
	`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select kv entry: %w", err)
	}

	return value, true, nil
}

func (r *kvStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return domain.ErrKeyRequired
	}
	if value == nil {
		value = []byte{}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.store.DB().ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, updated_at, write_count)
		VALUES ($1, $2, NOW(), 1)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = EXCLUDED.updated_at,
		    write_count = kv_entries.write_count + 1
	`, key, value); err != nil {
		return fmt.Errorf("upsert kv entry: %w", err)
	}

	return nil
}

func (r *kvStore) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// WriteCount возвращает число перезаписей ключа; 0, если ключа нет.
func WriteCount(ctx context.Context, store *Store, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int64
	err := store.DB().QueryRowContext(ctx, `SELECT write_count FROM kv_entries WHERE key = $1`, key).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select kv write count: %w", err)
	}
	return count, nil
}

var _ domain.KVStore = (*kvStore)(nil)
