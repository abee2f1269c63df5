package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const opTimeout = 5 * time.Second

// ErrNotInitialized возвращается методами nil или пустого KVStore.
var ErrNotInitialized = errors.New("sqlite store is not initialized")

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);`

// KVStore хранит key-value записи в локальном файле SQLite (аналог on-device storage).
type KVStore struct {
	db   *sql.DB
	path string
}

// Open создаёт файл базы при необходимости и применяет схему.
func Open(ctx context.Context, path string) (*KVStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite сериализует запись; одно соединение исключает SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	initCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := db.ExecContext(initCtx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	return &KVStore{db: db, path: path}, nil
}

// Path возвращает путь к файлу базы.
func (s *KVStore) Path() string {
	return s.path
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrNotInitialized
	}
	if key == "" {
		return nil, false, domain.ErrKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select kv entry: %w", err)
	}
	return value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if key == "" {
		return domain.ErrKeyRequired
	}
	if value == nil {
		value = []byte{}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert kv entry: %w", err)
	}
	return nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	return s.db.PingContext(ctx)
}

// Close закрывает базу.
func (s *KVStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.KVStore = (*KVStore)(nil)
