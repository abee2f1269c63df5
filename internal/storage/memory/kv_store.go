package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// kvStoreInMemory: простая in-memory реализация KVStore.
type kvStoreInMemory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewKVStore возвращает in-memory хранилище для локальной разработки и тестов.
func NewKVStore() domain.KVStore {
	return &kvStoreInMemory{
		items: make(map[string][]byte),
	}
}

// Get возвращает копию значения, если ключ существует.
func (s *kvStoreInMemory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, domain.ErrKeyRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Set перезаписывает значение по ключу.
func (s *kvStoreInMemory) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return domain.ErrKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Храним копию, чтобы вызывающий код не мог изменить буфер после записи.
	s.items[key] = append([]byte(nil), value...)
	return nil
}

// Ping всегда успешен.
func (s *kvStoreInMemory) Ping(context.Context) error {
	return nil
}

var _ domain.KVStore = (*kvStoreInMemory)(nil)
