package domain

import (
	"context"
	"time"
)

// KVStore описывает внешнее key-value хранилище снимков корзины.
type KVStore interface {
	// Get возвращает значение по ключу; found=false, если ключа нет.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set перезаписывает значение по ключу целиком.
	Set(ctx context.Context, key string, value []byte) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// EventPublisher публикует изменения корзины наружу (например, в Kafka).
type EventPublisher interface {
	PublishChange(change Change) error
}

// ChangeOp задаёт константы операций для метрик/логов/событий.
type ChangeOp string

const (
	ChangeOpLoad      ChangeOp = "load"
	ChangeOpAdd       ChangeOp = "add"
	ChangeOpIncrement ChangeOp = "increment"
	ChangeOpDecrement ChangeOp = "decrement"
	ChangeOpRemove    ChangeOp = "remove"
)

// Change описывает применённую мутацию и состояние корзины после неё.
type Change struct {
	Op     ChangeOp
	ItemID string
	Items  []CartItem
	At     time.Time
}
