package health

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const defaultPingTimeout = 2 * time.Second

// Pinger описывает любой компонент с проверкой доступности (KVStore, postgres.Store, redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingChecker проверяет хранилище через Ping с таймаутом.
func NewPingChecker(name string, pinger Pinger, timeout time.Duration) *SimpleChecker {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	return NewSimpleChecker(name, func() error {
		if pinger == nil {
			return errors.New("storage is not configured")
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return pinger.Ping(ctx)
	})
}

// ReadyChecker сообщает degraded, пока корзина не загружена из хранилища.
type ReadyChecker struct {
	name  string
	ready <-chan struct{}
}

// NewReadyChecker создаёт проверку загрузки корзины.
func NewReadyChecker(name string, ready <-chan struct{}) *ReadyChecker {
	return &ReadyChecker{name: name, ready: ready}
}

// Check выполняет проверку
func (c *ReadyChecker) Check() Check {
	select {
	case <-c.ready:
		return Check{Name: c.name, Status: StatusHealthy}
	default:
		return Check{Name: c.name, Status: StatusDegraded, Message: "cart is still loading"}
	}
}

var _ Pinger = domain.KVStore(nil)
