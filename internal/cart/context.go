package cart

import (
	"context"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

type storeKey struct{}

// NewContext возвращает контекст, внутри которого доступна корзина.
func NewContext(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, storeKey{}, store)
}

// FromContext достаёт корзину из контекста или возвращает ErrOutsideScope.
func FromContext(ctx context.Context) (*Store, error) {
	if ctx == nil {
		return nil, domain.ErrOutsideScope
	}
	store, ok := ctx.Value(storeKey{}).(*Store)
	if !ok || store == nil {
		return nil, domain.ErrOutsideScope
	}
	return store, nil
}

// MustFromContext как FromContext, но паникует вне области.
func MustFromContext(ctx context.Context) *Store {
	store, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return store
}
