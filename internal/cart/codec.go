package cart

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// DefaultKeyPrefix: префикс приложения для ключа корзины.
const DefaultKeyPrefix = "@GoMarketplace"

// StorageKey возвращает ключ, под которым хранится снимок корзины.
func StorageKey(prefix string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":products"
}

// Encode сериализует всю последовательность позиций в JSON-массив.
func Encode(items []domain.CartItem) ([]byte, error) {
	if items == nil {
		items = []domain.CartItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}
	return data, nil
}

// Decode разбирает снимок и проверяет инварианты последовательности.
// Любое нарушение возвращается как ErrDecode.
func Decode(data []byte) ([]domain.CartItem, error) {
	var items []domain.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	if errs := domain.ValidateItems(items); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecode, errors.Join(errs...))
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	return items, nil
}
