package domain

import "errors"

var (
	// ErrOutsideScope возвращается при обращении к корзине вне области, где она установлена.
	ErrOutsideScope = errors.New("cart store must be used within a cart scope")
	// ErrPersistence оборачивает ошибки чтения/записи key-value хранилища.
	ErrPersistence = errors.New("cart persistence failed")
	// ErrDecode сигнализирует о повреждённом снимке корзины в хранилище.
	ErrDecode = errors.New("stored cart is malformed")
	// Ошибка отсутствующего идентификатора позиции.
	ErrItemIDRequired = errors.New("item id is required")
	// Ошибка отрицательной цены.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка количества меньше единицы.
	ErrItemQtyInvalid = errors.New("item quantity must be at least one")
	// Ошибка повторяющегося идентификатора в последовательности.
	ErrItemDuplicate = errors.New("item id must be unique")
	// ErrKeyRequired: пустой ключ в key-value хранилище.
	ErrKeyRequired = errors.New("storage key is required")
	// ErrWriterStopped: запись не принята, потому что writer уже остановлен.
	ErrWriterStopped = errors.New("persistence writer stopped")
)

// IsPersistence проверяет, относится ли ошибка к сбою хранилища.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsDecode проверяет, является ли ошибка ошибкой разбора снимка.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecode)
}

// IsOutsideScope проверяет, является ли ошибка ошибкой использования вне области.
func IsOutsideScope(err error) bool {
	return errors.Is(err, ErrOutsideScope)
}

// IsValidation проверяет, что ошибка вызвана некорректной позицией.
func IsValidation(err error) bool {
	return errors.Is(err, ErrItemIDRequired) ||
		errors.Is(err, ErrItemPriceInvalid) ||
		errors.Is(err, ErrItemQtyInvalid) ||
		errors.Is(err, ErrItemDuplicate)
}
