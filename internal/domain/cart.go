package domain

import (
	"math"
	"strings"
)

// Product описывает товар, который кладут в корзину (позиция без количества).
type Product struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url"`
	Price    float64 `json:"price"`
}

// CartItem представляет одну позицию корзины.
type CartItem struct {
	// ID: уникальный ключ позиции, совпадает с идентификатором товара.
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url"`
	// Price: цена за единицу, без привязки к валюте.
	Price float64 `json:"price"`
	// Quantity всегда >= 1.
	Quantity int `json:"quantity"`
}

// Summary агрегирует корзину для отображения итогов.
type Summary struct {
	// Count: суммарное количество единиц товара.
	Count int
	// Total: сумма price * quantity по всем позициям.
	Total float64
}

// Validate проверяет товар перед добавлением в корзину.
func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrItemIDRequired
	}
	if p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return ErrItemPriceInvalid
	}
	return nil
}

// NewCartItem создаёт позицию с количеством 1.
func NewCartItem(p Product) CartItem {
	return CartItem{
		ID:       p.ID,
		Title:    p.Title,
		ImageURL: p.ImageURL,
		Price:    p.Price,
		Quantity: 1,
	}
}

// ValidateItems проверяет инварианты последовательности позиций и возвращает список замечаний.
func ValidateItems(items []CartItem) []error {
	var errs []error

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ID == "" {
			errs = append(errs, ErrItemIDRequired)
			continue
		}
		if _, dup := seen[item.ID]; dup {
			errs = append(errs, ErrItemDuplicate)
		}
		seen[item.ID] = struct{}{}
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}

// CloneItems возвращает независимую копию последовательности.
func CloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}

// Summarize считает количество единиц и итоговую сумму.
func Summarize(items []CartItem) Summary {
	var s Summary
	for _, item := range items {
		s.Count += item.Quantity
		s.Total += item.Price * float64(item.Quantity)
	}
	return s
}
