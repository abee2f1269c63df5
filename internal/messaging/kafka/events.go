package kafka

import (
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeCartLoaded          EventType = "cart.loaded"
	EventTypeCartItemAdded       EventType = "cart.item_added"
	EventTypeCartItemIncremented EventType = "cart.item_incremented"
	EventTypeCartItemDecremented EventType = "cart.item_decremented"
	EventTypeCartItemRemoved     EventType = "cart.item_removed"
)

// TopicCartEvents: topic изменений корзины.
const TopicCartEvents = "marketplace.cart.events"

// CartEvent представляет изменение корзины вместе с её состоянием после изменения.
type CartEvent struct {
	EventID   string            `json:"event_id"`
	EventType EventType         `json:"event_type"`
	CartKey   string            `json:"cart_key"`
	ItemID    string            `json:"item_id,omitempty"`
	Items     []domain.CartItem `json:"items"`
	Count     int               `json:"count"`
	Total     float64           `json:"total"`
	Timestamp time.Time         `json:"timestamp"`
}

// EventTypeFor сопоставляет операцию корзины типу события.
func EventTypeFor(op domain.ChangeOp) EventType {
	switch op {
	case domain.ChangeOpLoad:
		return EventTypeCartLoaded
	case domain.ChangeOpAdd:
		return EventTypeCartItemAdded
	case domain.ChangeOpIncrement:
		return EventTypeCartItemIncremented
	case domain.ChangeOpDecrement:
		return EventTypeCartItemDecremented
	case domain.ChangeOpRemove:
		return EventTypeCartItemRemoved
	default:
		return EventType("cart." + string(op))
	}
}

// NewCartEvent создает событие по изменению корзины
func NewCartEvent(cartKey string, change domain.Change) *CartEvent {
	items := change.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	summary := domain.Summarize(items)

	timestamp := change.At
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return &CartEvent{
		EventID:   uuid.NewString(),
		EventType: EventTypeFor(change.Op),
		CartKey:   cartKey,
		ItemID:    change.ItemID,
		Items:     items,
		Count:     summary.Count,
		Total:     summary.Total,
		Timestamp: timestamp.UTC(),
	}
}
