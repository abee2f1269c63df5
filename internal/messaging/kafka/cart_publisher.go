package kafka

import (
	"fmt"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// CartTopicPublisher публикует изменения корзины в заданный Kafka topic.
// Ключом сообщения служит ключ корзины, поэтому порядок событий сохраняется в партиции.
type CartTopicPublisher struct {
	producer *Producer
	topic    string
	cartKey  string
}

// NewCartPublisher создаёт Kafka-паблишер изменений корзины.
func NewCartPublisher(producer *Producer, topic, cartKey string) *CartTopicPublisher {
	if topic == "" {
		topic = TopicCartEvents
	}
	return &CartTopicPublisher{
		producer: producer,
		topic:    topic,
		cartKey:  cartKey,
	}
}

// PublishChange отправляет CartEvent, построенный по изменению.
func (p *CartTopicPublisher) PublishChange(change domain.Change) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka cart publisher is not initialized")
	}
	event := NewCartEvent(p.cartKey, change)
	return p.producer.PublishEventWithHeaders(p.topic, p.cartKey, event, map[string]string{
		HeaderEventType:   string(event.EventType),
		HeaderContentType: contentTypeJSON,
	})
}

var _ domain.EventPublisher = (*CartTopicPublisher)(nil)
