package kafka

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

var relayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cart_events_published_total",
	Help: "Total number of cart change events handed to the publisher grouped by result.",
}, []string{"result"})

// Relay пересылает изменения корзины из подписки в EventPublisher.
// Ошибки публикации логируются и не останавливают relay: события best-effort.
type Relay struct {
	publisher domain.EventPublisher
	logger    *log.Entry
}

// NewRelay создаёт relay.
func NewRelay(publisher domain.EventPublisher, logger *log.Entry) *Relay {
	if logger == nil {
		logger = log.WithField("component", "cart-event-relay")
	}
	return &Relay{publisher: publisher, logger: logger}
}

// Run читает changes до отмены ctx или закрытия канала.
func (r *Relay) Run(ctx context.Context, changes <-chan domain.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := r.publisher.PublishChange(change); err != nil {
				relayPublished.WithLabelValues("error").Inc()
				r.logger.WithError(err).WithField("op", change.Op).Warn("failed to publish cart change")
				continue
			}
			relayPublished.WithLabelValues("published").Inc()
		}
	}
}
