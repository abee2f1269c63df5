package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/cart"
	"github.com/vladislavdragonenkov/cart/internal/messaging/kafka"
)

const relaySubscriptionBuffer = 64

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := parseBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, logger.WithField("layer", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func parseBrokers(brokers string) []string {
	var out []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

// startCartEventRelay подписывается на изменения корзины и пересылает их в Kafka.
// Возвращает функцию остановки, которая дожидается выхода relay.
func startCartEventRelay(ctx context.Context, store *cart.Store, producer *kafka.Producer, cartKey string, logger *log.Entry) func() {
	if producer == nil || store == nil {
		return func() {}
	}

	changes, unsubscribe := store.Subscribe(relaySubscriptionBuffer)
	relay := kafka.NewRelay(kafka.NewCartPublisher(producer, kafka.TopicCartEvents, cartKey), logger.WithField("layer", "kafka-relay"))

	relayCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Run(relayCtx, changes)
	}()

	return func() {
		cancel()
		unsubscribe()
		<-done
	}
}

// startCart подписывает relay до начала загрузки, чтобы событие cart.loaded попало в Kafka.
func startCart(ctx context.Context, store *cart.Store, producer *kafka.Producer, cartKey string, logger *log.Entry) (func(), <-chan error) {
	stopRelay := startCartEventRelay(ctx, store, producer, cartKey, logger)
	return stopRelay, store.LoadAsync(ctx)
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
