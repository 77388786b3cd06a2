package mq

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Exchanges and queues shared by both services. Order change events flow
// through order_topic; driver availability through driver_topic; raw driver
// positions fan out so each service can bridge them into its own feeds.
const (
	ExchangeOrderTopic     = "order_topic"
	ExchangeDriverTopic    = "driver_topic"
	ExchangeLocationFanout = "location_fanout"

	KeyOrderCreated       = "order.created"
	KeyOrderStatusChanged = "order.status_changed"
	KeyOrderClaimed       = "order.claimed"
	KeyOrderDelivered     = "order.delivered"
	KeyOrderCancelled     = "order.cancelled"

	KeyDriverStatusChanged = "driver.status_changed"

	// Each service gets its own copy of every order event for its feeds.
	QueueOrderServiceEvents  = "order_service.order_events"
	QueueDriverServiceEvents = "driver_service.order_events"
	QueueDriverStatusEvents  = "order_service.driver_events"

	// Terminal order events also feed the driver release path.
	QueueDriverReleases = "driver_service.order_releases"
)

// SetupTopology declares all exchanges, queues and bindings. Idempotent; both
// services call it at startup.
func SetupTopology(mq *RabbitMQ, log zerolog.Logger) error {
	ch := mq.Channel()
	if ch == nil {
		return fmt.Errorf("rabbitmq channel not available")
	}

	if err := ch.ExchangeDeclare(ExchangeOrderTopic, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeOrderTopic, err)
	}
	if err := ch.ExchangeDeclare(ExchangeDriverTopic, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeDriverTopic, err)
	}
	if err := ch.ExchangeDeclare(ExchangeLocationFanout, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeLocationFanout, err)
	}

	for _, q := range []string{QueueOrderServiceEvents, QueueDriverServiceEvents} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, "order.#", ExchangeOrderTopic, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}

	if _, err := ch.QueueDeclare(QueueDriverReleases, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueDriverReleases, err)
	}
	for _, key := range []string{KeyOrderDelivered, KeyOrderCancelled} {
		if err := ch.QueueBind(QueueDriverReleases, key, ExchangeOrderTopic, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", QueueDriverReleases, err)
		}
	}

	if _, err := ch.QueueDeclare(QueueDriverStatusEvents, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueDriverStatusEvents, err)
	}
	if err := ch.QueueBind(QueueDriverStatusEvents, "driver.#", ExchangeDriverTopic, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", QueueDriverStatusEvents, err)
	}

	log.Info().
		Str("action", "topology_setup_complete").
		Msg("all exchanges and queues created")

	return nil
}
