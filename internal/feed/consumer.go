package feed

import (
	"context"
	"encoding/json"

	orderdomain "marketfleet/internal/order/domain"
	"marketfleet/internal/shared/mq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// BridgeConsumer feeds broker-delivered order events into the local gateway,
// so clients of one service see changes committed by the other. Events this
// service published itself are skipped; the propagator already notified the
// local feeds directly.
type BridgeConsumer struct {
	rabbit  *mq.RabbitMQ
	gateway *Gateway
	origin  string
	log     zerolog.Logger
}

func NewBridgeConsumer(rabbit *mq.RabbitMQ, gateway *Gateway, origin string, log zerolog.Logger) *BridgeConsumer {
	return &BridgeConsumer{
		rabbit:  rabbit,
		gateway: gateway,
		origin:  origin,
		log:     log,
	}
}

// Start begins consuming order events from queue until ctx is done.
func (c *BridgeConsumer) Start(ctx context.Context, queue string) error {
	return c.rabbit.Consume(ctx, queue, c.origin+"_feed_bridge", func(msg amqp.Delivery) {
		c.handle(msg)
	})
}

func (c *BridgeConsumer) handle(msg amqp.Delivery) {
	var event orderdomain.ChangeEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Warn().
			Str("action", "feed_bridge_bad_payload").
			Str("routing_key", msg.RoutingKey).
			Err(err).
			Msg("dropping undecodable event")
		_ = msg.Nack(false, false)
		return
	}

	if event.Origin == c.origin {
		_ = msg.Ack(false)
		return
	}

	c.gateway.NotifyOrderChange(event, nil)
	_ = msg.Ack(false)
}
