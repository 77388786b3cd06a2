package propagation

import (
	"context"
	"encoding/json"
	"time"

	orderdomain "marketfleet/internal/order/domain"
	"marketfleet/internal/order/repo"
	"marketfleet/internal/shared/mq"

	"github.com/rs/zerolog"
)

// Publisher abstracts the broker so propagation can be tested without AMQP.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Notifier delivers an accepted change to locally connected feed clients.
type Notifier interface {
	NotifyOrderChange(event orderdomain.ChangeEvent, o *orderdomain.Order)
}

const (
	defaultAttempts = 3
	defaultBackoff  = 100 * time.Millisecond
)

// Propagator pushes every accepted order mutation outward: the per-party
// copy tables, the broker, and the in-process feed hub. The primary row is
// already committed when Propagate runs, so nothing here can fail the write;
// an exhausted copy retry is durably recorded instead.
type Propagator struct {
	replicas  repo.ReplicaRepository
	publisher Publisher
	notifier  Notifier
	origin    string
	log       zerolog.Logger
	attempts  int
	backoff   time.Duration
}

type Option func(*Propagator)

func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Propagator) {
		p.attempts = attempts
		p.backoff = backoff
	}
}

func WithPublisher(pub Publisher) Option {
	return func(p *Propagator) { p.publisher = pub }
}

func WithNotifier(n Notifier) Option {
	return func(p *Propagator) { p.notifier = n }
}

// WithOrigin stamps published events with the service name so consumers can
// skip echoes of their own writes.
func WithOrigin(origin string) Option {
	return func(p *Propagator) { p.origin = origin }
}

func New(replicas repo.ReplicaRepository, log zerolog.Logger, opts ...Option) *Propagator {
	p := &Propagator{
		replicas: replicas,
		log:      log,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Propagate refreshes both copies, publishes the event, and wakes the local
// feeds. Copy targets are independent: one failing does not stop the other.
func (p *Propagator) Propagate(ctx context.Context, event orderdomain.ChangeEvent, o *orderdomain.Order) {
	p.upsertWithRetry(ctx, event, "vendor_orders", func() error {
		return p.replicas.UpsertVendorCopy(ctx, o)
	})
	p.upsertWithRetry(ctx, event, "customer_orders", func() error {
		return p.replicas.UpsertCustomerCopy(ctx, o)
	})

	p.publish(ctx, event)

	if p.notifier != nil {
		p.notifier.NotifyOrderChange(event, o)
	}
}

func (p *Propagator) upsertWithRetry(ctx context.Context, event orderdomain.ChangeEvent, target string, upsert func() error) {
	var lastErr error
	delay := p.backoff

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if lastErr = upsert(); lastErr == nil {
			return
		}

		p.log.Warn().
			Str("action", "copy_upsert_failed").
			Str("order_id", event.OrderID).
			Str("target", target).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("copy write failed")

		if attempt == p.attempts {
			break
		}

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = p.attempts
		case <-time.After(delay):
			delay *= 2
		}
	}

	// Record the discrepancy so the copy can be reconciled later. The primary
	// row stays authoritative either way.
	if err := p.replicas.RecordFailure(ctx, event.OrderID, target, event.ChangedFields, lastErr.Error()); err != nil {
		p.log.Error().
			Str("action", "propagation_failure_record_failed").
			Str("order_id", event.OrderID).
			Str("target", target).
			Err(err).
			Msg("could not record propagation failure")
		return
	}

	p.log.Error().
		Str("action", "copy_propagation_exhausted").
		Str("order_id", event.OrderID).
		Str("target", target).
		Strs("fields", event.ChangedFields).
		Err(lastErr).
		Msg("copy diverged after retries")
}

func (p *Propagator) publish(ctx context.Context, event orderdomain.ChangeEvent) {
	if p.publisher == nil {
		return
	}

	event.Origin = p.origin
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Error().
			Str("action", "event_marshal_failed").
			Str("order_id", event.OrderID).
			Err(err).
			Msg("could not marshal change event")
		return
	}

	if err := p.publisher.Publish(ctx, mq.ExchangeOrderTopic, event.Kind, body); err != nil {
		p.log.Error().
			Str("action", "event_publish_failed").
			Str("order_id", event.OrderID).
			Str("routing_key", event.Kind).
			Err(err).
			Msg("broker publish failed")
	}
}
