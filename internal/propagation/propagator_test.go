package propagation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	orderdomain "marketfleet/internal/order/domain"
	"marketfleet/internal/order/repo"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failureRecord struct {
	orderID string
	target  string
	fields  []string
	lastErr string
}

// flakyReplicaRepo fails a configurable number of times per target, then
// succeeds, and remembers everything it was asked to do.
type flakyReplicaRepo struct {
	mu            sync.Mutex
	failuresLeft  map[string]int
	vendorUpserts int
	custUpserts   int
	failures      []failureRecord
}

func newFlakyReplicaRepo(vendorFailures, customerFailures int) *flakyReplicaRepo {
	return &flakyReplicaRepo{
		failuresLeft: map[string]int{
			"vendor_orders":   vendorFailures,
			"customer_orders": customerFailures,
		},
	}
}

func (f *flakyReplicaRepo) upsert(target string, counter *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failuresLeft[target] > 0 {
		f.failuresLeft[target]--
		return errors.New("copy store unavailable")
	}
	*counter++
	return nil
}

func (f *flakyReplicaRepo) UpsertVendorCopy(_ context.Context, _ *orderdomain.Order) error {
	return f.upsert("vendor_orders", &f.vendorUpserts)
}

func (f *flakyReplicaRepo) UpsertCustomerCopy(_ context.Context, _ *orderdomain.Order) error {
	return f.upsert("customer_orders", &f.custUpserts)
}

func (f *flakyReplicaRepo) RecordFailure(_ context.Context, orderID, target string, fields []string, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failureRecord{orderID, target, fields, lastErr})
	return nil
}

func (f *flakyReplicaRepo) ListVendorCopies(_ context.Context, _ string) ([]repo.OrderCopy, error) {
	return nil, nil
}

func (f *flakyReplicaRepo) ListCustomerCopies(_ context.Context, _ string) ([]repo.OrderCopy, error) {
	return nil, nil
}

type capturingPublisher struct {
	mu        sync.Mutex
	exchanges []string
	keys      []string
	bodies    [][]byte
	err       error
}

func (c *capturingPublisher) Publish(_ context.Context, exchange, key string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.exchanges = append(c.exchanges, exchange)
	c.keys = append(c.keys, key)
	c.bodies = append(c.bodies, body)
	return nil
}

func testEvent() orderdomain.ChangeEvent {
	return orderdomain.ChangeEvent{
		Kind:          orderdomain.EventStatusChanged,
		OrderID:       "ord-1",
		Code:          "ORD-20260830-000001",
		VendorID:      "ven-1",
		CustomerID:    "cus-1",
		ChangedFields: []string{"status", "confirmed_at"},
		ServerTime:    time.Now(),
	}
}

func testOrder() *orderdomain.Order {
	return &orderdomain.Order{
		ID:         "ord-1",
		Code:       "ORD-20260830-000001",
		VendorID:   "ven-1",
		CustomerID: "cus-1",
		Status:     orderdomain.StatusConfirmed,
	}
}

func TestPropagate_ConvergesAfterTransientFailures(t *testing.T) {
	replicas := newFlakyReplicaRepo(2, 0)
	pub := &capturingPublisher{}
	p := New(replicas, zerolog.Nop(),
		WithPublisher(pub),
		WithRetry(3, time.Millisecond),
	)

	p.Propagate(context.Background(), testEvent(), testOrder())

	assert.Equal(t, 1, replicas.vendorUpserts, "vendor copy converges on the third attempt")
	assert.Equal(t, 1, replicas.custUpserts)
	assert.Empty(t, replicas.failures, "no discrepancy recorded when retries succeed")

	require.Len(t, pub.keys, 1)
	assert.Equal(t, orderdomain.EventStatusChanged, pub.keys[0])
}

func TestPropagate_RecordsDiscrepancyAfterExhaustion(t *testing.T) {
	replicas := newFlakyReplicaRepo(3, 0)
	p := New(replicas, zerolog.Nop(), WithRetry(3, time.Millisecond))

	p.Propagate(context.Background(), testEvent(), testOrder())

	assert.Equal(t, 0, replicas.vendorUpserts)
	assert.Equal(t, 1, replicas.custUpserts, "one target failing never blocks the other")

	require.Len(t, replicas.failures, 1)
	f := replicas.failures[0]
	assert.Equal(t, "ord-1", f.orderID)
	assert.Equal(t, "vendor_orders", f.target)
	assert.Equal(t, []string{"status", "confirmed_at"}, f.fields)
	assert.Contains(t, f.lastErr, "copy store unavailable")
}

func TestPropagate_PublishFailureDoesNotAffectCopies(t *testing.T) {
	replicas := newFlakyReplicaRepo(0, 0)
	pub := &capturingPublisher{err: errors.New("broker down")}
	p := New(replicas, zerolog.Nop(),
		WithPublisher(pub),
		WithRetry(3, time.Millisecond),
	)

	p.Propagate(context.Background(), testEvent(), testOrder())

	assert.Equal(t, 1, replicas.vendorUpserts)
	assert.Equal(t, 1, replicas.custUpserts)
	assert.Empty(t, replicas.failures)
}

type capturingNotifier struct {
	mu     sync.Mutex
	events []orderdomain.ChangeEvent
}

func (c *capturingNotifier) NotifyOrderChange(event orderdomain.ChangeEvent, _ *orderdomain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func TestPropagate_NotifiesLocalFeeds(t *testing.T) {
	replicas := newFlakyReplicaRepo(0, 0)
	notifier := &capturingNotifier{}
	p := New(replicas, zerolog.Nop(),
		WithNotifier(notifier),
		WithRetry(3, time.Millisecond),
	)

	p.Propagate(context.Background(), testEvent(), testOrder())

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "ord-1", notifier.events[0].OrderID)
}
