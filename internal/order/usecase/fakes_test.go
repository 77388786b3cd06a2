package usecase

import (
	"context"
	"sync"
	"time"

	"marketfleet/internal/order/domain"
	"marketfleet/internal/order/repo"
)

// fakeOrderRepo is an in-memory OrderRepository with the same conditional
// write semantics as the real store, guarded by a mutex so concurrent tests
// observe real contention.
type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]*domain.Order)}
}

func (f *fakeOrderRepo) put(o *domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
}

func (f *fakeOrderRepo) Create(_ context.Context, o *domain.Order) error {
	f.put(o)
	return nil
}

func (f *fakeOrderRepo) FindByID(_ context.Context, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) AdvanceStatus(_ context.Context, orderID string, expected, next domain.Status, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != expected {
		return domain.ErrTransitionConflict
	}
	o.Status = next
	applyStamp(o, next, at)
	o.UpdatedAt = at
	return nil
}

func (f *fakeOrderRepo) Claim(_ context.Context, orderID, driverID, driverName string, at time.Time) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if o.DriverID != nil {
		return nil, domain.ErrAlreadyClaimed
	}
	if o.FulfillmentType != domain.FulfillmentDelivery || !domain.IsClaimable(o.Status) {
		return nil, domain.ErrNotClaimable
	}
	o.DriverID = &driverID
	o.DriverName = &driverName
	o.Status = domain.StatusClaimed
	o.ClaimedAt = &at
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) UpdateDriverLocation(_ context.Context, orderID string, lat, lng float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.DriverID == nil {
		return domain.ErrOrderNotFound
	}
	o.DriverLat = &lat
	o.DriverLng = &lng
	return nil
}

func (f *fakeOrderRepo) ListOpenByVendor(_ context.Context, vendorID string) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if o.VendorID == vendorID && !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) ListAvailable(_ context.Context) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if o.FulfillmentType == domain.FulfillmentDelivery && o.DriverID == nil && domain.IsClaimable(o.Status) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) FindActiveByDriver(_ context.Context, driverID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.DriverID != nil && *o.DriverID == driverID && !o.Status.IsTerminal() {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

type fakeReplicaRepo struct {
	mu       sync.Mutex
	vendor   map[string][]repo.OrderCopy
	customer map[string][]repo.OrderCopy
}

func newFakeReplicaRepo() *fakeReplicaRepo {
	return &fakeReplicaRepo{
		vendor:   make(map[string][]repo.OrderCopy),
		customer: make(map[string][]repo.OrderCopy),
	}
}

func (f *fakeReplicaRepo) UpsertVendorCopy(_ context.Context, _ *domain.Order) error   { return nil }
func (f *fakeReplicaRepo) UpsertCustomerCopy(_ context.Context, _ *domain.Order) error { return nil }
func (f *fakeReplicaRepo) RecordFailure(_ context.Context, _, _ string, _ []string, _ string) error {
	return nil
}

func (f *fakeReplicaRepo) ListVendorCopies(_ context.Context, vendorID string) ([]repo.OrderCopy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vendor[vendorID], nil
}

func (f *fakeReplicaRepo) ListCustomerCopies(_ context.Context, customerID string) ([]repo.OrderCopy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customer[customerID], nil
}

// capturingPropagator records every event handed to it.
type capturingPropagator struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (c *capturingPropagator) Propagate(_ context.Context, event domain.ChangeEvent, _ *domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturingPropagator) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}
