package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	driverdomain "marketfleet/internal/driver/domain"
	orderdomain "marketfleet/internal/order/domain"
	"marketfleet/internal/shared/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrderStore reproduces the store's conditional write semantics under a
// mutex so the claim race test exercises real contention.
type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*orderdomain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]*orderdomain.Order)}
}

func (f *fakeOrderStore) put(o *orderdomain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
}

func (f *fakeOrderStore) Create(_ context.Context, o *orderdomain.Order) error {
	f.put(o)
	return nil
}

func (f *fakeOrderStore) FindByID(_ context.Context, orderID string) (*orderdomain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, orderdomain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) AdvanceStatus(_ context.Context, orderID string, expected, next orderdomain.Status, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return orderdomain.ErrOrderNotFound
	}
	if o.Status != expected {
		return orderdomain.ErrTransitionConflict
	}
	o.Status = next
	o.UpdatedAt = at
	return nil
}

func (f *fakeOrderStore) Claim(_ context.Context, orderID, driverID, driverName string, at time.Time) (*orderdomain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, orderdomain.ErrOrderNotFound
	}
	if o.DriverID != nil {
		return nil, orderdomain.ErrAlreadyClaimed
	}
	if o.FulfillmentType != orderdomain.FulfillmentDelivery || !orderdomain.IsClaimable(o.Status) {
		return nil, orderdomain.ErrNotClaimable
	}
	o.DriverID = &driverID
	o.DriverName = &driverName
	o.Status = orderdomain.StatusClaimed
	o.ClaimedAt = &at
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) UpdateDriverLocation(_ context.Context, orderID string, lat, lng float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.DriverID == nil {
		return orderdomain.ErrOrderNotFound
	}
	o.DriverLat = &lat
	o.DriverLng = &lng
	return nil
}

func (f *fakeOrderStore) ListOpenByVendor(_ context.Context, vendorID string) ([]orderdomain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) ListAvailable(_ context.Context) ([]orderdomain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []orderdomain.Order
	for _, o := range f.orders {
		if o.FulfillmentType == orderdomain.FulfillmentDelivery && o.DriverID == nil && orderdomain.IsClaimable(o.Status) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) FindActiveByDriver(_ context.Context, driverID string) (*orderdomain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.DriverID != nil && *o.DriverID == driverID && !o.Status.IsTerminal() {
			cp := *o
			return &cp, nil
		}
	}
	return nil, orderdomain.ErrOrderNotFound
}

type fakeDriverStore struct {
	mu       sync.Mutex
	drivers  map[string]*driverdomain.Driver
	releases int
}

func newFakeDriverStore() *fakeDriverStore {
	return &fakeDriverStore{drivers: make(map[string]*driverdomain.Driver)}
}

func (f *fakeDriverStore) put(d *driverdomain.Driver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.drivers[d.ID] = &cp
}

func (f *fakeDriverStore) FindByID(_ context.Context, driverID string) (*driverdomain.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[driverID]
	if !ok {
		return nil, driverdomain.ErrDriverNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDriverStore) Upsert(_ context.Context, d *driverdomain.Driver) error {
	f.put(d)
	return nil
}

func (f *fakeDriverStore) SetOnline(_ context.Context, driverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[driverID]
	if !ok {
		return driverdomain.ErrDriverNotFound
	}
	d.Online = true
	if d.CurrentOrderID == nil {
		d.Status = driverdomain.DriverStatusAvailable
	}
	return nil
}

func (f *fakeDriverStore) SetOffline(_ context.Context, driverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[driverID]
	if !ok {
		return driverdomain.ErrDriverNotFound
	}
	if d.CurrentOrderID != nil {
		return driverdomain.ErrDriverBusy
	}
	d.Online = false
	d.Status = driverdomain.DriverStatusOffline
	return nil
}

func (f *fakeDriverStore) UpdateLocation(_ context.Context, driverID string, lat, lng float64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[driverID]
	if !ok {
		return driverdomain.ErrDriverNotFound
	}
	d.LastLat, d.LastLng, d.LocationAt = &lat, &lng, &at
	return nil
}

func (f *fakeDriverStore) Assign(_ context.Context, driverID, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[driverID]
	if !ok {
		return driverdomain.ErrDriverNotFound
	}
	if !d.Online || d.Status != driverdomain.DriverStatusAvailable || d.CurrentOrderID != nil {
		return driverdomain.ErrDriverNotAvailable
	}
	d.Status = driverdomain.DriverStatusBusy
	d.CurrentOrderID = &orderID
	return nil
}

func (f *fakeDriverStore) Release(_ context.Context, driverID, orderID string, completed bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[driverID]
	if !ok {
		return false, driverdomain.ErrDriverNotFound
	}
	if d.CurrentOrderID == nil || *d.CurrentOrderID != orderID {
		return false, nil
	}
	d.CurrentOrderID = nil
	d.Status = driverdomain.DriverStatusAvailable
	if completed {
		d.DeliveriesCompleted++
	}
	f.releases++
	return true, nil
}

type nopPropagator struct {
	mu     sync.Mutex
	events []orderdomain.ChangeEvent
}

func (n *nopPropagator) Propagate(_ context.Context, event orderdomain.ChangeEvent, _ *orderdomain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func newTestDispatch(t *testing.T) (*DispatchService, *fakeOrderStore, *fakeDriverStore, *nopPropagator) {
	t.Helper()
	orders := newFakeOrderStore()
	drivers := newFakeDriverStore()
	prop := &nopPropagator{}
	svc := NewDispatchService(orders, drivers, prop, config.PolicyConfig{RequirePIN: true}, zerolog.Nop())
	return svc, orders, drivers, prop
}

func readyOrder(pickupLat, pickupLng float64) *orderdomain.Order {
	return &orderdomain.Order{
		ID:              uuid.NewString(),
		Code:            "ORD-20260830-000042",
		CustomerID:      "cus-1",
		VendorID:        "ven-1",
		FulfillmentType: orderdomain.FulfillmentDelivery,
		Status:          orderdomain.StatusReadyForPickup,
		PickupLat:       pickupLat,
		PickupLng:       pickupLng,
		PIN:             "4821",
		CreatedAt:       time.Now(),
	}
}

func availableDriver(id string, lat, lng float64) *driverdomain.Driver {
	now := time.Now()
	return &driverdomain.Driver{
		ID:         id,
		Name:       "Pedro",
		Online:     true,
		Status:     driverdomain.DriverStatusAvailable,
		LastLat:    &lat,
		LastLng:    &lng,
		LocationAt: &now,
	}
}

func TestClaimOrder_ExactlyOneWinner(t *testing.T) {
	svc, orders, drivers, prop := newTestDispatch(t)

	o := readyOrder(18.4861, -69.9312)
	orders.put(o)

	const n = 25
	driverIDs := make([]string, n)
	for i := range driverIDs {
		driverIDs[i] = uuid.NewString()
		drivers.put(availableDriver(driverIDs[i], 18.48, -69.93))
	}

	var wg sync.WaitGroup
	var winners, losers sync.Map
	for _, id := range driverIDs {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			if _, err := svc.ClaimOrder(context.Background(), driverID, o.ID); err != nil {
				losers.Store(driverID, err)
			} else {
				winners.Store(driverID, struct{}{})
			}
		}(id)
	}
	wg.Wait()

	var winnerCount int
	var winnerID string
	winners.Range(func(k, _ any) bool {
		winnerCount++
		winnerID = k.(string)
		return true
	})
	require.Equal(t, 1, winnerCount, "exactly one claim must win")

	var loserCount int
	losers.Range(func(_, v any) bool {
		loserCount++
		assert.ErrorIs(t, v.(error), orderdomain.ErrAlreadyClaimed)
		return true
	})
	assert.Equal(t, n-1, loserCount)

	got, err := orders.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, winnerID, *got.DriverID)
	assert.Equal(t, orderdomain.StatusClaimed, got.Status)

	winner, err := drivers.FindByID(context.Background(), winnerID)
	require.NoError(t, err)
	assert.Equal(t, driverdomain.DriverStatusBusy, winner.Status)
	require.NotNil(t, winner.CurrentOrderID)
	assert.Equal(t, o.ID, *winner.CurrentOrderID)

	prop.mu.Lock()
	defer prop.mu.Unlock()
	require.Len(t, prop.events, 1, "only the winner propagates")
	assert.Equal(t, orderdomain.EventOrderClaimed, prop.events[0].Kind)
}

func TestClaimOrder_DriverPreconditions(t *testing.T) {
	svc, orders, drivers, _ := newTestDispatch(t)

	o := readyOrder(18.4861, -69.9312)
	orders.put(o)

	offline := availableDriver(uuid.NewString(), 18.48, -69.93)
	offline.Online = false
	offline.Status = driverdomain.DriverStatusOffline
	drivers.put(offline)

	_, err := svc.ClaimOrder(context.Background(), offline.ID, o.ID)
	assert.ErrorIs(t, err, driverdomain.ErrDriverNotAvailable)

	busy := availableDriver(uuid.NewString(), 18.48, -69.93)
	other := uuid.NewString()
	busy.Status = driverdomain.DriverStatusBusy
	busy.CurrentOrderID = &other
	drivers.put(busy)

	_, err = svc.ClaimOrder(context.Background(), busy.ID, o.ID)
	assert.ErrorIs(t, err, driverdomain.ErrDriverBusy)
}

func TestClaimOrder_NotClaimable(t *testing.T) {
	svc, orders, drivers, _ := newTestDispatch(t)

	d := availableDriver(uuid.NewString(), 18.48, -69.93)
	drivers.put(d)

	pickup := readyOrder(18.4861, -69.9312)
	pickup.FulfillmentType = orderdomain.FulfillmentPickup
	orders.put(pickup)

	_, err := svc.ClaimOrder(context.Background(), d.ID, pickup.ID)
	assert.ErrorIs(t, err, orderdomain.ErrNotClaimable)

	pending := readyOrder(18.4861, -69.9312)
	pending.Status = orderdomain.StatusPending
	orders.put(pending)

	_, err = svc.ClaimOrder(context.Background(), d.ID, pending.ID)
	assert.ErrorIs(t, err, orderdomain.ErrNotClaimable)

	_, err = svc.ClaimOrder(context.Background(), d.ID, uuid.NewString())
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
}

func TestAvailableOrders_RankedByDistance(t *testing.T) {
	svc, orders, drivers, _ := newTestDispatch(t)

	// Driver in the Zona Colonial; vendors at increasing distance.
	d := availableDriver(uuid.NewString(), 18.4734, -69.8826)
	drivers.put(d)

	near := readyOrder(18.4760, -69.8900)
	mid := readyOrder(18.4861, -69.9312)
	far := readyOrder(18.5601, -69.9886)
	orders.put(far)
	orders.put(near)
	orders.put(mid)

	got, err := svc.AvailableOrders(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, near.ID, got[0].Order.ID)
	assert.Equal(t, mid.ID, got[1].Order.ID)
	assert.Equal(t, far.ID, got[2].Order.ID)

	require.NotNil(t, got[0].DistanceKm)
	assert.Less(t, *got[0].DistanceKm, *got[1].DistanceKm)
	assert.Less(t, *got[1].DistanceKm, *got[2].DistanceKm)
}

func TestAvailableOrders_NoPosition(t *testing.T) {
	svc, orders, drivers, _ := newTestDispatch(t)

	d := availableDriver(uuid.NewString(), 0, 0)
	d.LastLat, d.LastLng = nil, nil
	drivers.put(d)
	orders.put(readyOrder(18.4861, -69.9312))

	got, err := svc.AvailableOrders(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].DistanceKm, "no distance without a driver position")
}

func TestPickupAndDeliver(t *testing.T) {
	svc, orders, drivers, prop := newTestDispatch(t)

	o := readyOrder(18.4861, -69.9312)
	orders.put(o)
	d := availableDriver(uuid.NewString(), 18.48, -69.93)
	drivers.put(d)

	_, err := svc.ClaimOrder(context.Background(), d.ID, o.ID)
	require.NoError(t, err)

	picked, err := svc.Pickup(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusOutForDelivery, picked.Status)

	// Wrong PIN is rejected; the order stays out for delivery.
	_, err = svc.Deliver(context.Background(), d.ID, "0000")
	assert.ErrorIs(t, err, orderdomain.ErrPinMismatch)

	delivered, err := svc.Deliver(context.Background(), d.ID, "4821")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusDelivered, delivered.Status)

	freed, err := drivers.FindByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Nil(t, freed.CurrentOrderID)
	assert.Equal(t, driverdomain.DriverStatusAvailable, freed.Status)
	assert.Equal(t, 1, freed.DeliveriesCompleted)

	prop.mu.Lock()
	last := prop.events[len(prop.events)-1]
	prop.mu.Unlock()
	assert.Equal(t, orderdomain.EventOrderDelivered, last.Kind)
}

func TestPickup_WrongPhase(t *testing.T) {
	svc, orders, drivers, _ := newTestDispatch(t)

	o := readyOrder(18.4861, -69.9312)
	orders.put(o)
	d := availableDriver(uuid.NewString(), 18.48, -69.93)
	drivers.put(d)

	// No active order yet.
	_, err := svc.Pickup(context.Background(), d.ID)
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)

	_, err = svc.ClaimOrder(context.Background(), d.ID, o.ID)
	require.NoError(t, err)

	// Deliver before pickup.
	_, err = svc.Deliver(context.Background(), d.ID, "4821")
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
}

func TestReleaseDriver_Idempotent(t *testing.T) {
	svc, orders, drivers, _ := newTestDispatch(t)

	o := readyOrder(18.4861, -69.9312)
	orders.put(o)
	d := availableDriver(uuid.NewString(), 18.48, -69.93)
	drivers.put(d)

	_, err := svc.ClaimOrder(context.Background(), d.ID, o.ID)
	require.NoError(t, err)
	_, err = svc.Pickup(context.Background(), d.ID)
	require.NoError(t, err)
	_, err = svc.Deliver(context.Background(), d.ID, "4821")
	require.NoError(t, err)

	// A repeat release, e.g. from a redelivered broker event, is a no-op.
	svc.ReleaseDriver(context.Background(), d.ID, o.ID, true)
	svc.ReleaseDriver(context.Background(), d.ID, o.ID, true)

	freed, err := drivers.FindByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, freed.DeliveriesCompleted, "completion counted exactly once")
	assert.Equal(t, 1, drivers.releases)
}

func TestReleaseDriver_CancelledOrderNotCounted(t *testing.T) {
	svc, orders, drivers, _ := newTestDispatch(t)

	o := readyOrder(18.4861, -69.9312)
	orders.put(o)
	d := availableDriver(uuid.NewString(), 18.48, -69.93)
	drivers.put(d)

	_, err := svc.ClaimOrder(context.Background(), d.ID, o.ID)
	require.NoError(t, err)
	require.NoError(t, orders.AdvanceStatus(context.Background(),
		o.ID, orderdomain.StatusClaimed, orderdomain.StatusCancelled, time.Now()))

	// The release consumer frees the driver without delivery credit.
	svc.ReleaseDriver(context.Background(), d.ID, o.ID, false)

	freed, err := drivers.FindByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Nil(t, freed.CurrentOrderID)
	assert.Equal(t, driverdomain.DriverStatusAvailable, freed.Status)
	assert.Equal(t, 0, freed.DeliveriesCompleted, "cancellation is not a completed delivery")
}
