package usecase

import (
	"context"
	"encoding/json"
	"time"

	"marketfleet/internal/driver/domain"
	"marketfleet/internal/driver/repo"
	"marketfleet/internal/geo"
	orderdomain "marketfleet/internal/order/domain"
	orderrepo "marketfleet/internal/order/repo"
	"marketfleet/internal/shared/config"
	"marketfleet/internal/shared/mq"

	"github.com/rs/zerolog"
)

type changePropagator interface {
	Propagate(ctx context.Context, event orderdomain.ChangeEvent, o *orderdomain.Order)
}

type publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// DriverService owns the driver-controlled state: the online toggle and the
// position stream.
type DriverService struct {
	drivers    repo.DriverRepository
	orders     orderrepo.OrderRepository
	propagator changePropagator
	publisher  publisher
	policy     config.PolicyConfig
	log        zerolog.Logger
	now        func() time.Time
}

func NewDriverService(
	drivers repo.DriverRepository,
	orders orderrepo.OrderRepository,
	propagator changePropagator,
	pub publisher,
	policy config.PolicyConfig,
	log zerolog.Logger,
) *DriverService {
	return &DriverService{
		drivers:    drivers,
		orders:     orders,
		propagator: propagator,
		publisher:  pub,
		policy:     policy,
		log:        log,
		now:        time.Now,
	}
}

// GoOnline registers the driver if needed and marks them available. A driver
// reconnecting mid-delivery comes back BUSY, not AVAILABLE.
func (s *DriverService) GoOnline(ctx context.Context, driverID, name string) (*domain.Driver, error) {
	if err := s.drivers.Upsert(ctx, &domain.Driver{
		ID:     driverID,
		Name:   name,
		Status: domain.DriverStatusOffline,
	}); err != nil {
		return nil, err
	}
	if err := s.drivers.SetOnline(ctx, driverID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("action", "driver_online").
		Str("driver_id", driverID).
		Msg("driver online")

	d, err := s.drivers.FindByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, d)
	return d, nil
}

// GoOffline marks the driver offline. Refused mid-delivery.
func (s *DriverService) GoOffline(ctx context.Context, driverID string) error {
	if err := s.drivers.SetOffline(ctx, driverID); err != nil {
		return err
	}

	s.log.Info().
		Str("action", "driver_offline").
		Str("driver_id", driverID).
		Msg("driver offline")

	if d, err := s.drivers.FindByID(ctx, driverID); err == nil {
		s.publishStatus(ctx, d)
	}
	return nil
}

type driverStatusEvent struct {
	DriverID string              `json:"driver_id"`
	Online   bool                `json:"online"`
	Status   domain.DriverStatus `json:"status"`
	At       time.Time           `json:"at"`
}

func (s *DriverService) publishStatus(ctx context.Context, d *domain.Driver) {
	if s.publisher == nil {
		return
	}
	body, err := json.Marshal(driverStatusEvent{
		DriverID: d.ID,
		Online:   d.Online,
		Status:   d.Status,
		At:       s.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, mq.ExchangeDriverTopic, mq.KeyDriverStatusChanged, body); err != nil {
		s.log.Warn().
			Str("action", "driver_status_publish_failed").
			Str("driver_id", d.ID).
			Err(err).
			Msg("broker publish skipped")
	}
}

type locationUpdate struct {
	DriverID string    `json:"driver_id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	OrderID  string    `json:"order_id,omitempty"`
	At       time.Time `json:"at"`
}

// UpdateLocation accepts a position report: validated, rate limited per
// driver, stored, fanned out to the broker, and mirrored onto the active
// order so customer feeds can track the courier.
func (s *DriverService) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	if !geo.ValidCoordinates(lat, lng) {
		return domain.ErrInvalidCoordinates
	}

	d, err := s.drivers.FindByID(ctx, driverID)
	if err != nil {
		return err
	}

	at := s.now().UTC()
	if d.LocationAt != nil && at.Sub(*d.LocationAt) < s.policy.LocationMinInterval {
		return domain.ErrLocationTooFrequent
	}

	if err := s.drivers.UpdateLocation(ctx, driverID, lat, lng, at); err != nil {
		return err
	}

	update := locationUpdate{DriverID: driverID, Lat: lat, Lng: lng, At: at}
	if d.CurrentOrderID != nil {
		update.OrderID = *d.CurrentOrderID
	}
	s.fanOut(ctx, update)

	if d.CurrentOrderID == nil {
		return nil
	}

	// Mirror onto the active order. The driver row already holds the truth;
	// a miss here only delays the customer's map pin.
	orderID := *d.CurrentOrderID
	if err := s.orders.UpdateDriverLocation(ctx, orderID, lat, lng); err != nil {
		s.log.Warn().
			Str("action", "order_location_mirror_failed").
			Str("driver_id", driverID).
			Str("order_id", orderID).
			Err(err).
			Msg("location mirror skipped")
		return nil
	}

	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil
	}

	s.propagator.Propagate(ctx, orderdomain.ChangeEvent{
		Kind:          orderdomain.EventDriverLocation,
		OrderID:       o.ID,
		Code:          o.Code,
		VendorID:      o.VendorID,
		CustomerID:    o.CustomerID,
		DriverID:      driverID,
		ChangedFields: []string{"driver_lat", "driver_lng"},
		NewValues:     map[string]any{"driver_lat": lat, "driver_lng": lng},
		ServerTime:    at,
	}, o)

	return nil
}

func (s *DriverService) fanOut(ctx context.Context, update locationUpdate) {
	if s.publisher == nil {
		return
	}
	body, err := json.Marshal(update)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, mq.ExchangeLocationFanout, "", body); err != nil {
		s.log.Warn().
			Str("action", "location_fanout_failed").
			Str("driver_id", update.DriverID).
			Err(err).
			Msg("broker fanout skipped")
	}
}

// Profile returns the driver's current state.
func (s *DriverService) Profile(ctx context.Context, driverID string) (*domain.Driver, error) {
	return s.drivers.FindByID(ctx, driverID)
}
