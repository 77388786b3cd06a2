package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketfleet/internal/order/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `
	id, code, customer_id, vendor_id, fulfillment_type, status,
	items, subtotal, delivery_fee, tax, total, delivery_address,
	pickup_lat, pickup_lng, pin,
	driver_id, driver_name, driver_lat, driver_lng,
	confirmed_at, preparing_at, ready_at, claimed_at, picked_up_at, delivered_at, cancelled_at,
	created_at, updated_at`

type orderPgRepository struct {
	pool *pgxpool.Pool
}

func NewOrderPgRepository(pool *pgxpool.Pool) OrderRepository {
	return &orderPgRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var itemsJSON, addressJSON []byte

	err := row.Scan(
		&o.ID, &o.Code, &o.CustomerID, &o.VendorID, &o.FulfillmentType, &o.Status,
		&itemsJSON, &o.Subtotal, &o.DeliveryFee, &o.Tax, &o.Total, &addressJSON,
		&o.PickupLat, &o.PickupLng, &o.PIN,
		&o.DriverID, &o.DriverName, &o.DriverLat, &o.DriverLng,
		&o.ConfirmedAt, &o.PreparingAt, &o.ReadyAt, &o.ClaimedAt, &o.PickedUpAt, &o.DeliveredAt, &o.CancelledAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
	}
	if len(addressJSON) > 0 {
		var addr domain.Address
		if err := json.Unmarshal(addressJSON, &addr); err != nil {
			return nil, fmt.Errorf("unmarshal delivery_address: %w", err)
		}
		o.DeliveryAddress = &addr
	}

	return &o, nil
}

func (r *orderPgRepository) Create(ctx context.Context, o *domain.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	var addressJSON []byte
	if o.DeliveryAddress != nil {
		addressJSON, err = json.Marshal(o.DeliveryAddress)
		if err != nil {
			return fmt.Errorf("marshal delivery_address: %w", err)
		}
	}

	query := `
		INSERT INTO orders (
			id, code, customer_id, vendor_id, fulfillment_type, status,
			items, subtotal, delivery_fee, tax, total, delivery_address,
			pickup_lat, pickup_lng, pin, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`

	_, err = r.pool.Exec(ctx, query,
		o.ID, o.Code, o.CustomerID, o.VendorID, o.FulfillmentType, o.Status,
		itemsJSON, o.Subtotal, o.DeliveryFee, o.Tax, o.Total, addressJSON,
		o.PickupLat, o.PickupLng, o.PIN, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderPgRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// stampColumn names the timestamp column written when a status is reached.
func stampColumn(s domain.Status) string {
	switch s {
	case domain.StatusConfirmed:
		return "confirmed_at"
	case domain.StatusPreparing:
		return "preparing_at"
	case domain.StatusReadyForPickup:
		return "ready_at"
	case domain.StatusClaimed:
		return "claimed_at"
	case domain.StatusOutForDelivery:
		return "picked_up_at"
	case domain.StatusDelivered:
		return "delivered_at"
	case domain.StatusCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}

func (r *orderPgRepository) AdvanceStatus(ctx context.Context, orderID string, expected, next domain.Status, at time.Time) error {
	col := stampColumn(next)
	if col == "" {
		return domain.ErrInvalidTransition
	}

	// The WHERE status=$expected guard is what makes concurrent conflicting
	// transitions lose instead of last-writer-winning.
	query := fmt.Sprintf(`
		UPDATE orders
		SET status = $1, %s = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, col)

	tag, err := r.pool.Exec(ctx, query, next, at, orderID, expected)
	if err != nil {
		return fmt.Errorf("advance status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransitionConflict
	}
	return nil
}

func (r *orderPgRepository) Claim(ctx context.Context, orderID, driverID, driverName string, at time.Time) (*domain.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Re-read the order inside the transaction; the client's view of the
	// available list is always potentially stale.
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("query order for claim: %w", err)
	}

	switch {
	case o.DriverID != nil:
		return nil, domain.ErrAlreadyClaimed
	case o.FulfillmentType != domain.FulfillmentDelivery:
		return nil, domain.ErrNotClaimable
	case !domain.IsClaimable(o.Status):
		return nil, domain.ErrNotClaimable
	}

	// The driver_id IS NULL guard is redundant under FOR UPDATE but keeps
	// the write safe even if the isolation assumptions ever change.
	update := `
		UPDATE orders
		SET driver_id = $1, driver_name = $2, status = $3, claimed_at = $4, updated_at = NOW()
		WHERE id = $5 AND driver_id IS NULL
	`

	tag, err := tx.Exec(ctx, update, driverID, driverName, domain.StatusClaimed, at, orderID)
	if err != nil {
		return nil, fmt.Errorf("claim order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrAlreadyClaimed
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	o.DriverID = &driverID
	o.DriverName = &driverName
	o.Status = domain.StatusClaimed
	o.ClaimedAt = &at
	return o, nil
}

func (r *orderPgRepository) UpdateDriverLocation(ctx context.Context, orderID string, lat, lng float64) error {
	query := `
		UPDATE orders
		SET driver_lat = $1, driver_lng = $2, updated_at = NOW()
		WHERE id = $3 AND driver_id IS NOT NULL
	`

	tag, err := r.pool.Exec(ctx, query, lat, lng, orderID)
	if err != nil {
		return fmt.Errorf("update driver location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderPgRepository) ListOpenByVendor(ctx context.Context, vendorID string) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE vendor_id = $1 AND status NOT IN ($2, $3)
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, vendorID, domain.StatusDelivered, domain.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("query vendor orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *orderPgRepository) ListAvailable(ctx context.Context) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE fulfillment_type = $1
		  AND driver_id IS NULL
		  AND status IN ($2, $3, $4)
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query,
		domain.FulfillmentDelivery,
		domain.StatusConfirmed, domain.StatusPreparing, domain.StatusReadyForPickup,
	)
	if err != nil {
		return nil, fmt.Errorf("query available orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *orderPgRepository) FindActiveByDriver(ctx context.Context, driverID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE driver_id = $1 AND status NOT IN ($2, $3)
		ORDER BY claimed_at DESC
		LIMIT 1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, driverID, domain.StatusDelivered, domain.StatusCancelled))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("query active order: %w", err)
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}
