package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"marketfleet/internal/order/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const copyColumns = `
	order_id, code, status,
	driver_id, driver_name, driver_lat, driver_lng,
	confirmed_at, preparing_at, ready_at, claimed_at, picked_up_at, delivered_at, cancelled_at,
	updated_at`

type replicaPgRepository struct {
	pool *pgxpool.Pool
}

func NewReplicaPgRepository(pool *pgxpool.Pool) ReplicaRepository {
	return &replicaPgRepository{pool: pool}
}

// Each copy table keys on its own party column, so the SQL is built per
// table rather than shared verbatim.
func upsertCopySQL(table, keyColumn string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (
			%s, order_id, code, status,
			driver_id, driver_name, driver_lat, driver_lng,
			confirmed_at, preparing_at, ready_at, claimed_at, picked_up_at, delivered_at, cancelled_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		ON CONFLICT (%s, order_id) DO UPDATE SET
			status       = EXCLUDED.status,
			driver_id    = EXCLUDED.driver_id,
			driver_name  = EXCLUDED.driver_name,
			driver_lat   = EXCLUDED.driver_lat,
			driver_lng   = EXCLUDED.driver_lng,
			confirmed_at = EXCLUDED.confirmed_at,
			preparing_at = EXCLUDED.preparing_at,
			ready_at     = EXCLUDED.ready_at,
			claimed_at   = EXCLUDED.claimed_at,
			picked_up_at = EXCLUDED.picked_up_at,
			delivered_at = EXCLUDED.delivered_at,
			cancelled_at = EXCLUDED.cancelled_at,
			updated_at   = NOW()
	`, table, keyColumn, keyColumn)
}

func listCopiesSQL(table, keyColumn string) string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY updated_at DESC`,
		copyColumns, table, keyColumn)
}

func (r *replicaPgRepository) UpsertVendorCopy(ctx context.Context, o *domain.Order) error {
	return r.upsertCopy(ctx, "vendor_orders", "vendor_id", o.VendorID, o)
}

func (r *replicaPgRepository) UpsertCustomerCopy(ctx context.Context, o *domain.Order) error {
	return r.upsertCopy(ctx, "customer_orders", "customer_id", o.CustomerID, o)
}

func (r *replicaPgRepository) upsertCopy(ctx context.Context, table, keyColumn, partyID string, o *domain.Order) error {
	_, err := r.pool.Exec(ctx, upsertCopySQL(table, keyColumn),
		partyID, o.ID, o.Code, o.Status,
		o.DriverID, o.DriverName, o.DriverLat, o.DriverLng,
		o.ConfirmedAt, o.PreparingAt, o.ReadyAt, o.ClaimedAt, o.PickedUpAt, o.DeliveredAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert %s copy: %w", table, err)
	}
	return nil
}

func (r *replicaPgRepository) RecordFailure(ctx context.Context, orderID, target string, fields []string, lastErr string) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal failed fields: %w", err)
	}

	query := `
		INSERT INTO propagation_failures (order_id, target, fields, last_error, occurred_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	if _, err := r.pool.Exec(ctx, query, orderID, target, fieldsJSON, lastErr); err != nil {
		return fmt.Errorf("record propagation failure: %w", err)
	}
	return nil
}

func (r *replicaPgRepository) ListVendorCopies(ctx context.Context, vendorID string) ([]OrderCopy, error) {
	return r.listCopies(ctx, "vendor_orders", "vendor_id", vendorID)
}

func (r *replicaPgRepository) ListCustomerCopies(ctx context.Context, customerID string) ([]OrderCopy, error) {
	return r.listCopies(ctx, "customer_orders", "customer_id", customerID)
}

func (r *replicaPgRepository) listCopies(ctx context.Context, table, keyColumn, partyID string) ([]OrderCopy, error) {
	rows, err := r.pool.Query(ctx, listCopiesSQL(table, keyColumn), partyID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	copies := make([]OrderCopy, 0)
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		copies = append(copies, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return copies, nil
}

func scanCopy(row pgx.Row) (*OrderCopy, error) {
	var c OrderCopy
	err := row.Scan(
		&c.OrderID, &c.Code, &c.Status,
		&c.DriverID, &c.DriverName, &c.DriverLat, &c.DriverLng,
		&c.ConfirmedAt, &c.PreparingAt, &c.ReadyAt, &c.ClaimedAt, &c.PickedUpAt, &c.DeliveredAt, &c.CancelledAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
