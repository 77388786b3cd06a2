package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketfleet/internal/driver/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const driverColumns = `
	id, name, online, status, current_order_id,
	last_lat, last_lng, location_at,
	deliveries_completed, rating, created_at, updated_at`

type driverPgRepository struct {
	pool *pgxpool.Pool
}

func NewDriverPgRepository(pool *pgxpool.Pool) DriverRepository {
	return &driverPgRepository{pool: pool}
}

func (r *driverPgRepository) FindByID(ctx context.Context, driverID string) (*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`

	var d domain.Driver
	err := r.pool.QueryRow(ctx, query, driverID).Scan(
		&d.ID, &d.Name, &d.Online, &d.Status, &d.CurrentOrderID,
		&d.LastLat, &d.LastLng, &d.LocationAt,
		&d.DeliveriesCompleted, &d.Rating, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDriverNotFound
		}
		return nil, fmt.Errorf("query driver: %w", err)
	}
	return &d, nil
}

func (r *driverPgRepository) Upsert(ctx context.Context, d *domain.Driver) error {
	query := `
		INSERT INTO drivers (id, name, online, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, d.ID, d.Name, d.Online, d.Status); err != nil {
		return fmt.Errorf("upsert driver: %w", err)
	}
	return nil
}

func (r *driverPgRepository) SetOnline(ctx context.Context, driverID string) error {
	// A BUSY driver coming back online keeps BUSY; everyone else becomes
	// AVAILABLE.
	query := `
		UPDATE drivers
		SET online = TRUE,
		    status = CASE WHEN current_order_id IS NOT NULL THEN 'BUSY' ELSE 'AVAILABLE' END,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, driverID)
	if err != nil {
		return fmt.Errorf("set driver online: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDriverNotFound
	}
	return nil
}

func (r *driverPgRepository) SetOffline(ctx context.Context, driverID string) error {
	query := `
		UPDATE drivers
		SET online = FALSE, status = $1, updated_at = NOW()
		WHERE id = $2 AND current_order_id IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, domain.DriverStatusOffline, driverID)
	if err != nil {
		return fmt.Errorf("set driver offline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or mid-delivery; distinguish for the caller.
		if _, findErr := r.FindByID(ctx, driverID); findErr != nil {
			return findErr
		}
		return domain.ErrDriverBusy
	}
	return nil
}

func (r *driverPgRepository) UpdateLocation(ctx context.Context, driverID string, lat, lng float64, at time.Time) error {
	query := `
		UPDATE drivers
		SET last_lat = $1, last_lng = $2, location_at = $3, updated_at = NOW()
		WHERE id = $4
	`

	tag, err := r.pool.Exec(ctx, query, lat, lng, at, driverID)
	if err != nil {
		return fmt.Errorf("update driver location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDriverNotFound
	}
	return nil
}

func (r *driverPgRepository) Assign(ctx context.Context, driverID, orderID string) error {
	query := `
		UPDATE drivers
		SET status = $1, current_order_id = $2, updated_at = NOW()
		WHERE id = $3 AND online = TRUE AND status = $4 AND current_order_id IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, domain.DriverStatusBusy, orderID, driverID, domain.DriverStatusAvailable)
	if err != nil {
		return fmt.Errorf("assign driver: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, findErr := r.FindByID(ctx, driverID); findErr != nil {
			return findErr
		}
		return domain.ErrDriverNotAvailable
	}
	return nil
}

func (r *driverPgRepository) Release(ctx context.Context, driverID, orderID string, completed bool) (bool, error) {
	// The current_order_id guard makes repeat releases no-ops, so the
	// completion counter never double-increments. Cancellations free the
	// driver without crediting a delivery.
	query := `
		UPDATE drivers
		SET current_order_id = NULL,
		    status = CASE WHEN online THEN 'AVAILABLE' ELSE 'OFFLINE' END,
		    deliveries_completed = deliveries_completed + CASE WHEN $3 THEN 1 ELSE 0 END,
		    updated_at = NOW()
		WHERE id = $1 AND current_order_id = $2
	`

	tag, err := r.pool.Exec(ctx, query, driverID, orderID, completed)
	if err != nil {
		return false, fmt.Errorf("release driver: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
