package usecase

import (
	"context"
	"time"

	"marketfleet/internal/order/domain"
	"marketfleet/internal/order/repo"
	"marketfleet/internal/shared/config"

	"github.com/rs/zerolog"
)

// changePropagator pushes an accepted mutation to the copies, the broker and
// the live feeds. It runs after the primary commit and cannot fail it.
type changePropagator interface {
	Propagate(ctx context.Context, event domain.ChangeEvent, o *domain.Order)
}

// OrderService owns order creation, status advancement and the party-facing
// read paths.
type OrderService struct {
	orders     repo.OrderRepository
	replicas   repo.ReplicaRepository
	propagator changePropagator
	policy     config.PolicyConfig
	log        zerolog.Logger
	now        func() time.Time
}

func NewOrderService(
	orders repo.OrderRepository,
	replicas repo.ReplicaRepository,
	propagator changePropagator,
	policy config.PolicyConfig,
	log zerolog.Logger,
) *OrderService {
	return &OrderService{
		orders:     orders,
		replicas:   replicas,
		propagator: propagator,
		policy:     policy,
		log:        log,
		now:        time.Now,
	}
}
