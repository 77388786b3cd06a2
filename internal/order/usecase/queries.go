package usecase

import (
	"context"

	"marketfleet/internal/order/domain"
	"marketfleet/internal/order/repo"
)

// GetOrder returns the authoritative order row. Party-level visibility:
// vendors, customers and drivers see only their own orders; admin sees all.
func (s *OrderService) GetOrder(ctx context.Context, orderID, actorID, actorRole string) (*domain.Order, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch actorRole {
	case domain.ActorAdmin:
	case domain.ActorVendor:
		if o.VendorID != actorID {
			return nil, domain.ErrOrderNotFound
		}
	case domain.ActorCustomer:
		if o.CustomerID != actorID {
			return nil, domain.ErrOrderNotFound
		}
	case domain.ActorDriver:
		if o.DriverID == nil || *o.DriverID != actorID {
			return nil, domain.ErrOrderNotFound
		}
	default:
		return nil, domain.ErrOrderNotFound
	}

	return o, nil
}

// ListVendorOrders serves the vendor's "my orders" view from the vendor copy
// table. Copy reads may trail the primary briefly.
func (s *OrderService) ListVendorOrders(ctx context.Context, vendorID string) ([]repo.OrderCopy, error) {
	return s.replicas.ListVendorCopies(ctx, vendorID)
}

// ListCustomerOrders serves the customer's "my orders" view from the customer
// copy table.
func (s *OrderService) ListCustomerOrders(ctx context.Context, customerID string) ([]repo.OrderCopy, error) {
	return s.replicas.ListCustomerCopies(ctx, customerID)
}

// ListOpenVendorOrders reads the primary for the vendor feed snapshot, where
// staleness is not acceptable.
func (s *OrderService) ListOpenVendorOrders(ctx context.Context, vendorID string) ([]domain.Order, error) {
	return s.orders.ListOpenByVendor(ctx, vendorID)
}
