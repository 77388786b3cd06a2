package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	dispatchusecase "marketfleet/internal/dispatch/usecase"
	orderdomain "marketfleet/internal/order/domain"
	"marketfleet/internal/shared/auth"
	"marketfleet/internal/shared/ws"

	"github.com/rs/zerolog"
)

// Client-to-server subscription message types.
const (
	MsgSubscribeVendorOrders = "subscribe_vendor_orders"
	MsgSubscribeOrder        = "subscribe_order"
	MsgSubscribeAvailable    = "subscribe_available"
)

// Server-to-client message types.
const (
	MsgVendorOrdersSnapshot = "vendor_orders_snapshot"
	MsgOrderSnapshot        = "order_snapshot"
	MsgAvailableSnapshot    = "available_orders_snapshot"
	MsgSubscriptionError    = "subscription_error"
)

type vendorSnapshotter interface {
	ListOpenVendorOrders(ctx context.Context, vendorID string) ([]orderdomain.Order, error)
}

type orderGetter interface {
	GetOrder(ctx context.Context, orderID, actorID, actorRole string) (*orderdomain.Order, error)
}

type availableLister interface {
	AvailableOrders(ctx context.Context, driverID string) ([]dispatchusecase.AvailableOrder, error)
}

// Gateway routes accepted order changes to the live feeds a service hosts.
// A subscription delivers a snapshot first, then every subsequent event, so
// clients never render from a gap.
type Gateway struct {
	hub *ws.Hub
	log zerolog.Logger

	vendorSnapshots vendorSnapshotter
	orderAccess     orderGetter
	available       availableLister

	mu           sync.Mutex
	vendorSubs   map[string]struct{}            // vendor user id
	orderSubs    map[string]map[string]struct{} // order id -> user ids
	availableSub map[string]struct{}            // driver user id
}

type GatewayOption func(*Gateway)

func WithVendorFeeds(s vendorSnapshotter) GatewayOption {
	return func(g *Gateway) { g.vendorSnapshots = s }
}

func WithOrderFeeds(getter orderGetter) GatewayOption {
	return func(g *Gateway) { g.orderAccess = getter }
}

func WithAvailableFeeds(lister availableLister) GatewayOption {
	return func(g *Gateway) { g.available = lister }
}

func NewGateway(hub *ws.Hub, log zerolog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		hub:          hub,
		log:          log,
		vendorSubs:   make(map[string]struct{}),
		orderSubs:    make(map[string]map[string]struct{}),
		availableSub: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	hub.SetMessageHandler(g.handleMessage)
	return g
}

// Configure applies options after construction. The gateway has to exist
// before the services it snapshots from, since they hold it as notifier.
func (g *Gateway) Configure(opts ...GatewayOption) {
	for _, opt := range opts {
		opt(g)
	}
}

func (g *Gateway) handleMessage(client *ws.Client, messageType string, data json.RawMessage) error {
	ctx := context.Background()

	switch messageType {
	case MsgSubscribeVendorOrders:
		return g.subscribeVendorOrders(ctx, client)
	case MsgSubscribeOrder:
		return g.subscribeOrder(ctx, client, data)
	case MsgSubscribeAvailable:
		return g.subscribeAvailable(ctx, client)
	default:
		return fmt.Errorf("unknown message type %q", messageType)
	}
}

func (g *Gateway) subscribeVendorOrders(ctx context.Context, client *ws.Client) error {
	if g.vendorSnapshots == nil || client.Role != auth.RoleVendor {
		return g.reject(client, MsgSubscribeVendorOrders, "not available for this role")
	}

	snapshot, err := g.vendorSnapshots.ListOpenVendorOrders(ctx, client.UserID)
	if err != nil {
		return fmt.Errorf("vendor snapshot: %w", err)
	}

	g.mu.Lock()
	g.vendorSubs[client.UserID] = struct{}{}
	g.mu.Unlock()

	return g.hub.SendTypedMessage(client.UserID, MsgVendorOrdersSnapshot, snapshot)
}

func (g *Gateway) subscribeOrder(ctx context.Context, client *ws.Client, data json.RawMessage) error {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.OrderID == "" {
		return g.reject(client, MsgSubscribeOrder, "order_id required")
	}
	if g.orderAccess == nil {
		return g.reject(client, MsgSubscribeOrder, "not available on this service")
	}

	// The access check doubles as the snapshot read: only a party to the
	// order may follow it.
	o, err := g.orderAccess.GetOrder(ctx, req.OrderID, client.UserID, strings.ToLower(client.Role))
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			return g.reject(client, MsgSubscribeOrder, "order not found")
		}
		return fmt.Errorf("order snapshot: %w", err)
	}

	g.mu.Lock()
	subs, ok := g.orderSubs[req.OrderID]
	if !ok {
		subs = make(map[string]struct{})
		g.orderSubs[req.OrderID] = subs
	}
	subs[client.UserID] = struct{}{}
	g.mu.Unlock()

	return g.hub.SendTypedMessage(client.UserID, MsgOrderSnapshot, o)
}

func (g *Gateway) subscribeAvailable(ctx context.Context, client *ws.Client) error {
	if g.available == nil || client.Role != auth.RoleDriver {
		return g.reject(client, MsgSubscribeAvailable, "not available for this role")
	}

	snapshot, err := g.available.AvailableOrders(ctx, client.UserID)
	if err != nil {
		return fmt.Errorf("available snapshot: %w", err)
	}

	g.mu.Lock()
	g.availableSub[client.UserID] = struct{}{}
	g.mu.Unlock()

	return g.hub.SendTypedMessage(client.UserID, MsgAvailableSnapshot, snapshot)
}

func (g *Gateway) reject(client *ws.Client, subscription, reason string) error {
	return g.hub.SendTypedMessage(client.UserID, MsgSubscriptionError, map[string]string{
		"subscription": subscription,
		"reason":       reason,
	})
}

// NotifyOrderChange fans one accepted change out to every local feed that
// covers it. The order may be nil when the event arrived over the broker.
func (g *Gateway) NotifyOrderChange(event orderdomain.ChangeEvent, o *orderdomain.Order) {
	g.mu.Lock()
	_, vendorSubscribed := g.vendorSubs[event.VendorID]
	var orderWatchers []string
	for userID := range g.orderSubs[event.OrderID] {
		orderWatchers = append(orderWatchers, userID)
	}
	var availableWatchers []string
	for userID := range g.availableSub {
		availableWatchers = append(availableWatchers, userID)
	}
	g.mu.Unlock()

	if vendorSubscribed {
		g.send(event.VendorID, event.Kind, event, func() {
			g.mu.Lock()
			delete(g.vendorSubs, event.VendorID)
			g.mu.Unlock()
		})
	}

	for _, userID := range orderWatchers {
		uid := userID
		g.send(uid, event.Kind, event, func() {
			g.mu.Lock()
			if subs, ok := g.orderSubs[event.OrderID]; ok {
				delete(subs, uid)
				if len(subs) == 0 {
					delete(g.orderSubs, event.OrderID)
				}
			}
			g.mu.Unlock()
		})
	}

	if affectsAvailability(event, o) {
		for _, userID := range availableWatchers {
			uid := userID
			g.send(uid, event.Kind, event, func() {
				g.mu.Lock()
				delete(g.availableSub, uid)
				g.mu.Unlock()
			})
		}
	}

	if event.Kind == orderdomain.EventOrderDelivered || event.Kind == orderdomain.EventOrderCancelled {
		g.mu.Lock()
		delete(g.orderSubs, event.OrderID)
		g.mu.Unlock()
	}
}

// send delivers one envelope; a fully disconnected subscriber is pruned via
// onGone so the registry does not grow without bound.
func (g *Gateway) send(userID, msgType string, event orderdomain.ChangeEvent, onGone func()) {
	if err := g.hub.SendTypedMessage(userID, msgType, event); err != nil {
		if errors.Is(err, ws.ErrNotConnected) {
			onGone()
			return
		}
		g.log.Warn().
			Str("action", "feed_send_failed").
			Str("user_id", userID).
			Str("msg_type", msgType).
			Err(err).
			Msg("feed delivery failed")
	}
}

// affectsAvailability reports whether the change alters the driver-facing
// available list: new claimable work appearing, or work leaving the pool.
func affectsAvailability(event orderdomain.ChangeEvent, o *orderdomain.Order) bool {
	switch event.Kind {
	case orderdomain.EventOrderClaimed, orderdomain.EventOrderCancelled:
		return true
	case orderdomain.EventStatusChanged:
		if o != nil {
			return o.FulfillmentType == orderdomain.FulfillmentDelivery &&
				o.DriverID == nil &&
				orderdomain.IsClaimable(o.Status)
		}
		if event.DriverID != "" {
			return false
		}
		return orderdomain.IsClaimable(statusFromEvent(event))
	default:
		return false
	}
}

// statusFromEvent tolerates both in-process and broker-decoded payloads.
func statusFromEvent(event orderdomain.ChangeEvent) orderdomain.Status {
	switch v := event.NewValues["status"].(type) {
	case orderdomain.Status:
		return v
	case string:
		return orderdomain.Status(v)
	default:
		return ""
	}
}
