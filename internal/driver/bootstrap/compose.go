package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	dispatchusecase "marketfleet/internal/dispatch/usecase"
	driverrepo "marketfleet/internal/driver/repo"
	"marketfleet/internal/driver/transport"
	driverusecase "marketfleet/internal/driver/usecase"
	"marketfleet/internal/feed"
	orderdomain "marketfleet/internal/order/domain"
	orderrepo "marketfleet/internal/order/repo"
	"marketfleet/internal/propagation"
	"marketfleet/internal/shared/auth"
	"marketfleet/internal/shared/config"
	"marketfleet/internal/shared/db"
	"marketfleet/internal/shared/mq"
	"marketfleet/internal/shared/ws"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const serviceName = "driver-service"

// Run assembles and serves the driver service until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	pool, err := db.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close(pool, log)

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rabbit, err := mq.NewRabbitMQ(ctx, cfg.RabbitMQ, log)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	defer rabbit.Close()

	if err := mq.SetupTopology(rabbit, log); err != nil {
		return fmt.Errorf("topology: %w", err)
	}

	jwtService := auth.NewJWTService(cfg.JWT)

	hub := ws.NewHub(func(token string) (string, string, error) {
		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID, claims.Role, nil
	}, log)
	go hub.Run(ctx)

	gateway := feed.NewGateway(hub, log)

	orders := orderrepo.NewOrderPgRepository(pool)
	replicas := orderrepo.NewReplicaPgRepository(pool)
	drivers := driverrepo.NewDriverPgRepository(pool)

	propagator := propagation.New(replicas, log,
		propagation.WithPublisher(rabbit),
		propagation.WithNotifier(gateway),
		propagation.WithOrigin(serviceName),
	)

	dispatchService := dispatchusecase.NewDispatchService(orders, drivers, propagator, cfg.Policy, log)
	driverService := driverusecase.NewDriverService(drivers, orders, propagator, rabbit, cfg.Policy, log)

	gateway.Configure(
		feed.WithAvailableFeeds(dispatchService),
		feed.WithOrderFeeds(assignedOrderAccess{orders: orders}),
	)

	bridge := feed.NewBridgeConsumer(rabbit, gateway, serviceName, log)
	if err := bridge.Start(ctx, mq.QueueDriverServiceEvents); err != nil {
		return fmt.Errorf("feed bridge: %w", err)
	}

	// Orders completed or cancelled on the other service must still free
	// their drivers.
	if err := startReleaseConsumer(ctx, rabbit, dispatchService, log); err != nil {
		return fmt.Errorf("release consumer: %w", err)
	}

	handler := transport.NewHandler(driverService, dispatchService, log)
	router := transport.NewRouter(handler, hub, jwtService, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Services.DriverServicePort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serve(ctx, server, log)
}

// assignedOrderAccess scopes the per-order feed on this service to the
// assigned driver; everyone else follows their orders on the order service.
type assignedOrderAccess struct {
	orders orderrepo.OrderRepository
}

func (a assignedOrderAccess) GetOrder(ctx context.Context, orderID, actorID, _ string) (*orderdomain.Order, error) {
	o, err := a.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.DriverID == nil || *o.DriverID != actorID {
		return nil, orderdomain.ErrOrderNotFound
	}
	return o, nil
}

// startReleaseConsumer frees drivers on terminal order events that this
// service did not produce itself. Release is idempotent, so a redelivered or
// duplicate event is harmless. Only a delivery credits the driver's total; a
// cancellation just frees the assignment.
func startReleaseConsumer(ctx context.Context, rabbit *mq.RabbitMQ, dispatch *dispatchusecase.DispatchService, log zerolog.Logger) error {
	return rabbit.Consume(ctx, mq.QueueDriverReleases, serviceName+"_release", func(msg amqp.Delivery) {
		var event orderdomain.ChangeEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			_ = msg.Nack(false, false)
			return
		}
		if event.Origin != serviceName && event.DriverID != "" &&
			(event.Kind == orderdomain.EventOrderDelivered || event.Kind == orderdomain.EventOrderCancelled) {
			dispatch.ReleaseDriver(ctx, event.DriverID, event.OrderID,
				event.Kind == orderdomain.EventOrderDelivered)
		}
		_ = msg.Ack(false)
	})
}

func serve(ctx context.Context, server *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("action", "http_listening").
			Str("addr", server.Addr).
			Msg("serving")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Str("action", "http_stopped").Msg("server stopped")
	return nil
}
