package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"marketfleet/internal/feed"
	"marketfleet/internal/order/repo"
	"marketfleet/internal/order/transport"
	"marketfleet/internal/order/usecase"
	"marketfleet/internal/propagation"
	"marketfleet/internal/shared/auth"
	"marketfleet/internal/shared/config"
	"marketfleet/internal/shared/db"
	"marketfleet/internal/shared/mq"
	"marketfleet/internal/shared/ws"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const serviceName = "order-service"

// Run assembles and serves the order service until ctx is cancelled.
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

	orderRepo := repo.NewOrderPgRepository(pool)
	replicaRepo := repo.NewReplicaPgRepository(pool)

	propagator := propagation.New(replicaRepo, log,
		propagation.WithPublisher(rabbit),
		propagation.WithNotifier(gateway),
		propagation.WithOrigin(serviceName),
	)

	orderService := usecase.NewOrderService(orderRepo, replicaRepo, propagator, cfg.Policy, log)
	gateway.Configure(
		feed.WithVendorFeeds(orderService),
		feed.WithOrderFeeds(orderService),
	)

	bridge := feed.NewBridgeConsumer(rabbit, gateway, serviceName, log)
	if err := bridge.Start(ctx, mq.QueueOrderServiceEvents); err != nil {
		return fmt.Errorf("feed bridge: %w", err)
	}

	if err := startDriverStatusConsumer(ctx, rabbit, hub, log); err != nil {
		return fmt.Errorf("driver status consumer: %w", err)
	}

	handler := transport.NewHandler(orderService, cfg.Policy, log)
	router := transport.NewRouter(handler, hub, jwtService, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Services.OrderServicePort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serve(ctx, server, log)
}

// startDriverStatusConsumer relays driver availability changes from the
// driver service to connected admin dashboards.
func startDriverStatusConsumer(ctx context.Context, rabbit *mq.RabbitMQ, hub *ws.Hub, log zerolog.Logger) error {
	return rabbit.Consume(ctx, mq.QueueDriverStatusEvents, serviceName+"_driver_status", func(msg amqp.Delivery) {
		var payload json.RawMessage
		if err := json.Unmarshal(msg.Body, &payload); err != nil {
			_ = msg.Nack(false, false)
			return
		}
		body, err := json.Marshal(map[string]any{"type": "driver_status", "data": payload})
		if err == nil {
			hub.SendToRole(auth.RoleAdmin, body)
		}
		_ = msg.Ack(false)
	})
}

// serve runs the HTTP server and shuts it down gracefully on ctx cancel.
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
