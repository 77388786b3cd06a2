package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	driverboot "marketfleet/internal/driver/bootstrap"
	orderboot "marketfleet/internal/order/bootstrap"
	"marketfleet/internal/shared/config"
	"marketfleet/internal/shared/logger"
)

func main() {
	svc := flag.String("service", "order", "order|driver|all")
	flag.Parse()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() { <-quit; cancel() }()

	switch *svc {
	case "order":
		log := logger.New("order-service", cfg.LogLevel)
		if err := orderboot.Run(ctx, cfg, log); err != nil {
			log.Fatal().Err(err).Msg("order service failed")
		}

	case "driver":
		log := logger.New("driver-service", cfg.LogLevel)
		if err := driverboot.Run(ctx, cfg, log); err != nil {
			log.Fatal().Err(err).Msg("driver service failed")
		}

	case "all":
		orderLog := logger.New("order-service", cfg.LogLevel)
		driverLog := logger.New("driver-service", cfg.LogLevel)

		go func() {
			if err := orderboot.Run(ctx, cfg, orderLog); err != nil {
				orderLog.Error().Err(err).Msg("order service failed")
				cancel()
			}
		}()
		go func() {
			if err := driverboot.Run(ctx, cfg, driverLog); err != nil {
				driverLog.Error().Err(err).Msg("driver service failed")
				cancel()
			}
		}()
		<-ctx.Done()

	default:
		log := logger.New("bootstrap", cfg.LogLevel)
		log.Fatal().Str("service", *svc).Msg("unknown service, want order|driver|all")
	}
}
