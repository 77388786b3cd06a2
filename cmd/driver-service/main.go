package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketfleet/internal/driver/bootstrap"
	"marketfleet/internal/shared/config"
	"marketfleet/internal/shared/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("driver-service", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() { <-quit; cancel() }()

	if err := bootstrap.Run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("driver service failed")
	}
}
