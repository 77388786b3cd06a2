package db

import (
	"context"
	"fmt"
	"time"

	"marketfleet/internal/shared/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// NewPool creates the PostgreSQL connection pool with production limits.
func NewPool(ctx context.Context, cfg config.DBConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	log.Info().
		Str("action", "db_connected").
		Msgf("connected to %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)

	return pool, nil
}

// Close shuts the pool down and logs it.
func Close(pool *pgxpool.Pool, log zerolog.Logger) {
	if pool != nil {
		pool.Close()
		log.Info().Str("action", "db_closed").Msg("database pool closed")
	}
}
