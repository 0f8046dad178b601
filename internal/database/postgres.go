package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/config"
)

// minWorkerConns is one idle connection per batch worker.
const minWorkerConns = 3

// NewPostgresPool creates and validates a PostgreSQL connection pool shared
// by the repositories and the batch workers.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns
	poolCfg.MinConns = min(minWorkerConns, cfg.MaxDBConns)
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "exam-runner"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", poolCfg.MaxConns).
		Int32("min_conns", poolCfg.MinConns).
		Str("host", poolCfg.ConnConfig.Host).
		Msg("PostgreSQL connected")

	return pool, nil
}
