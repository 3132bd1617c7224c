package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
	"github.com/AntonStoeckl/jstreams-go/jstreams/postgresengine"
	"github.com/AntonStoeckl/jstreams-go/jstreams/redisengine"
)

// store is an opened backend: the Dialer feeds a jstreams.Context, engine is set for Postgres only.
type store struct {
	dialer jstreams.Dialer
	engine *postgresengine.Engine
	close  func()
}

const postgresConnectTimeout = 5 * time.Second

func openStore(ctx context.Context, s *settings, logger *slog.Logger) (*store, error) {
	storeURL := s.storeURL

	parsed, err := url.Parse(storeURL)
	if err != nil {
		return nil, errors.Join(jstreams.ErrConfiguration, fmt.Errorf("parsing store url: %w", err))
	}

	switch parsed.Scheme {
	case "redis", "rediss":
		dialer, err := redisengine.NewDialer(storeURL)
		if err != nil {
			return nil, err
		}

		return &store{dialer: dialer, close: func() {}}, nil

	case "postgres", "postgresql":
		poolConfig, err := pgxpool.ParseConfig(storeURL)
		if err != nil {
			return nil, errors.Join(jstreams.ErrConfiguration, fmt.Errorf("parsing store url: %w", err))
		}

		poolConfig.MaxConns = s.poolSize
		poolConfig.ConnConfig.ConnectTimeout = postgresConnectTimeout

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, errors.Join(jstreams.ErrStore, fmt.Errorf("connecting to postgres: %w", err))
		}

		engine, err := postgresengine.NewEngineFromPGXPool(pool, postgresengine.WithLogger(logger))
		if err != nil {
			pool.Close()
			return nil, err
		}

		return &store{dialer: engine.Dialer(), engine: engine, close: pool.Close}, nil

	default:
		return nil, errors.Join(jstreams.ErrConfiguration, fmt.Errorf("unsupported store scheme %q", parsed.Scheme))
	}
}
