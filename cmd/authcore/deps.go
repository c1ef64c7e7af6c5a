// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/synthstack/authcore/internal/auth"
	"github.com/synthstack/authcore/internal/auth/postgres"
	"github.com/synthstack/authcore/internal/config"
	"github.com/synthstack/authcore/internal/observability"
	"github.com/synthstack/authcore/internal/store"
)

// Store wraps the methods the maintenance commands use from postgres.Store.
type Store interface {
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*auth.User, error)
	SetBanned(ctx context.Context, userID ulid.ULID, banned bool) error
}

// StoreOpener connects to the configured database. The returned func
// releases the connection.
type StoreOpener func(ctx context.Context, cfg *config.Config) (Store, func(), error)

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// MigratorFactory creates a Migrator for a database URL.
type MigratorFactory func(databaseURL string) (Migrator, error)

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// OpenPool connects to PostgreSQL.
	// Default: store.Open
	OpenPool func(ctx context.Context, dsn string, cfg store.PoolConfig) (*pgxpool.Pool, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

func poolConfig(cfg *config.Config) store.PoolConfig {
	return store.PoolConfig{MaxConns: cfg.Database.MaxConns}
}

func defaultStoreOpener(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	pool, err := store.Open(ctx, cfg.Database.URL, poolConfig(cfg))
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // store.Open errors carry codes
	}
	return postgres.New(pool), pool.Close, nil
}

func defaultMigratorFactory(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err //nolint:wrapcheck // store errors carry codes
	}
	return m, nil
}
