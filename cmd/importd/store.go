package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/snapimport/internal/config"
	"github.com/JonMunkholm/snapimport/internal/core"
	"github.com/JonMunkholm/snapimport/internal/store/memstore"
	"github.com/JonMunkholm/snapimport/internal/store/postgres"
)

// backend is a job store that also serves tenant scopes.
type backend interface {
	core.Repository
	core.Tenants
}

type openedStore struct {
	backend
	ping  func(ctx context.Context) error
	close func()
}

func openStore(ctx context.Context, cfg *config.Config) (*openedStore, error) {
	tenants, err := cfg.Store.ParseTenants()
	if err != nil {
		return nil, err
	}

	if strings.ToLower(cfg.Store.Backend) != config.StorePostgres {
		mem := memstore.New()
		for _, t := range tenants {
			mem.AddApplication(t.OrganizationID, t.ApplicationID)
		}
		slog.Info("using in-memory store", "tenants", len(tenants))
		return &openedStore{backend: mem, close: func() {}}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	store := postgres.New(pool)
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	for _, t := range tenants {
		if err := store.EnsureApplication(ctx, t.OrganizationID, t.ApplicationID); err != nil {
			pool.Close()
			return nil, fmt.Errorf("register tenant %s/%s: %w", t.OrganizationID, t.ApplicationID, err)
		}
	}

	return &openedStore{backend: store, ping: pool.Ping, close: pool.Close}, nil
}
