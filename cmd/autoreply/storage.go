package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/migrations"
	"github.com/goliatone/go-autoreply/store"
	badgerkv "github.com/goliatone/go-autoreply/store/badger"
	sqlstore "github.com/goliatone/go-autoreply/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const kvCacheTTL = time.Minute

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-autoreply" }

// openStore builds the key value store for cfg.Storage. The returned closer
// releases the underlying database.
func openStore(ctx context.Context, cfg core.StorageConfig, logger core.Logger) (core.KeyValueStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return store.NewMemoryKV(), noop, nil
	case "badger":
		kv, err := badgerkv.Open(badgerkv.Config{Path: cfg.Path, InMemory: cfg.Path == "", Logger: logger})
		if err != nil {
			return nil, noop, err
		}
		return kv, kv.Close, nil
	case "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file:autoreply.db?cache=shared&_foreign_keys=on"
		}
		return openSQLStore(ctx, "sqlite3", dsn, migrations.DialectSQLite, sqlitedialect.New())
	case "postgres":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, noop, fmt.Errorf("storage: postgres requires storage.dsn")
		}
		return openSQLStore(ctx, "postgres", cfg.DSN, migrations.DialectPostgres, pgdialect.New())
	default:
		return nil, noop, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}

func openSQLStore(ctx context.Context, driver, dsn, dialect string, bunDialect schema.Dialect) (core.KeyValueStore, func() error, error) {
	noop := func() error { return nil }
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, noop, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn}, sqlDB, bunDialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, noop, fmt.Errorf("storage: persistence client: %w", err)
	}
	if err := migrations.ForDialect(ctx, dialect, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	}); err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, noop, fmt.Errorf("storage: migrate: %w", err)
	}

	stores, err := sqlstore.Open(client)
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = kvCacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		_ = client.Close()
		return nil, noop, fmt.Errorf("storage: cache service: %w", err)
	}
	kv, err := stores.CachedKV(cacheService)
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	return kv, client.Close, nil
}
