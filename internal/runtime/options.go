package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/solvency-gateway/internal/core/ports"
	"github.com/tjfontaine/solvency-gateway/internal/pkg/config"
	"github.com/tjfontaine/solvency-gateway/internal/stage"
	"github.com/tjfontaine/solvency-gateway/internal/storage/memory"
	"github.com/tjfontaine/solvency-gateway/internal/storage/sqldb"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig loads configuration from path and reloads the pipeline
// whenever the file changes.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		watcher, err := config.NewWatcher(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config watcher: %w", err)
		}
		g.watcher = watcher
		g.cfg = watcher.Current()
		return nil
	}
}

// WithConfig uses an already loaded configuration. It is not reloaded.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		g.cfg = cfg
		return nil
	}
}

// WithMemoryStore keeps clients in memory.
func WithMemoryStore() Option {
	return func(g *Gateway) error {
		g.storage = &config.StorageConfig{Type: "memory"}
		return nil
	}
}

// WithSQLite uses SQLite storage (default for single-instance deployments).
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		if path == "" {
			return fmt.Errorf("sqlite path cannot be empty")
		}
		g.storage = &config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: path}}
		return nil
	}
}

// WithPostgres uses PostgreSQL storage.
// Recommended for distributed deployments.
func WithPostgres(dsn string) Option {
	return func(g *Gateway) error {
		if dsn == "" {
			return fmt.Errorf("postgres dsn cannot be empty")
		}
		g.storage = &config.StorageConfig{Type: "postgres", Postgres: config.PostgresConfig{DSN: dsn}}
		return nil
	}
}

// WithStore sets a custom client store. The gateway closes it on shutdown.
func WithStore(store ports.ClientDataStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithStageOptions passes extra options to the stage client, for example a
// custom HTTP client.
func WithStageOptions(opts ...stage.Option) Option {
	return func(g *Gateway) error {
		g.stageOpts = append(g.stageOpts, opts...)
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// OpenStore opens the configured client store, loading the demo clients
// when sc.Seed is set.
func OpenStore(ctx context.Context, sc config.StorageConfig) (ports.ClientDataStore, error) {
	var (
		store *sqldb.Store
		err   error
	)
	switch sc.Type {
	case "", "memory":
		if sc.Seed {
			return memory.NewSeeded(), nil
		}
		return memory.New(), nil
	case "sqlite":
		store, err = sqldb.NewSQLite(sc.SQLite.Path)
	case "postgres":
		store, err = sqldb.NewPostgres(sc.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", sc.Type)
	}
	if err != nil {
		return nil, err
	}

	if sc.Seed {
		if err := store.Seed(ctx, memory.SeedClients()); err != nil {
			store.Close()
			return nil, fmt.Errorf("seed clients: %w", err)
		}
	}
	return store, nil
}
