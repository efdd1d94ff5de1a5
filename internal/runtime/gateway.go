// Package runtime assembles the solvency gateway: configuration, client
// storage, the decision pipeline and the HTTP server, with lifecycle
// management for running it standalone or embedded.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/tjfontaine/solvency-gateway/internal/api"
	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/core/ports"
	"github.com/tjfontaine/solvency-gateway/internal/pipeline"
	"github.com/tjfontaine/solvency-gateway/internal/pkg/config"
	"github.com/tjfontaine/solvency-gateway/internal/server"
	"github.com/tjfontaine/solvency-gateway/internal/stage"
	"github.com/tjfontaine/solvency-gateway/internal/telemetry"
)

// Gateway runs the decision API over a pipeline of remote stages.
type Gateway struct {
	// Dependencies (injected via options)
	cfg       *config.Config
	watcher   *config.Watcher
	storage   *config.StorageConfig
	store     ports.ClientDataStore
	stageOpts []stage.Option
	logger    *slog.Logger

	// Internal state
	applied         *config.Config // last config seen by onConfigChange
	storeOverridden bool
	service         *reloadableService
	server   *server.Server
	shutdown func(context.Context) error

	// Lifecycle management
	cancel context.CancelFunc
	done   chan error
	mu     sync.Mutex
}

// New creates a Gateway. A configuration is required; the client store
// comes from the configuration unless a storage option overrides it.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{logger: slog.Default()}

	// Apply options
	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.cfg == nil {
		return nil, fmt.Errorf("configuration required (use WithConfig or WithFileConfig)")
	}

	gw.storeOverridden = gw.store != nil || gw.storage != nil
	gw.applied = gw.cfg

	if gw.store == nil {
		sc := gw.cfg.Storage
		if gw.storage != nil {
			seed := sc.Seed
			sc = *gw.storage
			sc.Seed = seed
		}
		store, err := OpenStore(context.Background(), sc)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		gw.store = store
	}

	p, err := gw.buildPipeline(gw.cfg)
	if err != nil {
		gw.store.Close()
		return nil, err
	}
	gw.service = &reloadableService{}
	gw.service.current.Store(p)

	return gw, nil
}

func (g *Gateway) buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	p, err := pipeline.NewFromConfig(cfg, g.store, g.logger, g.stageOpts...)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, nil
}

// Handler returns the HTTP API without starting a listener.
func (g *Gateway) Handler() http.Handler {
	srv := g.newServer()
	return srv.Router
}

// Service returns the decision service behind the API.
func (g *Gateway) Service() ports.DecisionService {
	return g.service
}

func (g *Gateway) newServer() *server.Server {
	srv := server.New(g.cfg.Server.Port, g.logger, server.Options{
		RequestTimeout: g.cfg.RequestTimeout(),
		ServiceName:    g.cfg.Telemetry.ServiceName,
		CORS:           g.cfg.Server.CORS,
	})
	api.NewHandler(g.service, g.logger).Routes(srv.Router)
	return srv
}

// Start initializes tracing, starts the HTTP server in the background and,
// for file-based configuration, begins watching for changes.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done != nil {
		return fmt.Errorf("gateway already started")
	}

	runCtx, cancel := context.WithCancel(ctx)

	if g.cfg.Telemetry.Enabled {
		var opts []telemetry.Option
		if g.cfg.Telemetry.Pretty {
			opts = append(opts, telemetry.WithPrettyPrint())
		}
		shutdown, err := telemetry.InitTracer(g.cfg.Telemetry.ServiceName, g.logger, opts...)
		if err != nil {
			cancel()
			return fmt.Errorf("init tracer: %w", err)
		}
		g.shutdown = shutdown
	}

	if g.watcher != nil {
		if err := g.watcher.Watch(runCtx, g.onConfigChange); err != nil {
			g.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}

	g.server = g.newServer()
	g.cancel = cancel
	g.done = make(chan error, 1)

	go func() {
		g.done <- g.server.Start(runCtx)
		close(g.done)
	}()

	p := g.service.current.Load()
	g.logger.Info("gateway started",
		slog.Int("port", g.cfg.Server.Port),
		slog.String("mode", string(p.Mode())),
		slog.String("storage", g.cfg.Storage.Type))

	return nil
}

// Wait blocks until the server stops on its own or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()

	if done == nil {
		return fmt.Errorf("gateway not started")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops the server, draining in-flight decisions, and releases the
// store and tracer.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	var errs []error
	if g.cancel != nil {
		g.cancel()
		select {
		case err := <-g.done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	if g.watcher != nil {
		if err := g.watcher.Close(); err != nil {
			g.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
	}

	if g.store != nil {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if g.shutdown != nil {
		if err := g.shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

// onConfigChange swaps in a pipeline built from the new stage settings.
// Other settings are read once at startup; edits to them are reported the
// first time they are seen.
func (g *Gateway) onConfigChange(cfg *config.Config) {
	if keys := g.restartKeys(g.applied, cfg); len(keys) > 0 {
		g.logger.Warn("settings apply after restart", slog.Any("keys", keys))
	}
	g.applied = cfg

	p, err := g.buildPipeline(cfg)
	if err != nil {
		g.logger.Error("failed to reload", slog.String("error", err.Error()))
		return
	}
	g.service.current.Store(p)
	g.logger.Info("pipeline reloaded", slog.String("mode", string(p.Mode())))
}

// restartKeys names the startup-only settings that differ between a and b.
func (g *Gateway) restartKeys(a, b *config.Config) []string {
	var keys []string
	if a.Server.Port != b.Server.Port {
		keys = append(keys, "server.port")
	}
	if a.Server.RequestTimeout != b.Server.RequestTimeout {
		keys = append(keys, "server.request_timeout")
	}
	if a.Server.CORS != b.Server.CORS {
		keys = append(keys, "server.cors")
	}
	if a.Log.Level != b.Log.Level {
		keys = append(keys, "log.level")
	}
	if a.Telemetry != b.Telemetry {
		keys = append(keys, "telemetry")
	}
	if !g.storeOverridden && a.Storage != b.Storage {
		keys = append(keys, "storage")
	}
	return keys
}

// reloadableService forwards to the current pipeline.
type reloadableService struct {
	current atomic.Pointer[pipeline.Pipeline]
}

func (s *reloadableService) GetDecision(ctx context.Context, clientID, loanRequest string) *domain.FinalDecision {
	return s.current.Load().GetDecision(ctx, clientID, loanRequest)
}
