// Command stagesim serves all seven decision stages locally so the gateway
// can run end to end without the deployed services.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/solvency-gateway/internal/pkg/config"
	"github.com/tjfontaine/solvency-gateway/internal/server"
	"github.com/tjfontaine/solvency-gateway/internal/stagesim"
	"github.com/tjfontaine/solvency-gateway/internal/telemetry"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	level, _ := cfg.Log.SlogLevel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer("solvency-stagesim", logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	sim, err := stagesim.New(stagesim.Options{
		DecisionRule: cfg.Simulator.DecisionRule,
		ApprovalRule: cfg.Simulator.ApprovalRule,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("Failed to create simulator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Rule edits take effect without a restart.
	if _, err := os.Stat(*configPath); err == nil {
		watcher, err := config.NewWatcher(*configPath, logger)
		if err != nil {
			log.Fatalf("Failed to watch config: %v", err)
		}
		defer watcher.Close()

		err = watcher.Watch(ctx, func(c *config.Config) {
			if err := sim.SetRules(c.Simulator.DecisionRule, c.Simulator.ApprovalRule); err != nil {
				logger.Error("rejected new stage rules", slog.String("error", err.Error()))
			}
		})
		if err != nil {
			logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}

	srv := server.New(cfg.Simulator.Port, logger, server.Options{
		RequestTimeout: cfg.RequestTimeout(),
		ServiceName:    "solvency-stagesim",
	})
	sim.Routes(srv.Router)

	if err := srv.Start(ctx); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
