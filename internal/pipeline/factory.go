package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/solvency-gateway/internal/core/ports"
	"github.com/tjfontaine/solvency-gateway/internal/pkg/config"
	"github.com/tjfontaine/solvency-gateway/internal/stage"
)

// NewFromConfig creates a pipeline over store using the configured stage
// endpoints and mode. Extra options are passed to the stage client.
func NewFromConfig(cfg *config.Config, store ports.ClientDataStore, logger *slog.Logger, opts ...stage.Option) (*Pipeline, error) {
	mode, err := ParseMode(cfg.Pipeline.Mode)
	if err != nil {
		return nil, err
	}

	endpoints, err := EndpointsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	for _, name := range stage.Names() {
		if _, ok := endpoints[name]; !ok {
			logger.Warn("stage has no endpoint, it will always use its default", slog.String("stage", string(name)))
		}
	}

	clientOpts := append([]stage.Option{stage.WithLogger(logger)}, opts...)
	client := stage.NewClient(endpoints, clientOpts...)

	return New(Config{
		Directory:  store,
		Financials: store,
		Credit:     store,
		Client:     client,
		Mode:       mode,
		Logger:     logger,
	})
}

// EndpointsFromConfig resolves every configured stage endpoint. Stages
// without a URL are left out.
func EndpointsFromConfig(cfg *config.Config) (map[stage.Name]stage.Endpoint, error) {
	known := make(map[stage.Name]bool)
	for _, name := range stage.Names() {
		known[name] = true
	}
	for name := range cfg.Stages.Endpoints {
		if !known[stage.Name(name)] {
			return nil, fmt.Errorf("unknown stage %q in configuration", name)
		}
	}

	endpoints := make(map[stage.Name]stage.Endpoint)
	for _, name := range stage.Names() {
		rs, err := cfg.Stage(string(name))
		if err != nil {
			return nil, err
		}
		if rs.URL == "" {
			continue
		}

		codec, err := stage.CodecByName(rs.Codec)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}

		endpoints[name] = stage.Endpoint{
			URL:          rs.URL,
			Timeout:      rs.Timeout,
			Retries:      rs.Retries,
			RetryBackoff: rs.RetryBackoff,
			Codec:        codec,
		}
	}

	return endpoints, nil
}
