// Package gateway provides the public API for embedding the solvency gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/solvency-gateway/internal/runtime"
)

// Gateway serves loan decisions over a pipeline of remote stages.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/clients.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// Storage
	WithMemoryStore = runtime.WithMemoryStore
	WithSQLite      = runtime.WithSQLite
	WithPostgres    = runtime.WithPostgres
	WithStore       = runtime.WithStore

	// Advanced options
	WithLogger       = runtime.WithLogger
	WithStageOptions = runtime.WithStageOptions
)
