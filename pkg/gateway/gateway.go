// Package gateway provides the public API for embedding the Home Assistant
// to Matrix webhook gateway.
package gateway

import (
	"github.com/tjfontaine/hass-matrix-gateway/internal/runtime"
)

// Gateway is the main entry point for running the webhook gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithStorage("sqlite", "./data/hasswebhook.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// Storage
	WithStorage       = runtime.WithStorage
	WithLifetimeStore = runtime.WithLifetimeStore

	// Advanced options
	WithChatClient = runtime.WithChatClient
	WithNotifier   = runtime.WithNotifier
	WithListener   = runtime.WithListener
	WithLogger     = runtime.WithLogger
)
