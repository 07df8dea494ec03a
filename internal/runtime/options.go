package runtime

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
	"github.com/tjfontaine/hass-matrix-gateway/internal/pkg/config"
	"github.com/tjfontaine/hass-matrix-gateway/internal/storage"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig loads and validates configuration from path, with
// HASSWEBHOOK_ environment overrides.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		g.cfg = cfg
		return nil
	}
}

// WithStorage opens the lifetime store described by driver and dsn.
func WithStorage(driver, dsn string) Option {
	return func(g *Gateway) error {
		store, err := storage.Open(storage.Config{Driver: driver, DSN: dsn})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithLifetimeStore sets a custom lifetime store.
func WithLifetimeStore(store ports.LifetimeStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithChatClient sets a custom chat client instead of the Matrix client
// built from the configuration.
func WithChatClient(chat ports.ChatClient) Option {
	return func(g *Gateway) error {
		g.chat = chat
		return nil
	}
}

// WithNotifier sets a custom callback notifier.
func WithNotifier(n ports.Notifier) Option {
	return func(g *Gateway) error {
		g.notifier = n
		return nil
	}
}

// WithListener serves HTTP on ln instead of the configured port.
func WithListener(ln net.Listener) Option {
	return func(g *Gateway) error {
		g.listener = ln
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
