// Package runtime assembles the webhook gateway and manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/hass-matrix-gateway/internal/adapters/matrix"
	"github.com/tjfontaine/hass-matrix-gateway/internal/callback"
	"github.com/tjfontaine/hass-matrix-gateway/internal/codec"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
	"github.com/tjfontaine/hass-matrix-gateway/internal/expiry"
	"github.com/tjfontaine/hass-matrix-gateway/internal/frontdoor/webhook"
	"github.com/tjfontaine/hass-matrix-gateway/internal/pkg/config"
	"github.com/tjfontaine/hass-matrix-gateway/internal/roomposter"
	"github.com/tjfontaine/hass-matrix-gateway/internal/server"
	"github.com/tjfontaine/hass-matrix-gateway/internal/setup"
	"github.com/tjfontaine/hass-matrix-gateway/internal/storage"
)

const commandRetryDelay = 30 * time.Second

// CommandListener answers chat commands until ctx is cancelled.
// *matrix.Client implements it.
type CommandListener interface {
	ListenCommands(ctx context.Context, prefix string, handler matrix.CommandHandler) error
}

// ChatInitializer prepares a chat client before it is used, for example by
// loading encryption keys. *matrix.Client implements it.
type ChatInitializer interface {
	Init(ctx context.Context) error
}

// Gateway wires the webhook front door, the room poster, the expiry
// scheduler and the chat command listener together.
type Gateway struct {
	// Dependencies (injected via options)
	cfg      *config.Config
	chat     ports.ChatClient
	store    ports.LifetimeStore
	notifier ports.Notifier
	listener net.Listener
	logger   *slog.Logger

	// Internal state
	poster    *roomposter.Poster
	scheduler *expiry.Scheduler
	server    *server.Server
	handle    *expiry.Handle

	// Lifecycle management
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	serveErr chan error
	mu       sync.Mutex
	started  bool
}

// New creates a Gateway. Dependencies that were not injected are built from
// the configuration: a Matrix client, the configured lifetime store and an
// HTTP callback notifier.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger:   slog.Default(),
		serveErr: make(chan error, 1),
	}
	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if gw.cfg == nil {
		return nil, errors.New("configuration required (use WithFileConfig or WithConfig)")
	}
	cfg := gw.cfg

	if gw.chat == nil {
		matrixOpts := []matrix.Option{matrix.WithLogger(gw.logger)}
		if cfg.Matrix.Crypto.Enabled {
			matrixOpts = append(matrixOpts, matrix.WithEncryption(matrix.EncryptionConfig{
				PickleKey: cfg.Matrix.Crypto.PickleKey,
				Database:  cfg.Matrix.Crypto.Database,
			}))
		}
		client, err := matrix.New(matrix.Config{
			HomeserverURL: cfg.Matrix.HomeserverURL,
			UserID:        cfg.Matrix.UserID,
			AccessToken:   cfg.Matrix.AccessToken,
			DeviceID:      cfg.Matrix.DeviceID,
		}, matrixOpts...)
		if err != nil {
			return nil, err
		}
		gw.chat = client
	}
	if gw.store == nil {
		store, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		gw.store = store
	}
	if gw.notifier == nil {
		gw.notifier = callback.New(
			callback.WithTimeout(cfg.Callback.Timeout),
			callback.WithAllowPrivate(cfg.Callback.AllowPrivate),
			callback.WithLogger(gw.logger))
	}

	gw.poster = roomposter.New(gw.chat, gw.store,
		roomposter.WithNotifier(gw.notifier),
		roomposter.WithKeepDelTag(cfg.Bot.KeepDelTag),
		roomposter.WithLogger(gw.logger))

	scheduler, err := expiry.New(gw.store, gw.poster,
		expiry.WithCron(cfg.Scheduler.Cron),
		expiry.WithLookahead(cfg.Scheduler.Lookahead),
		expiry.WithLogger(gw.logger))
	if err != nil {
		return nil, err
	}
	gw.scheduler = scheduler

	gw.server = server.New(cfg.Server.Port, gw.logger,
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
		server.WithMetrics(cfg.Telemetry.Metrics))

	handler := webhook.NewHandler(gw.poster,
		webhook.WithMessageKey(cfg.Bot.MessageKey),
		webhook.WithSetup(cfg.Bot.BaseURL, cfg.Bot.PluginPath),
		webhook.WithRateLimit(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
		webhook.WithLogger(gw.logger))
	handler.Register(gw.server.Router)
	if prefix := strings.Trim(cfg.Bot.PluginPath, "/"); prefix != "" {
		gw.server.Router.Route("/"+prefix, func(r chi.Router) {
			handler.Register(r)
		})
	}

	return gw, nil
}

// Poster returns the operation dispatcher.
func (g *Gateway) Poster() *roomposter.Poster {
	return g.poster
}

// Addr returns the address the HTTP server listens on, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Errors reports a fatal HTTP server error.
func (g *Gateway) Errors() <-chan error {
	return g.serveErr
}

// Start begins serving HTTP, starts the expiry scheduler and, when the chat
// client supports it, the command listener. It returns once everything is
// running.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return errors.New("gateway already started")
	}

	if initializer, ok := g.chat.(ChatInitializer); ok {
		if err := initializer.Init(ctx); err != nil {
			return fmt.Errorf("initialize chat client: %w", err)
		}
	}

	if g.listener == nil {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", g.cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		g.listener = ln
	}

	ctx, g.cancel = context.WithCancel(ctx)
	g.started = true

	ln := g.listener
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.server.Serve(ln); err != nil {
			g.logger.Error("server failed", slog.String("error", err.Error()))
			g.serveErr <- err
		}
	}()

	g.handle = g.scheduler.Start(ctx)

	if listener, ok := g.chat.(CommandListener); ok {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.listenCommands(ctx, listener)
		}()
	}

	g.logger.Info("gateway started",
		slog.String("addr", ln.Addr().String()),
		slog.String("storage", g.cfg.Storage.Driver),
		slog.String("cron", g.cfg.Scheduler.Cron))
	return nil
}

// listenCommands keeps the command listener running until ctx ends.
func (g *Gateway) listenCommands(ctx context.Context, listener CommandListener) {
	for {
		err := listener.ListenCommands(ctx, g.cfg.Bot.CommandPrefix, g.setupReply)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			g.logger.Error("command listener stopped", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(commandRetryDelay):
		}
	}
}

// setupReply answers the setup command with the room's webhook URL and Home
// Assistant instructions.
func (g *Gateway) setupReply(_ context.Context, roomID string) (domain.TextContent, error) {
	instructions := setup.New(g.cfg.Bot.BaseURL, g.cfg.Bot.PluginPath, roomID)
	return domain.TextContent{
		Body:          instructions.Plain(),
		FormattedBody: codec.RenderMarkdown(instructions.Markdown()),
	}, nil
}

// Shutdown stops the HTTP server, joins the scheduler loop and the command
// listener, and closes the lifetime store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if g.handle != nil {
		g.handle.Stop()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for background tasks: %w", ctx.Err()))
	}

	if closer, ok := g.chat.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			g.logger.Error("failed to close chat client", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := g.store.Close(); err != nil {
		g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}
