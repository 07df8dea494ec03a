// Command hasswebhook runs the Home Assistant to Matrix webhook gateway.
// Encrypted rooms need mautrix crypto: build with -tags goolm for the pure-Go
// olm implementation, or with cgo and libolm installed.
package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/hass-matrix-gateway/internal/pkg/config"
	"github.com/tjfontaine/hass-matrix-gateway/internal/telemetry"
	"github.com/tjfontaine/hass-matrix-gateway/pkg/gateway"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.Log.Level)
	slog.SetDefault(logger)

	var traceOut io.Writer
	if cfg.Telemetry.Tracing {
		traceOut = os.Stdout
	}
	shutdownTracer, err := telemetry.InitTracer("hass-matrix-gateway", traceOut, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	gw, err := gateway.New(
		gateway.WithConfig(cfg),
		gateway.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping gateway")
	case err := <-gw.Errors():
		logger.Error("gateway stopped unexpectedly", slog.String("error", err.Error()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
