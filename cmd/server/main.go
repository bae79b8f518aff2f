// Platform server - capture sessions, region selection, and WebSocket connections
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mirrorcast/platform/internal/bridge"
	"github.com/mirrorcast/platform/internal/config"
	"github.com/mirrorcast/platform/internal/server"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	// Optional .env for local development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env", "error", err)
	}

	cfg := config.Load()

	// Select the host bridge: local OS access by default, a privileged
	// helper over websocket when BRIDGE_ADDR is set.
	var br bridge.Bridge
	if cfg.BridgeAddr != "" {
		remote, err := bridge.NewRemote(context.Background(), cfg.BridgeAddr)
		if err != nil {
			slog.Error("failed to connect to bridge helper", "addr", cfg.BridgeAddr, "error", err)
			os.Exit(1)
		}
		br = remote
	} else {
		br = bridge.NewLocal()
	}
	defer func() { _ = br.Close() }()

	// Create HTTP/WebSocket server with its session manager
	srv := server.New(br, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("platform server starting", "http", cfg.HTTPAddr, "bridge", cfg.BridgeAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	srv.Manager().CloseAll(shutdownCtx)

	slog.Info("shutdown complete")
}
