package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eshaffer321/mpesa-reconciler/internal/api"
	"github.com/eshaffer321/mpesa-reconciler/internal/api/handlers"
)

// RunServe runs the API server until SIGINT or SIGTERM.
func RunServe(rt *Runtime, flags *ServeFlags) error {
	logger := rt.Logger

	apiCfg := api.DefaultConfig()
	apiCfg.Port = rt.Config.Server.Port
	if flags.Port > 0 {
		apiCfg.Port = flags.Port
	}
	if len(rt.Config.Server.AllowedOrigins) > 0 {
		apiCfg.AllowedOrigins = rt.Config.Server.AllowedOrigins
	}

	// Reports read straight from SQLite
	var reporter handlers.Reporter
	if rt.Store != nil {
		reporter = rt.Store
	}

	server := api.NewServer(apiCfg, rt.Workflow, reporter, logger)

	// Handle graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
		close(done)
	}()

	// Start server (blocks until shutdown)
	if err := server.Start(); err != nil {
		return err
	}

	<-done
	logger.Info("server stopped")
	return nil
}
