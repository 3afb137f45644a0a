package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeloom/collab-server/internal/auth"
	"github.com/codeloom/collab-server/internal/config"
	"github.com/codeloom/collab-server/internal/logger"
)

// @title CodeLoom Collaboration API
// @version 1.0
// @description Real-time collaborative code editing and chat backend.
// @description
// @description Features:
// @description - Operational-transform based collaborative editing via WebSockets
// @description - Per-document chat with reactions, typing indicators and mentions
// @description - OAuth authentication (Google)
// @description - Stateless invite-token access for shared documents

// @contact.name API Support

// @license.name GPL-3.0
// @license.url https://www.gnu.org/licenses/gpl-3.0.html

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token for authenticated requests. Format: Bearer {token}

func main() {
	logger.Info("starting collab server")

	cfg, err := config.LoadEnvironmentVariables()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	if err := auth.InitializeProviders(); err != nil {
		logger.Fatal("failed to initialize OAuth providers", "error", err)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	// start the cache flusher (Redis -> Postgres write-behind drain)
	srv.flusher.Start()

	// wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// notify live document sessions and chat rooms, flush snapshots
	srv.hub.Shutdown(shutdownCtx)

	// stop the flusher (it drains any remaining dirty documents before stopping)
	srv.flusher.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	if err := srv.cache.Close(); err != nil {
		logger.ErrorErr(err, "failed to close redis document cache")
	}

	srv.db.Close()

	logger.Info("server stopped")
}
