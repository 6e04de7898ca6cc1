package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EternisAI/mailbroker/internal/activation"
	internalhttp "github.com/EternisAI/mailbroker/internal/api/http"
	"github.com/EternisAI/mailbroker/internal/broadcast"
	"github.com/EternisAI/mailbroker/internal/dispatch"
	"github.com/EternisAI/mailbroker/internal/engine"
	"github.com/EternisAI/mailbroker/internal/monitoring"
	"github.com/EternisAI/mailbroker/internal/notify"
	"github.com/EternisAI/mailbroker/internal/provider"
	"github.com/EternisAI/mailbroker/internal/usage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Mail Broker Server", "version", AppVersion)

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	store, err := openStore(startCtx, config)
	cancelStart()
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Store close error", "error", err)
		}
	}()

	var sender notify.Sender = notify.LogSender{}
	if config.Telegram.Token != "" {
		tg, err := notify.NewTelegram(config.Telegram)
		if err != nil {
			slog.Error("Failed to configure Telegram", "error", err)
			os.Exit(1)
		}
		sender = tg
	} else {
		slog.Warn("Telegram token not configured, messages will only be logged")
	}

	keys := activation.NewRegistry(store)
	monitors := monitoring.NewRegistry(store)
	ledger := usage.NewLedger(store)
	providerClient := provider.NewClient(config.Provider)

	broker := engine.New(providerClient, monitors, ledger, notify.NewNotifier(sender), config.Engine)

	resumeCtx, cancelResume := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := broker.Resume(resumeCtx); err != nil {
		slog.Error("Failed to resume monitoring loops", "error", err)
	}
	cancelResume()

	services := &internalhttp.Services{
		Dispatcher: dispatch.New(keys, broker, ledger, config.Dispatch),
		Keys:       keys,
		Usage:      ledger,
		Monitors:   broker,
		Provider:   providerClient,
		Broadcast:  broadcast.NewService(keys, sender, config.Broadcast),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(gin.Recovery())
	internalhttp.SetupRoute(router, config.Http, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: router,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Records stay in the store; the next start resumes them.
	broker.Shutdown()
	slog.Info("Monitoring loops stopped", "active", broker.Active())

	slog.Info("Shutdown complete")
}
