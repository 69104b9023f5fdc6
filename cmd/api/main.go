package main

import (
	"context"
	"crypto-market-depth/internal/database"
	"crypto-market-depth/internal/exchange"
	"crypto-market-depth/internal/marketdata"
	"crypto-market-depth/internal/monitor"
	"crypto-market-depth/internal/platform/config"
	"crypto-market-depth/internal/platform/logger"
	"crypto-market-depth/internal/platform/metrics"
	"crypto-market-depth/internal/server"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

var Logger = logger.Get()

func gracefulShutdown(fiberServer *server.FiberServer, caches []*marketdata.Cache, db database.Service, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	Logger.Info("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fiberServer.ShutdownWithContext(ctx); err != nil {
		Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	for _, cache := range caches {
		if err := cache.Close(ctx); err != nil {
			Logger.Error("Failed to close market data", zap.String("exchange", cache.Name()), zap.Error(err))
		}
	}
	if err := db.Close(); err != nil {
		Logger.Error("Failed to close database", zap.Error(err))
	}

	Logger.Info("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func port(config *config.Config) int {
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port > 0 {
		return port
	}
	return config.Server.Port
}

func main() {
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := config.GetConfig()
	registry := metrics.New()
	alerter := monitor.NewDiscordAlerter(config.Discord.WebhookUrl)

	exchanges, err := exchange.CreateEnabled(config.Exchange)
	if err != nil {
		Logger.Fatal("Failed to create exchanges", zap.Error(err))
	}

	caches := make([]*marketdata.Cache, 0, len(exchanges))
	sources := make([]monitor.DepthSource, 0, len(exchanges))
	marketData := make([]server.MarketData, 0, len(exchanges))
	for _, ex := range exchanges {
		cache := marketdata.New(ctx, ex,
			marketdata.WithLogger(logger.ForExchange(ex.GetName())),
			marketdata.WithMetrics(registry),
			marketdata.WithPendingCapacity(config.Stream.PendingCapacity),
			marketdata.WithSnapshotTimeout(config.SnapshotTimeout()),
			marketdata.WithResyncHandler(alerter.AlertResync),
		)
		caches = append(caches, cache)
		sources = append(sources, cache)
		marketData = append(marketData, cache)
	}

	db, err := database.New(config.Database.Path)
	if err != nil {
		Logger.Fatal("Failed to open database", zap.Error(err))
	}

	watcher := monitor.NewDepthWatcher(ctx, sources, config.EnabledPairs(), config.WatchInterval())
	go watcher.Start()

	server := server.New(db, marketData, config.Pair, registry)
	server.RegisterFiberRoutes()

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	go func() {
		err := server.Listen(fmt.Sprintf(":%d", port(config)))
		if err != nil {
			panic(fmt.Sprintf("http server error: %s", err))
		}
	}()

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, caches, db, done)

	// Wait for the graceful shutdown to complete
	<-done
	cancel()
	Logger.Info("Graceful shutdown complete.")
}
