package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"futures-alert-bot/internal/binance"
	"futures-alert-bot/internal/broadcast"
	"futures-alert-bot/internal/config"
	"futures-alert-bot/internal/database"
	"futures-alert-bot/internal/logger"
	"futures-alert-bot/internal/server"
	"futures-alert-bot/internal/store"
	"futures-alert-bot/internal/trader"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")
	st := store.NewStore(db)

	// Initialize the futures gateway and check connectivity
	gateway := binance.NewRestClient(&cfg.Binance, log)
	if _, err := gateway.GetServerTime(); err != nil {
		log.Fatal("Failed to connect to Binance Futures API", zap.Error(err))
	}
	log.Info("Successfully connected to Binance Futures API.")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Observer fan-out and trading core
	hub := broadcast.NewHub(log)
	engine := trader.NewEngine(ctx, log, &cfg, gateway, st, hub)

	// User-data stream feeding the fill reconciler
	stream := binance.NewUserStream(gateway, &cfg.Binance, log)
	reconciler := trader.NewReconciler(log, gateway, st, hub)
	stream.SetFillHandler(reconciler.HandleFill)

	// Start the stream right away when a credential is already stored;
	// otherwise it is started later through POST /server/connect.
	if cred, err := st.ActiveCredential(); err != nil {
		log.Error("Failed to read stored credentials", zap.Error(err))
	} else if cred != nil {
		gateway.SetCredentials(cred.ApiKey, cred.ApiSecret)
		if err := stream.Start(ctx); err != nil {
			log.Error("Failed to start user data stream", zap.Error(err))
		}
	} else {
		log.Warn("No credentials stored; user data stream not started")
	}

	apiServer := server.NewServer(ctx, log, &cfg, engine, st, gateway, stream, hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", zap.Error(err))
	}

	stream.Stop()
	log.Info("Bot has been shut down.")
}
