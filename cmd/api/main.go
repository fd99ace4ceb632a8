package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/IlyasAtabaev731/p2p-market/internal/api"
	"github.com/IlyasAtabaev731/p2p-market/internal/config"
	"github.com/IlyasAtabaev731/p2p-market/internal/relay"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/auth"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/catalog"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/ledger"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/reports"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/users"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage/memory"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage/postgres"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// store is everything the services need from a storage backend.
type store interface {
	auth.UserStore
	auth.SessionStore
	users.Store
	catalog.Store
	reports.Store
	ledger.Store
	relay.MessageLog
	api.Pinger
	Stop() error
}

var (
	_ store = (*postgres.Storage)(nil)
	_ store = (*memory.Storage)(nil)
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("storage", cfg.Storage),
		slog.String("host", cfg.HTTP.Host),
		slog.Int("port", cfg.HTTP.Port),
	)

	storage, err := openStorage(cfg)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := storage.Stop(); err != nil {
			log.Error("Failed to close storage", "error", err)
		}
	}()

	authService, err := auth.New(log, storage, storage, auth.Options{
		Secret:     []byte(cfg.Auth.JWTSecret),
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		log.Error("Failed to set up auth", "error", err)
		os.Exit(1)
	}

	userService := users.New(log, storage)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := userService.BootstrapAdmins(ctx, cfg.Auth.BootstrapAdmins); err != nil {
		log.Error("Failed to bootstrap admins", "error", err)
		os.Exit(1)
	}

	var messageLog relay.MessageLog
	if cfg.Relay.Persist {
		messageLog = storage
	}
	hub := relay.New(log, messageLog, cfg.Relay.Buffer)

	apiServer := api.New(cfg, log, api.Deps{
		Auth:    authService,
		Users:   userService,
		Catalog: catalog.New(log, storage),
		Reports: reports.New(log, storage),
		Ledger:  ledger.New(log, storage, cfg.Ledger.MaxAttempts),
		Relay:   hub,
		DB:      storage,
	})

	go authService.RunPurger(ctx, cfg.Auth.SessionPurge)

	go func() {
		apiServer.MustStart()
	}()

	<-ctx.Done()
	log.Info("Got signal to shutdown server")

	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Stopping server error", "error", err)
	}
}

func openStorage(cfg *config.Config) (store, error) {
	if cfg.Storage == config.StorageMemory {
		return memory.New(cfg.Ledger.LockTimeout), nil
	}

	return postgres.New(cfg.Postgres.DSN(), postgres.Options{
		MaxOpenConns: cfg.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Postgres.MaxIdleConns,
		LockTimeout:  cfg.Ledger.LockTimeout,
	})
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
