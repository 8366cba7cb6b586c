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

	"github.com/sorabox/sorabox/internal/api"
	"github.com/sorabox/sorabox/internal/blob"
	"github.com/sorabox/sorabox/internal/config"
	"github.com/sorabox/sorabox/internal/gateway"
	"github.com/sorabox/sorabox/internal/history"
	"github.com/sorabox/sorabox/internal/poller"
	"github.com/sorabox/sorabox/internal/tracker"
	"github.com/sorabox/sorabox/internal/webhook"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	logger := slog.Default()

	// Local development reads config from .env; absence is fine.
	godotenv.Load() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	store, err := history.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("history store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		logger.Error("blob store", "error", err)
		os.Exit(1)
	}

	gw := openGateway(cfg)

	hub := tracker.NewHub()
	tr := tracker.New(gw, store, blobs, hub, string(cfg.Mode), logger)

	if cfg.WebhookURL != "" {
		n, err := webhook.New(ctx, cfg.WebhookURL, logger)
		if err != nil {
			logger.Error("webhook", "url", cfg.WebhookURL, "error", err)
			os.Exit(1)
		}
		tr.SetNotifier(n)
	}

	p := poller.New(gw, tr, cfg.PollInterval, logger)
	p.Bind()

	// Pick unfinished jobs back up; this also starts the poller when any
	// survive the restart.
	if err := tr.Reconcile(ctx); err != nil {
		logger.Error("reconcile", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	api.NewHandler(tr, store, hub).RegisterRoutes(mux)

	// With a provider key on board this instance can also act as a relay for
	// other clients.
	if cfg.ProviderAPIKey != "" {
		relayGW := gw
		if cfg.Mode != config.ModeDirect {
			relayGW = gateway.NewDirect(cfg.ProviderBaseURL, cfg.ProviderAPIKey)
		}
		api.NewRelayHandler(relayGW, cfg.AppPassword).RegisterRoutes(mux)
		logger.Info("relay surface enabled", "protected", cfg.AppPassword != "")
	}

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestID,
		api.Logging,
		api.RelayAuth(cfg.AppPassword),
		api.RateLimit(cfg.RateLimitRPS),
	)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		p.Stop()
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("listening", "addr", cfg.ListenAddr, "mode", cfg.Mode, "storage", blobs.Mode())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server", "error", err)
		os.Exit(1)
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.Storage == config.StorageS3 {
		return blob.NewS3Store(ctx, blob.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return blob.NewFSStore(cfg.DataDir)
}

func openGateway(cfg *config.Config) gateway.Gateway {
	if cfg.Mode == config.ModeRelay {
		hash := cfg.PasswordHash
		if hash == "" && cfg.AppPassword != "" {
			hash = api.HashPassword(cfg.AppPassword)
		}
		return gateway.NewRelay(cfg.RelayURL, hash)
	}
	return gateway.NewDirect(cfg.ProviderBaseURL, cfg.ProviderAPIKey)
}
