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

	"firebase.google.com/go/v4/db"

	"github.com/decyphers/platform/internal/app"
	"github.com/decyphers/platform/internal/auth"
	"github.com/decyphers/platform/internal/infra"
	"github.com/decyphers/platform/internal/pricing"
	"github.com/decyphers/platform/internal/provider"
	"github.com/decyphers/platform/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Connect to Postgres
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	if cfg.RunMigrations {
		if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Firebase: identity verification and the default ledger store
	var (
		identity service.IdentityVerifier
		rtdb     *db.Client
	)
	if cfg.FirebaseEnabled() {
		fb, err := infra.NewFirebase(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("init firebase: %w", err)
		}
		identity = provider.NewFirebaseVerifier(fb.Auth)
		rtdb = fb.Database
	} else {
		logger.Warn("firebase not configured, /firebase-login disabled")
	}

	store, closeStore, err := app.NewDocumentStore(ctx, cfg, pool, rtdb, logger)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer closeStore()

	table := pricing.DefaultTable()
	if cfg.PriceTablePath != "" {
		table, err = pricing.LoadTable(cfg.PriceTablePath)
		if err != nil {
			return fmt.Errorf("load price table: %w", err)
		}
		logger.Info("price table loaded", "path", cfg.PriceTablePath, "packages", len(table.Packages))
	}

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, purchase endpoints will fail")
	}

	r, services := app.NewRouter(app.RouterDeps{
		Pool:               pool,
		JWTMgr:             auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry),
		Logger:             logger,
		Store:              store,
		Publisher:          producer,
		Stripe:             provider.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		Identity:           identity,
		Recaptcha:          provider.NewRecaptchaClient(cfg.RecaptchaSecretKey, ""),
		PriceTable:         table,
		FrontendURL:        cfg.FrontendURL,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RecaptchaSiteKey:   cfg.RecaptchaSiteKey,
		TelegramBotID:      cfg.TelegramBotID,
		LoginRateLimit:     cfg.LoginRateLimit,
		TrustedProxyHops:   cfg.TrustedProxyHops,
	})

	if purged, err := services.Auth.PurgeRevoked(ctx); err != nil {
		logger.Warn("purge expired revocations failed", "error", err)
	} else if purged > 0 {
		logger.Info("purged expired revocations", "count", purged)
	}

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr, "ledger_backend", cfg.LedgerBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
