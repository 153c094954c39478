package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"

	"fundraiser/config"
	"fundraiser/database"
	"fundraiser/logging"
	"fundraiser/middleware"
	"fundraiser/mpesa"
	"fundraiser/payments"
	"fundraiser/routes"
	"fundraiser/store"
	"fundraiser/utils"
)

func main() {
	// Load .env if present (do not overwrite already-set environment variables).
	if envMap, err := godotenv.Read(); err == nil {
		for k, v := range envMap {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Database.SeedProjects {
		if err := database.SeedProjects(ctx, st, logger); err != nil {
			return fmt.Errorf("seed projects: %w", err)
		}
	}
	if err := database.BootstrapAdmin(ctx, st, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, logger); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	// Optional side channels; each one degrades to off when not configured.
	var shared redis.UniversalClient
	rc, err := utils.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, using in-process caches", slog.Any("error", err))
	} else if rc != nil {
		shared = rc
		defer rc.Close()
	}

	var events payments.Publisher
	if cfg.NATS.URL != "" {
		nc, err := utils.ConnectNATS(cfg.NATS.URL, "fundraiser")
		if err != nil {
			logger.Warn("nats unavailable, donation events disabled", slog.Any("error", err))
		} else {
			pub := utils.NewEventPublisher(nc, cfg.NATS.SubjectPrefix)
			defer pub.Close()
			events = pub
		}
	}

	var archive payments.Archiver
	if cfg.Archive.Bucket != "" {
		client, err := utils.NewS3Client(ctx, cfg.Archive)
		if err != nil {
			logger.Warn("callback archive disabled", slog.Any("error", err))
		} else {
			archive = utils.NewCallbackArchive(client, cfg.Archive.Bucket, cfg.Archive.Prefix)
		}
	}

	client := mpesa.NewClient(mpesa.Config{
		BaseURL:          cfg.Mpesa.BaseURL,
		ConsumerKey:      cfg.Mpesa.ConsumerKey,
		ConsumerSecret:   cfg.Mpesa.ConsumerSecret,
		ShortCode:        cfg.Mpesa.ShortCode,
		Passkey:          cfg.Mpesa.Passkey,
		CallbackURL:      cfg.Mpesa.CallbackURL(),
		TransactionType:  cfg.Mpesa.TransactionType,
		RegisterCallback: cfg.Mpesa.RegisterCallback,
	}, &http.Client{Timeout: cfg.Mpesa.Timeout})

	var tokens mpesa.TokenProvider = mpesa.NewCachedTokenProvider(client)
	if shared != nil {
		tokens = mpesa.NewRedisTokenProvider(shared, cfg.Mpesa.TokenCacheKey, client, logger)
	}

	router := routes.InitRouter(ctx, routes.Deps{
		Config:     cfg,
		Store:      st,
		Initiator:  mpesa.NewInitiator(client, tokens, logger, cfg.Mpesa.Timeout),
		Reconciler: payments.NewReconciler(st, events, archive, logger),
		Tokens:     utils.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience, cfg.Auth.TokenTTL),
		Redis:      shared,
		Logger:     logger,
	})

	// Logging -> Security headers -> Request ID -> Max Body -> Timeout -> Recovery
	handler := middleware.Chain(router,
		middleware.RequestLogMiddleware(logger, cfg.HTTP.SlowRequest),
		middleware.SecurityHeadersMiddleware(cfg.Development(), !cfg.Development()),
		middleware.RequestIDMiddleware,
		middleware.MaxBodyMiddleware(cfg.HTTP.MaxBodyBytes),
		middleware.TimeoutMiddleware(cfg.HTTP.RequestTimeout),
		middleware.RecoveryMiddleware(logger),
	)

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("env", cfg.Env),
			slog.String("db_driver", cfg.Database.Driver),
			slog.String("callback_url", cfg.Mpesa.CallbackURL()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}

// openStore connects the configured donation store and migrates it when
// enabled.
func openStore(cfg config.Config, logger *slog.Logger) (store.DonationStore, error) {
	switch cfg.Database.Driver {
	case "bolt":
		logger.Info("using embedded store", slog.String("path", cfg.Database.BoltPath))
		return store.NewBoltStore(cfg.Database.BoltPath)
	default:
		db, err := database.Connect(cfg.Database, cfg.Development(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			logger.Info("performing auto-migration")
			if err := database.Migrate(db, logger); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		} else {
			logger.Info("auto-migration disabled")
		}
		return store.NewGormStore(db), nil
	}
}
