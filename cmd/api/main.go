package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"nexus-backend/internal/assistant"
	"nexus-backend/internal/config"
	"nexus-backend/internal/events"
	"nexus-backend/internal/httpserver"
	"nexus-backend/internal/logging"
	"nexus-backend/internal/registry"
	"nexus-backend/internal/storage"
	"nexus-backend/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("log init error: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting", "httpAddr", cfg.HTTPAddr, "database", storage.RedactedDatabaseURL(cfg.DatabaseURL))

	store, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("db close error", "error", err)
		}
	}()

	reset, err := store.ResetIfVersionChanged(ctx, cfg.SchemaVersion)
	if err != nil {
		return err
	}
	if reset {
		logger.Warn("collections reset for new schema version", "schemaVersion", cfg.SchemaVersion)
	}

	var broadcaster events.Broadcaster
	if cfg.RedisAddr != "" {
		rb, err := events.NewRedisBroadcaster(events.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Channel:  cfg.EventChannel,
		})
		if err != nil {
			return err
		}
		if err := rb.Ping(ctx); err != nil {
			_ = rb.Close()
			return err
		}
		broadcaster = rb
		logger.Info("cross-session broadcast enabled", "redisAddr", cfg.RedisAddr, "channel", cfg.EventChannel)
	}

	bus := events.New(logger, broadcaster)
	defer func() { _ = bus.Close() }()
	store.SetChangeNotifier(bus)
	if err := bus.Start(ctx); err != nil {
		return err
	}

	var responder assistant.Responder = assistant.Static{}
	if cfg.GeminiAPIKey != "" {
		g, err := assistant.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return err
		}
		responder = g
	} else {
		logger.Warn("GEMINI_API_KEY not set, assistant replies use the static fallback")
	}

	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		logger.Warn("TOKEN_SECRET not set, tokens will not survive a restart")
	}

	svc, err := registry.New(registry.Options{
		Logger:      logger,
		Store:       store,
		Bus:         bus,
		Responder:   responder,
		TokenSecret: secret,
		TokenTTL:    cfg.TokenTTL,
	})
	if err != nil {
		return err
	}
	defer svc.Wait()
	if err := svc.SeedSystemUsers(ctx); err != nil {
		return err
	}

	wsManager := ws.NewManager(logger, svc, svc)
	wsManager.Attach(bus)

	handler, err := httpserver.NewHandler(logger, svc, store, wsManager, httpserver.HandlerOptions{
		AuthRateRPS:    cfg.AuthRateRPS,
		AuthRateBurst:  cfg.AuthRateBurst,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logging.StdLogger(logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "httpAddr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		wsManager.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}
