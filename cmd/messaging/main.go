package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/api"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/cache"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/client"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/config"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/connection"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/delivery"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/repo"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/service"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/whatsapp"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("whatsapp-broadcast stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("whatsapp-broadcast starting",
		"addr", cfg.Server.Address,
		"business_api", cfg.WhatsApp.UseBusinessAPI,
		"batch", cfg.Dispatch.BatchSize,
		"postgres", cfg.Database.Enabled,
		"redis", cfg.Redis.Enabled,
	)

	if cfg.WhatsApp.UseBusinessAPI {
		if missing := cfg.MissingBusinessCredentials(); len(missing) > 0 {
			logger.Warn("business api selected without credentials, every api send will fail", "missing", missing)
		}
	}

	manager := connection.NewManager(
		whatsapp.NewTransport(cfg.WhatsApp.SessionPath, logger),
		connection.Options{
			SessionDir:   cfg.WhatsApp.SessionPath,
			OnCredential: func(code string) { whatsapp.RenderQR(os.Stdout, code) },
			Logger:       logger,
		},
	)

	var opts []client.Option
	if cfg.WhatsApp.APIRatePerSec > 0 {
		opts = append(opts, client.WithRateLimit(float64(cfg.WhatsApp.APIRatePerSec)))
	}
	cloud := client.NewCloudAPIClient(cfg.WhatsApp.APIBaseURL, opts...)

	backends := delivery.NewRegistry(
		delivery.NewAutomation(manager, logger),
		delivery.NewCloudAPI(cloud, cfg.WhatsApp.AccessToken, cfg.WhatsApp.PhoneNumberID, logger),
	)

	var deliveries repo.DeliveryLog
	if cfg.Database.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := repo.NewPostgresDeliveryLog(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		deliveries = pg
	}

	var sent cache.MessageCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, sent cache disabled", "error", err)
		} else {
			sent = cache.NewRedisCache(rdb, cfg.Redis.TTL)
		}
	}

	dispatcher := service.NewDispatcher(backends, logger).WithHooks(
		func(ctx context.Context, runID string, backend model.BackendKind, c model.Contact, res model.MessageResult) error {
			var errs []error
			if sent != nil {
				errs = append(errs, sent.StoreSent(ctx, runID, c.ID, res.MessageID, time.Now().UTC()))
			}
			if deliveries != nil {
				errs = append(errs, deliveries.Record(ctx, repo.RecordFromResult(runID, backend, c, res)))
			}
			return errors.Join(errs...)
		},
		func(ctx context.Context, runID string, backend model.BackendKind, c model.Contact, res model.MessageResult) error {
			if deliveries == nil {
				return nil
			}
			return deliveries.Record(ctx, repo.RecordFromResult(runID, backend, c, res))
		},
	)

	handler := api.NewHandler(manager, dispatcher, deliveries, cfg.Delivery()).WithShutdown(ctx)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(handler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !cfg.WhatsApp.UseBusinessAPI {
		if err := manager.Initialize(ctx); err != nil {
			logger.Error("whatsapp connection failed to start", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if derr := manager.Disconnect(); derr != nil {
			logger.Warn("whatsapp disconnect failed", "error", derr)
		}
		return err
	})

	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
