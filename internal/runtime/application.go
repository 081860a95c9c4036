// Package runtime boots the server: configuration, logging, storage,
// the service graph and the HTTP listener with graceful shutdown.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/madfam-io/madlab/internal/app"
	"github.com/madfam-io/madlab/internal/app/auth"
	"github.com/madfam-io/madlab/internal/app/storage/postgres"
	"github.com/madfam-io/madlab/internal/config"
	"github.com/madfam-io/madlab/internal/middleware"
	"github.com/madfam-io/madlab/internal/platform/cache"
	"github.com/madfam-io/madlab/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Run boots the server and blocks until shutdown completes.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithField("component", "runtime")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	var db *sqlx.DB
	if cfg.Database.DSN != "" {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		store := postgres.New(db)
		stores = app.Stores{
			Users:    store,
			Projects: store,
			Tasks:    store,
			Comments: store,
			Waitlist: store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("no database configured, using in-memory storage")
	}

	var taskCache cache.TaskCache
	var redisCache *cache.Redis
	if cfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second, log.WithField("component", "cache"))
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisCache.Close()
		taskCache = redisCache
		log.Info("task list cache enabled")
	}

	var authManager *auth.Manager
	if cfg.Auth.Secret != "" {
		authManager, err = auth.New(cfg.Auth.Secret,
			time.Duration(cfg.Auth.TokenTTLMin)*time.Minute, cfg.Auth.StaticTokens())
		if err != nil {
			return fmt.Errorf("build auth manager: %w", err)
		}
	} else {
		log.Warn("no auth secret configured, API is unauthenticated")
	}

	sweepSchedule := cfg.Sweeper.Schedule
	if cfg.Sweeper.Disabled {
		sweepSchedule = ""
	}

	application, err := app.New(stores, app.Options{
		Version:       Version,
		Auth:          authManager,
		Cache:         taskCache,
		SweepSchedule: sweepSchedule,
	}, log)
	if err != nil {
		return err
	}

	if db != nil {
		application.AttachPinger("postgres", func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start background services: %w", err)
	}

	router := application.Handler().Router()
	router.Use(
		middleware.Logging(log.WithField("component", "http")),
		application.Metrics.Middleware(),
		middleware.CORS(cfg.CORS.AllowedOrigins),
		middleware.RateLimit(float64(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst),
		middleware.Auth(authManager, []string{
			"/healthz",
			"/metrics",
			"/api/health",
			"/api/health/details",
			"/api/auth/login",
			"POST /api/waitlist",
		}),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("background services shutdown")
	}
	log.Info("shutdown complete")
	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSec) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if !cfg.SkipMigrate {
		if err := postgres.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return db, nil
}
