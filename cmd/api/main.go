// Package main is the entrypoint for the Tessera API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/tessera/tessera/internal/audit"
	"github.com/tessera/tessera/internal/auth"
	"github.com/tessera/tessera/internal/cache"
	"github.com/tessera/tessera/internal/config"
	"github.com/tessera/tessera/internal/handler"
	"github.com/tessera/tessera/internal/metrics"
	"github.com/tessera/tessera/internal/middleware"
	"github.com/tessera/tessera/internal/migrations"
	"github.com/tessera/tessera/internal/repository"
	"github.com/tessera/tessera/internal/server"
	"github.com/tessera/tessera/internal/service"
	"github.com/tessera/tessera/internal/webhook"
)

// userStore is the storage surface the API needs from either driver.
type userStore interface {
	service.UserRepository
	handler.HealthChecker
	Close()
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error(
			"failed to open storage",
			slog.String("driver", cfg.StorageDriver),
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database", "driver", cfg.StorageDriver)

	// Redis is optional; without it login attempts are not rate limited
	// and no audit events are published.
	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			store.Close()
			os.Exit(1)
		}
		logger.Info("connected to Redis")
	} else {
		logger.Warn("REDIS_URL not set, login rate limiting disabled")
	}

	secrets := cfg.Secrets()
	hasher, err := auth.NewHasher(secrets.HashSalt, auth.WithLegacyDigests(cfg.LegacyMD5Hashes))
	if err != nil {
		logger.Error("failed to create hasher", "error", err)
		os.Exit(1)
	}
	tokens, err := auth.NewTokenService(secrets.SigningKey, secrets.DefaultTTL)
	if err != nil {
		logger.Error("failed to create token service", "error", err)
		os.Exit(1)
	}

	recorder := metrics.NewPrometheus()
	userService := service.NewUserService(store, hasher, recorder, logger)
	authService := service.NewAuthService(store, hasher, tokens, recorder, logger)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	// Already checked by cfg.Validate.
	trustedProxies, _ := cfg.GetTrustedProxies()

	loginLimit := middleware.RateLimitConfig{
		Logger:    logger,
		Metrics:   recorder,
		Enabled:   cfg.LoginRateLimitEnabled,
		PerMinute: cfg.LoginRateLimitPerMinute,
		Burst:     cfg.LoginRateLimitBurst,
	}
	var cacheCheck handler.HealthChecker
	var auditWorker *audit.Worker
	if cacheClient != nil {
		loginLimit.Limiter = cacheClient
		cacheCheck = cacheClient

		if cfg.AuditEnabled {
			publisher := audit.NewPublisher(cacheClient.Client(), logger, recorder)
			userService.WithEvents(publisher)
			authService.WithEvents(publisher)
		}
		if cfg.AuditWorkerEnabled {
			sink, err := newAuditSink(ctx, cfg, logger)
			if err != nil {
				logger.Error("invalid audit webhook", "host", webhook.ExtractHost(cfg.AuditWebhookURL), "error", err)
				os.Exit(1)
			}
			auditWorker = audit.NewWorker(cacheClient.Client(), sink, logger, audit.NewConsumerID(), recorder)
		}
	}

	r := handler.NewRouter(handler.RouterConfig{
		Logger:     logger,
		Users:      userService,
		Auth:       authService,
		Health:     handler.NewHealthHandler(cfg.StorageDriver, store, cacheCheck, logger),
		Metrics:    recorder.Handler(),
		HTTPStats:  recorder,
		LoginLimit: loginLimit,
		CORS:       cors,
		Security: middleware.SecurityConfig{
			IsDevelopment:      cfg.IsDevelopment(),
			MaxRequestBodySize: cfg.MaxRequestBodySize,
		},
		TrustedProxies: trustedProxies,
	})

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("database", func(context.Context) error {
		store.Close()
		return nil
	})
	if cacheClient != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return cacheClient.Close()
		})
	}
	if auditWorker != nil {
		go func() {
			if err := auditWorker.Run(ctx); err != nil {
				logger.Error("audit worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("audit-worker", auditWorker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"storage", cfg.StorageDriver,
		"token_ttl", cfg.AccessTokenTTL(),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newAuditSink logs every audit event and, when configured, also delivers
// it to the audit webhook. Outside production plain HTTP endpoints are
// accepted for local receivers.
func newAuditSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Sink, error) {
	sinks := audit.MultiSink{audit.NewLogSink(logger)}
	if cfg.AuditWebhookURL == "" {
		return sinks, nil
	}
	if cfg.IsProduction() {
		if err := webhook.ValidateTargetURL(ctx, cfg.AuditWebhookURL, nil); err != nil {
			return nil, err
		}
	}
	return append(sinks, webhook.NewSink(cfg.AuditWebhookURL, cfg.AuditWebhookSecret, nil, logger)), nil
}

// openStore connects the configured storage driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (userStore, error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		// SQLite always migrates on open.
		return repository.NewSQLite(ctx, cfg.SQLitePath)
	case config.StoragePostgres:
		if cfg.MigrateOnStart {
			if err := migratePostgres(ctx, cfg.DatabaseURL, logger); err != nil {
				return nil, err
			}
		}
		return repository.NewPostgres(ctx, cfg.DatabaseURL, repository.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func migratePostgres(ctx context.Context, databaseURL string, logger *slog.Logger) error {
	db, err := migrations.OpenPostgres(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrations.Up(ctx, db, migrations.DialectPostgres)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "count", applied)
	return nil
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
