// Command audit-receiver accepts signed audit deliveries and logs each
// event. It is meant for local development and as a reference consumer.
//
// Usage:
//
//	AUDIT_WEBHOOK_SECRET=whsec_... audit-receiver
//
// Then point the API's AUDIT_WEBHOOK_URL at http://localhost:9000/webhook.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"

	"github.com/tessera/tessera/internal/server"
	"github.com/tessera/tessera/internal/webhook"
)

type config struct {
	Port         int           `env:"RECEIVER_PORT" envDefault:"9000"`
	Secret       string        `env:"AUDIT_WEBHOOK_SECRET,required,notEmpty,unset"`
	ReplayWindow time.Duration `env:"RECEIVER_REPLAY_WINDOW" envDefault:"5m"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	receiver := webhook.NewReceiver(cfg.Secret, cfg.ReplayWindow, logDelivery(logger), logger)

	r := chi.NewRouter()
	r.Method(http.MethodPost, "/webhook", receiver)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := server.New(r, server.Config{
		Port:            cfg.Port,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}, logger)

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func logDelivery(logger *slog.Logger) webhook.DeliveryHandler {
	return func(ctx context.Context, d webhook.Delivery) error {
		for _, e := range d.Events {
			logger.LogAttrs(ctx, slog.LevelInfo, "audit event received",
				slog.String("delivery_id", d.DeliveryID),
				slog.String("id", e.ID),
				slog.String("type", e.Type),
				slog.Int64("user_id", e.UserID),
				slog.String("client_hash", e.ClientHash),
				slog.Time("occurred_at", e.OccurredAt),
			)
		}
		return nil
	}
}
