package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// maxDeliveryBody caps the size of an accepted delivery.
const maxDeliveryBody = 1 << 20

// DeliveryHandler processes one verified delivery.
type DeliveryHandler func(ctx context.Context, d Delivery) error

// Receiver verifies signed deliveries and passes them to a DeliveryHandler.
type Receiver struct {
	secret string
	window time.Duration
	handle DeliveryHandler
	logger *slog.Logger
	now    func() time.Time
}

// NewReceiver creates a Receiver. A zero window uses DefaultReplayWindow.
func NewReceiver(secret string, window time.Duration, handle DeliveryHandler, logger *slog.Logger) *Receiver {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		secret: secret,
		window: window,
		handle: handle,
		logger: logger.With("component", "audit.receiver"),
		now:    time.Now,
	}
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDeliveryBody))
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		http.Error(w, "missing timestamp", http.StatusUnauthorized)
		return
	}
	if err := Verify(rc.secret, r.Header.Get(HeaderSignature), ts, body, rc.window, rc.now()); err != nil {
		rc.logger.Warn("rejected delivery",
			"delivery_id", r.Header.Get(HeaderDeliveryID),
			"error", err,
		)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := rc.handle(r.Context(), d); err != nil {
		rc.logger.Error("delivery handler failed", "delivery_id", d.DeliveryID, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "processing failed", status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
