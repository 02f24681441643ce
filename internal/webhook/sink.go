package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tessera/tessera/internal/audit"
)

// maxResponseBody caps how much of a receiver's reply is read.
const maxResponseBody = 4 << 10

// Delivery is the JSON body posted to the endpoint.
type Delivery struct {
	DeliveryID string          `json:"delivery_id"`
	SentAt     time.Time       `json:"sent_at"`
	Events     []DeliveryEvent `json:"events"`
}

// DeliveryEvent is one audit record inside a Delivery.
type DeliveryEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     int64     `json:"user_id,omitempty"`
	ClientHash string    `json:"client_hash,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink posts audit batches to a single endpoint. It implements audit.Sink.
type Sink struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewSink creates a Sink. client may be nil to use NewHTTPClient.
func NewSink(targetURL, secret string, client *http.Client, logger *slog.Logger) *Sink {
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		url:    targetURL,
		secret: secret,
		client: client,
		logger: logger.With("component", "audit.webhook", "host", ExtractHost(targetURL)),
		now:    time.Now,
	}
}

// Write delivers records as one signed request. Server errors, 408 and 429
// are returned so the caller retries; other 4xx replies are logged and the
// batch is dropped, since resending cannot succeed.
func (s *Sink) Write(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	now := s.now().UTC()
	delivery := Delivery{
		DeliveryID: ulid.Make().String(),
		SentAt:     now,
		Events:     make([]DeliveryEvent, 0, len(records)),
	}
	for _, r := range records {
		delivery.Events = append(delivery.Events, DeliveryEvent{
			ID:         r.StreamID,
			Type:       r.Type,
			UserID:     r.UserID,
			ClientHash: r.ClientHash,
			OccurredAt: r.OccurredAt,
		})
	}

	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	ts := now.Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tessera-Audit/1.0")
	req.Header.Set(HeaderSignature, Sign(s.secret, ts, body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderDeliveryID, delivery.DeliveryID)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Debug("audit batch delivered",
			"delivery_id", delivery.DeliveryID,
			"events", len(records),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	default:
		s.logger.Error("audit batch rejected",
			"delivery_id", delivery.DeliveryID,
			"status", resp.StatusCode,
			"events", len(records),
		)
		return nil
	}
}
