package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tessera/tessera/internal/audit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRecords() []audit.Record {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return []audit.Record{
		{StreamID: "1-0", Type: audit.TypeUserCreated, UserID: 1, OccurredAt: at},
		{StreamID: "2-0", Type: audit.TypeLoginFailed, ClientHash: "0123456789abcdef", OccurredAt: at},
	}
}

func TestSink_DeliversSignedBatch(t *testing.T) {
	t.Parallel()

	const secret = "whsec_sink"
	var got Delivery
	var verifyErr error

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
		verifyErr = Verify(secret, r.Header.Get(HeaderSignature), ts, body, DefaultReplayWindow, time.Now())
		_ = json.Unmarshal(body, &got)
		if r.Header.Get(HeaderDeliveryID) != got.DeliveryID {
			verifyErr = errMismatchedDeliveryID
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, secret, srv.Client(), discardLogger())
	if err := sink.Write(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Write() = %v", err)
	}

	if verifyErr != nil {
		t.Fatalf("receiver rejected delivery: %v", verifyErr)
	}
	if len(got.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(got.Events))
	}
	if got.Events[0].ID != "1-0" || got.Events[1].Type != audit.TypeLoginFailed {
		t.Errorf("events = %+v", got.Events)
	}
}

type sinkError string

func (e sinkError) Error() string { return string(e) }

const errMismatchedDeliveryID = sinkError("delivery id header does not match body")

func TestSink_StatusHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"server error retried", http.StatusBadGateway, true},
		{"throttled retried", http.StatusTooManyRequests, true},
		{"timeout retried", http.StatusRequestTimeout, true},
		{"client error dropped", http.StatusBadRequest, false},
		{"gone dropped", http.StatusGone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewSink(srv.URL, "s", srv.Client(), discardLogger()).Write(context.Background(), sampleRecords())
			if (err != nil) != tt.wantErr {
				t.Errorf("Write() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", calls.Load())
			}
		})
	}
}

func TestSink_EmptyBatchSkipsRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	if err := NewSink(srv.URL, "s", srv.Client(), discardLogger()).Write(context.Background(), nil); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestSink_DoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	var redirected atomic.Bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		redirected.Store(true)
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	client := NewHTTPClient()
	_ = NewSink(srv.URL, "s", client, discardLogger()).Write(context.Background(), sampleRecords())

	if redirected.Load() {
		t.Error("sink followed a redirect")
	}
}
