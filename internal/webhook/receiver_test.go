package webhook

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func signedRequest(t *testing.T, secret string, ts int64, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, Sign(secret, ts, body))
	req.Header.Set(HeaderDeliveryID, "01HZX")
	return req
}

func TestReceiver(t *testing.T) {
	t.Parallel()

	const secret = "whsec_receiver"
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"delivery_id":"01HZX","sent_at":"2026-05-01T12:00:00Z","events":[{"id":"1-0","type":"user.created","user_id":1,"occurred_at":"2026-05-01T12:00:00Z"}]}`)

	tests := []struct {
		name       string
		req        func() *http.Request
		handlerErr error
		wantStatus int
		wantCalled bool
	}{
		{
			name:       "valid delivery",
			req:        func() *http.Request { return signedRequest(t, secret, now.Unix(), body) },
			wantStatus: http.StatusNoContent,
			wantCalled: true,
		},
		{
			name:       "wrong secret",
			req:        func() *http.Request { return signedRequest(t, "other", now.Unix(), body) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "stale timestamp",
			req:        func() *http.Request { return signedRequest(t, secret, now.Add(-time.Hour).Unix(), body) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "missing timestamp",
			req: func() *http.Request {
				req := signedRequest(t, secret, now.Unix(), body)
				req.Header.Del(HeaderTimestamp)
				return req
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "signed garbage",
			req:        func() *http.Request { return signedRequest(t, secret, now.Unix(), []byte("{")) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "handler failure",
			req:        func() *http.Request { return signedRequest(t, secret, now.Unix(), body) },
			handlerErr: errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantCalled: true,
		},
		{
			name:       "wrong method",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/webhook", nil) },
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var called bool
			var got Delivery
			rc := NewReceiver(secret, 0, func(_ context.Context, d Delivery) error {
				called = true
				got = d
				return tt.handlerErr
			}, discardLogger())
			rc.now = func() time.Time { return now }

			rec := httptest.NewRecorder()
			rc.ServeHTTP(rec, tt.req())

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if tt.wantCalled && (len(got.Events) != 1 || got.Events[0].Type != "user.created") {
				t.Errorf("delivery = %+v", got)
			}
		})
	}
}
