package webhook

import (
	"errors"
	"testing"
	"time"
)

func TestSign(t *testing.T) {
	t.Parallel()

	body := []byte(`{"events":[{"type":"auth.login_failed"}]}`)
	sig := Sign("whsec_test", 1767225600, body)

	if len(sig) != 64 {
		t.Errorf("signature length = %d, want 64", len(sig))
	}
	if sig != Sign("whsec_test", 1767225600, body) {
		t.Error("signature is not deterministic")
	}
	if sig == Sign("whsec_test", 1767225601, body) {
		t.Error("different timestamp should produce different signature")
	}
	if sig == Sign("whsec_testx", 1767225600, body) {
		t.Error("different secret should produce different signature")
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	secret := "test_secret"
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"test":"data"}`)
	ts := now.Unix()

	tests := []struct {
		name      string
		signature string
		timestamp int64
		wantErr   error
	}{
		{"valid", Sign(secret, ts, body), ts, nil},
		{"tampered", "invalid", ts, ErrInvalidSignature},
		{"too old", Sign(secret, ts-600, body), ts - 600, ErrReplayWindowExceeded},
		{"too far ahead", Sign(secret, ts+600, body), ts + 600, ErrReplayWindowExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Verify(secret, tt.signature, tt.timestamp, body, DefaultReplayWindow, now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
