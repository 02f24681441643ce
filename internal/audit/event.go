// Package audit publishes account security events to a Redis stream and
// drains them into a sink.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Event types.
const (
	TypeUserCreated     = "user.created"
	TypePasswordChanged = "user.password_changed"
	TypeLoginSucceeded  = "auth.login_succeeded"
	TypeLoginFailed     = "auth.login_failed"
)

const clientHashLength = 16

// Event is the compact payload stored in the stream.
type Event struct {
	Type       string `json:"type"`
	UserID     int64  `json:"uid,omitempty"`
	ClientHash string `json:"ch,omitempty"`
	OccurredAt int64  `json:"t"` // Unix milliseconds
}

// NewEvent builds an event stamped with now. The client hash is taken from
// ctx when the transport attached one.
func NewEvent(ctx context.Context, eventType string, userID int64) Event {
	now := time.Now()
	e := Event{
		Type:       eventType,
		UserID:     userID,
		OccurredAt: now.UnixMilli(),
	}
	if ip := ClientFromContext(ctx); ip != "" {
		e.ClientHash = HashClient(ip, now)
	}
	return e
}

// Validate checks that an event read back from the stream is well formed.
func (e Event) Validate() error {
	switch e.Type {
	case TypeUserCreated, TypePasswordChanged, TypeLoginSucceeded:
		if e.UserID <= 0 {
			return fmt.Errorf("%s requires a user id", e.Type)
		}
	case TypeLoginFailed:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.ClientHash != "" && (len(e.ClientHash) != clientHashLength || !isHex(e.ClientHash)) {
		return fmt.Errorf("client hash must be %d hex chars", clientHashLength)
	}
	if e.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at must be set")
	}
	return nil
}

// HashClient returns a privacy-safe client identifier. The salt rotates
// daily so the same address cannot be linked across days.
func HashClient(ip string, at time.Time) string {
	salt := "tessera:" + at.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(ip + salt))
	return hex.EncodeToString(sum[:])[:clientHashLength]
}

func isHex(value string) bool {
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F') {
			continue
		}
		return false
	}
	return true
}

type clientKey struct{}

// WithClient attaches the caller's address to ctx for event attribution.
func WithClient(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientKey{}, ip)
}

// ClientFromContext returns the address set by WithClient, or "".
func ClientFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientKey{}).(string)
	return ip
}
