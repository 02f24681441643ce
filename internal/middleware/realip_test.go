package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/tessera/tessera/internal/cache"
)

// keyedLimiter allows burst attempts per IP and nothing after that.
type keyedLimiter struct {
	mu    sync.Mutex
	seen  map[string]int
	burst int
}

func (l *keyedLimiter) CheckLoginRateLimit(_ context.Context, ip string, _, _ int) (*cache.RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[ip]++
	allowed := l.seen[ip] <= l.burst
	return &cache.RateLimitResult{
		Allowed:    allowed,
		Limit:      l.burst,
		ResetAt:    time.Now().Add(time.Minute),
		RetryAfter: time.Minute,
	}, nil
}

func loginChain(trusted []netip.Prefix, limiter LoginLimiter) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return RealIP(trusted)(RateLimitLogin(RateLimitConfig{
		Logger:    discardLogger(),
		Limiter:   limiter,
		Enabled:   true,
		PerMinute: 60,
		Burst:     1,
	})(ok))
}

func TestRateLimitLogin_RotatingForwardedFor(t *testing.T) {
	t.Parallel()

	limiter := &keyedLimiter{burst: 1}
	handler := loginChain(nil, limiter)

	var allowed, limited int
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.1.0.%d", i))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusOK:
			allowed++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}

	if allowed != 1 || limited != 49 {
		t.Errorf("allowed=%d limited=%d, want 1 and 49", allowed, limited)
	}
	if len(limiter.seen) != 1 || limiter.seen["203.0.113.7"] != 50 {
		t.Errorf("limiter keys = %v, want only 203.0.113.7", limiter.seen)
	}
}

func TestRateLimitLogin_UntrustedPeerSpoofingTrustedRange(t *testing.T) {
	t.Parallel()

	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	limiter := &keyedLimiter{burst: 1}
	handler := loginChain(trusted, limiter)

	var allowed int
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "198.51.100.4:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d, 10.0.0.1", i))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}

	if allowed != 1 {
		t.Errorf("allowed = %d, want 1", allowed)
	}
}

func TestRealIP(t *testing.T) {
	t.Parallel()

	trusted := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::/32"),
	}

	tests := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		xff     string
		xRealIP string
		want    string
	}{
		{
			name:   "no trusted proxies ignores headers",
			remote: "203.0.113.7:40000",
			xff:    "192.0.2.1",
			want:   "203.0.113.7",
		},
		{
			name:    "untrusted peer ignores headers",
			trusted: trusted,
			remote:  "203.0.113.7:40000",
			xff:     "192.0.2.1",
			xRealIP: "192.0.2.2",
			want:    "203.0.113.7",
		},
		{
			name:    "trusted peer single hop",
			trusted: trusted,
			remote:  "10.0.0.2:40000",
			xff:     "192.0.2.1",
			want:    "192.0.2.1",
		},
		{
			name:    "rightmost untrusted hop wins",
			trusted: trusted,
			remote:  "10.0.0.2:40000",
			xff:     "198.51.100.9, 192.0.2.1, 10.0.0.3",
			want:    "192.0.2.1",
		},
		{
			name:    "malformed hop stops the walk",
			trusted: trusted,
			remote:  "10.0.0.2:40000",
			xff:     "192.0.2.1, not-an-ip, 10.0.0.3",
			want:    "10.0.0.3",
		},
		{
			name:    "x-real-ip fallback",
			trusted: trusted,
			remote:  "10.0.0.2:40000",
			xRealIP: "192.0.2.5",
			want:    "192.0.2.5",
		},
		{
			name:    "ipv6 proxy",
			trusted: trusted,
			remote:  "[2001:db8::1]:443",
			xff:     "2001:db8:ffff::1, 192.0.2.8",
			want:    "192.0.2.8",
		},
		{
			name:    "trusted peer without headers",
			trusted: trusted,
			remote:  "10.0.0.2:40000",
			want:    "10.0.0.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got string
			handler := RealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = clientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
}
