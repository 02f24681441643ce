package handler

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/tessera/tessera/internal/audit"
	"github.com/tessera/tessera/internal/handler/dto"
	"github.com/tessera/tessera/internal/middleware"
	"github.com/tessera/tessera/internal/service"
)

// RouterConfig carries everything the router wires together.
type RouterConfig struct {
	Logger     *slog.Logger
	Users      *service.UserService
	Auth       *service.AuthService
	Health     *HealthHandler
	Metrics    http.Handler
	HTTPStats  middleware.HTTPObserver
	LoginLimit middleware.RateLimitConfig
	CORS       middleware.CORSConfig
	Security   middleware.SecurityConfig

	// TrustedProxies may set the client address via forwarding headers.
	TrustedProxies []netip.Prefix
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	validate := dto.NewValidator()
	h := New()
	users := NewUserHandler(cfg.Users, validate, cfg.Logger)
	authH := NewAuthHandler(cfg.Auth, validate, cfg.Logger)

	maxBody := cfg.Security.MaxRequestBodySize
	if maxBody <= 0 {
		maxBody = middleware.DefaultSecurityConfig().MaxRequestBodySize
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Instrument(cfg.HTTPStats))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Security(cfg.Security))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.MaxBodySize(maxBody))

	r.Get("/", h.Online)

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.Healthz)
		r.Get("/readyz", cfg.Health.Readyz)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/user", func(r chi.Router) {
		r.Use(auditClient)
		r.Post("/", users.Create)
		r.Get("/", users.List)
		r.Put("/change-password", users.ChangePassword)
		r.Get("/{user_id}", users.Get)
		r.Put("/{user_id}", users.Update)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(auditClient)
		r.With(middleware.RateLimitLogin(cfg.LoginLimit)).Post("/login", authH.Login)
		r.Post("/", authH.Authenticate)
		r.With(middleware.Bearer(middleware.AuthConfig{
			Logger:        cfg.Logger,
			Authenticator: cfg.Auth,
		})).Get("/me", authH.Me)
	})

	// 404 and 405 handlers
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

// auditClient attaches the client address to the request context so audit
// events can be attributed. RealIP has already resolved RemoteAddr.
func auditClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		next.ServeHTTP(w, r.WithContext(audit.WithClient(r.Context(), host)))
	})
}
