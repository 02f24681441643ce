package handler

import (
	"log/slog"
	"net/http"

	"github.com/tessera/tessera/internal/auth"
	"github.com/tessera/tessera/internal/handler/dto"
	"github.com/tessera/tessera/internal/middleware"
	"github.com/tessera/tessera/internal/service"
)

// AuthHandler handles login and token checks.
type AuthHandler struct {
	svc      *service.AuthService
	validate *dto.Validator
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *service.AuthService, validate *dto.Validator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:      svc,
		validate: validate,
		logger:   logger,
	}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	resp, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TokenResponse{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresIn:   int64(resp.ExpiresIn.Seconds()),
		ExpiresAt:   resp.ExpiresAt.UTC(),
	})
}

// Authenticate handles POST /auth/ with the token in the body.
func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	claims, err := h.svc.Authenticate(r.Context(), req.AccessToken)
	if err != nil {
		handleServiceError(h.logger, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AuthenticatedResponse{
		Message: "Authenticated",
		Detail:  "User is authenticated successfully.",
		Claims:  claims,
	})
}

// Me handles GET /auth/me behind the Bearer middleware.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, middleware.CodeUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, claims)
}
