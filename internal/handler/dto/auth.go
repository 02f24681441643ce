package dto

import "time"

// LoginRequest represents the credentials posted to /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=80"`
	Password string `json:"password" validate:"required,min=4,max=20"`
}

// TokenRequest carries a token to be checked.
type TokenRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthenticatedResponse is returned when a token verifies.
type AuthenticatedResponse struct {
	Message string         `json:"message"`
	Detail  string         `json:"detail"`
	Claims  map[string]any `json:"claims"`
}
