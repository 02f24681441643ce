// Package service provides business logic for user management and
// authentication.
package service

import (
	"errors"

	"github.com/tessera/tessera/internal/auth"
)

// Service errors. Storage failures are wrapped and passed through unchanged.
var (
	ErrEmailExists        = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrPasswordMismatch   = errors.New("old password does not match")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Token errors are owned by the auth package; re-exported so callers of the
// service layer need only one import.
var (
	ErrTokenExpired = auth.ErrTokenExpired
	ErrTokenInvalid = auth.ErrTokenInvalid
)
