// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/tessera/tessera/internal/model"
)

// CreateUserRequest represents the request body for registering a user.
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email,max=80"`
	Password string `json:"password" validate:"required,min=4,max=20"`
	Name     string `json:"name" validate:"required,min=4,max=20"`
	Surname  string `json:"surname" validate:"required,min=4,max=20"`
}

// ChangePasswordRequest represents the request body for changing a password.
type ChangePasswordRequest struct {
	ID          int64  `json:"id" validate:"required,gt=0"`
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=4,max=20"`
}

// UpdateUserRequest represents a partial update. Absent fields are untouched.
type UpdateUserRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,min=4,max=20"`
	Surname *string `json:"surname,omitempty" validate:"omitempty,min=4,max=20"`
}

// Patch converts the request into a model.UserPatch.
func (r UpdateUserRequest) Patch() model.UserPatch {
	return model.UserPatch{Name: r.Name, Surname: r.Surname}
}

// UserResponse represents a user in API responses. The password digest is
// never part of it.
type UserResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToUserResponse converts a User model to UserResponse DTO.
func ToUserResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Surname:   user.Surname,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

// ToUserListResponse converts a slice of User models. The result is never nil
// so an empty list encodes as [].
func ToUserListResponse(users []*model.User) []UserResponse {
	responses := make([]UserResponse, len(users))
	for i, user := range users {
		responses[i] = *ToUserResponse(user)
	}
	return responses
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Detail string            `json:"detail,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// MessageResponse is a plain informational body.
type MessageResponse struct {
	Message string `json:"message"`
}
