// Package model defines domain entities for the application.
package model

import "time"

// User is an identity record. Email is unique across all users and
// PasswordHash only ever holds a digest.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password"` // Never serialize
	Name         string    `json:"name" db:"name"`
	Surname      string    `json:"surname" db:"surname"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// PublicClaims returns the attributes safe to embed in a token.
// The password digest is never included.
func (u *User) PublicClaims() map[string]any {
	return map[string]any{
		"id":      u.ID,
		"email":   u.Email,
		"name":    u.Name,
		"surname": u.Surname,
	}
}

// UserPatch lists the fields a partial update may change. Nil fields are
// left untouched. Password is deliberately absent.
type UserPatch struct {
	Name    *string
	Surname *string
}

// IsEmpty reports whether the patch changes nothing.
func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Surname == nil
}

// Apply copies the set fields onto u and reports whether anything changed.
func (p UserPatch) Apply(u *User) bool {
	changed := false
	if p.Name != nil && *p.Name != u.Name {
		u.Name = *p.Name
		changed = true
	}
	if p.Surname != nil && *p.Surname != u.Surname {
		u.Surname = *p.Surname
		changed = true
	}
	return changed
}
