// Package model defines domain entities for the application.
package model

import (
	"strings"
	"time"
)

// UnusablePasswordPrefix marks a password hash that never verifies.
const UnusablePasswordPrefix = "!"

// Column limits enforced by the users table.
const (
	MaxUsernameLength = 150
	MaxEmailLength    = 254
)

// User represents an account. Superusers carry IsStaff and IsSuperuser.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Never serialize
	IsActive     bool       `json:"is_active"`
	IsStaff      bool       `json:"is_staff"`
	IsSuperuser  bool       `json:"is_superuser"`
	DateJoined   time.Time  `json:"date_joined"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// HasUsablePassword returns false when the account was created without a password.
func (u *User) HasUsablePassword() bool {
	return u.PasswordHash != "" && !strings.HasPrefix(u.PasswordHash, UnusablePasswordPrefix)
}

// IsPrivileged returns true for active superusers.
func (u *User) IsPrivileged() bool {
	return u.IsActive && u.IsSuperuser
}
