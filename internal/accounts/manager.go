// Package accounts creates and authenticates user accounts.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/musicroom/backend/internal/auth"
	"github.com/musicroom/backend/internal/model"
	"github.com/musicroom/backend/internal/repository"
)

// Manager errors.
var (
	ErrUserExists         = errors.New("user already exists")
	ErrUsernameRequired   = errors.New("username must be set")
	ErrUsernameTooLong    = errors.New("username is too long")
	ErrEmailTooLong       = errors.New("email is too long")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Store persists users.
type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// Manager creates accounts on top of a Store.
type Manager struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewManager creates a Manager.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return ulid.Make().String() },
	}
}

// Option adjusts the flags of a user being created.
type Option func(*model.User)

// WithStaff marks the account as staff.
func WithStaff() Option {
	return func(u *model.User) { u.IsStaff = true }
}

// WithSuperuser grants every permission.
func WithSuperuser() Option {
	return func(u *model.User) { u.IsSuperuser = true }
}

// Inactive creates the account disabled.
func Inactive() Option {
	return func(u *model.User) { u.IsActive = false }
}

// CreateUser creates a regular active account.
// An empty password leaves the account without a usable password.
func (m *Manager) CreateUser(ctx context.Context, username, email, password string, opts ...Option) (*model.User, error) {
	username = NormalizeUsername(username)
	email = NormalizeEmail(email)

	if err := validate(username, email); err != nil {
		return nil, err
	}

	_, err := m.store.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return nil, ErrUserExists
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           m.newID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		DateJoined:   m.now(),
	}
	for _, opt := range opts {
		opt(user)
	}

	if err := m.store.CreateUser(ctx, user); err != nil {
		// Lost a race with a concurrent insert.
		if errors.Is(err, repository.ErrUsernameExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// CreateSuperuser creates an active account with staff and superuser flags set.
func (m *Manager) CreateSuperuser(ctx context.Context, username, email, password string) (*model.User, error) {
	return m.CreateUser(ctx, username, email, password, WithStaff(), WithSuperuser())
}

// Authenticate returns the active user whose password matches.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := m.store.GetUserByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok || !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// NormalizeUsername applies NFKC so visually identical names collide.
func NormalizeUsername(username string) string {
	return norm.NFKC.String(username)
}

// NormalizeEmail lowercases the domain part. Addresses without '@' pass through.
func NormalizeEmail(email string) string {
	trimmed := strings.TrimSpace(email)
	at := strings.LastIndex(trimmed, "@")
	if at < 0 {
		return email
	}
	return trimmed[:at] + "@" + strings.ToLower(trimmed[at+1:])
}

func validate(username, email string) error {
	if username == "" {
		return ErrUsernameRequired
	}
	if utf8.RuneCountInString(username) > model.MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if utf8.RuneCountInString(email) > model.MaxEmailLength {
		return ErrEmailTooLong
	}
	return nil
}

// hashPassword stores an unusable marker for an empty password.
// Unset and set-but-empty are both empty here, so both get the marker.
// The Django script this replaces hashed a set-but-empty value as a usable
// password and reserved the unusable marker for an unset one.
func hashPassword(password string) (string, error) {
	if password == "" {
		return auth.MakeUnusablePassword()
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}
