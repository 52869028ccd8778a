package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dishdash.org/internal/ids"
)

var (
	_ Authenticator = (*Directory)(nil)
	_ IdentityStore = (*Directory)(nil)
)

// Directory authenticates users against a UserStore and resolves token
// subjects (email addresses) back to principals.
type Directory struct {
	users UserStore
	now   func() time.Time
}

// NewDirectory wraps a user store.
func NewDirectory(users UserStore) *Directory {
	return &Directory{users: users, now: time.Now}
}

// Register hashes the password and stores a new user.
func (d *Directory) Register(ctx context.Context, email, name, role, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = "customer"
	}
	u := &User{
		ID:           ids.New(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    d.now().UTC(),
	}
	if err := d.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Verify checks credentials. Unknown identities and wrong secrets both yield
// ErrBadCredentials; store failures are returned as is.
func (d *Directory) Verify(ctx context.Context, identifier, secret string) (Principal, error) {
	identifier = normalizeEmail(identifier)
	if identifier == "" || secret == "" {
		return Principal{}, ErrBadCredentials
	}
	u, err := d.users.FindByEmail(ctx, identifier)
	switch {
	case errors.Is(err, ErrNotFound):
		checkPassword("", secret)
		return Principal{}, ErrBadCredentials
	case err != nil:
		return Principal{}, fmt.Errorf("find user: %w", err)
	}
	if !checkPassword(u.PasswordHash, secret) {
		return Principal{}, ErrBadCredentials
	}
	return principalFromUser(u), nil
}

// ResolveIdentity looks a subject up by email. The match is exact.
func (d *Directory) ResolveIdentity(ctx context.Context, subject string) (Principal, error) {
	if strings.TrimSpace(subject) == "" {
		return Principal{}, ErrNotFound
	}
	u, err := d.users.FindByEmail(ctx, subject)
	if err != nil {
		return Principal{}, err
	}
	return principalFromUser(u), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
