package auth

import "context"

// UserStore describes persistence operations required by the user directory.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Authenticator verifies login credentials.
type Authenticator interface {
	Verify(ctx context.Context, identifier, secret string) (Principal, error)
}

// IdentityStore resolves a token subject to a principal. Unknown subjects
// yield ErrNotFound.
type IdentityStore interface {
	ResolveIdentity(ctx context.Context, subject string) (Principal, error)
}
