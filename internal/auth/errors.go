package auth

import "errors"

// Token parse outcomes. ErrExpired is the only recoverable one.
var (
	ErrMalformed    = errors.New("auth: malformed token")
	ErrBadSignature = errors.New("auth: bad token signature")
	ErrExpired      = errors.New("auth: token expired")
	ErrWeakSecret   = errors.New("auth: signing secret must be at least 32 bytes")
)

var (
	ErrNotFound       = errors.New("auth: not found")
	ErrAlreadyExists  = errors.New("auth: already exists")
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrBadCredentials = errors.New("auth: bad credentials")
	ErrRefreshInvalid = errors.New("auth: invalid refresh token")
)
