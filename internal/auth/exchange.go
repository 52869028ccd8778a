package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeBearer = "Bearer"
)

// IssueObserver is notified for every token minted. Used for metrics.
type IssueObserver func(class Class)

// Exchange turns verified credentials or a valid refresh token into a fresh
// access/refresh pair.
type Exchange struct {
	codec      *Codec
	authn      Authenticator
	identities IdentityStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	observe    IssueObserver
}

// ExchangeOption configures Exchange behavior.
type ExchangeOption func(*Exchange)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ExchangeOption {
	return func(e *Exchange) {
		if ttl > 0 {
			e.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ExchangeOption {
	return func(e *Exchange) {
		if ttl > 0 {
			e.refreshTTL = ttl
		}
	}
}

// WithIssueObserver registers a callback invoked once per minted token.
func WithIssueObserver(fn IssueObserver) ExchangeOption {
	return func(e *Exchange) {
		e.observe = fn
	}
}

// NewExchange constructs Exchange. The refresh lifetime must exceed the
// access lifetime.
func NewExchange(codec *Codec, authn Authenticator, identities IdentityStore, opts ...ExchangeOption) (*Exchange, error) {
	if codec == nil || authn == nil || identities == nil {
		return nil, fmt.Errorf("%w: codec, authenticator and identity store are required", ErrInvalidInput)
	}
	e := &Exchange{
		codec:      codec,
		authn:      authn,
		identities: identities,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.refreshTTL <= e.accessTTL {
		return nil, fmt.Errorf("%w: refresh ttl %s must exceed access ttl %s", ErrInvalidInput, e.refreshTTL, e.accessTTL)
	}
	return e, nil
}

// AccessTTL returns the configured access token lifetime.
func (e *Exchange) AccessTTL() time.Duration { return e.accessTTL }

// Login verifies credentials and issues a token pair. Authenticator errors
// are returned unchanged.
func (e *Exchange) Login(ctx context.Context, identifier, secret string) (TokenPair, Principal, error) {
	principal, err := e.authn.Verify(ctx, identifier, secret)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	pair, err := e.mint(principal.Subject)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

// Refresh rotates a refresh token into a new pair for the same subject.
// The presented refresh token stays valid until it expires.
func (e *Exchange) Refresh(ctx context.Context, refreshToken string) (TokenPair, Principal, error) {
	info, err := e.codec.Parse(refreshToken)
	if err != nil {
		return TokenPair{}, Principal{}, fmt.Errorf("%w: %w", ErrRefreshInvalid, err)
	}
	if info.Class != ClassRefresh {
		return TokenPair{}, Principal{}, fmt.Errorf("%w: not a refresh token", ErrRefreshInvalid)
	}
	principal, err := e.identities.ResolveIdentity(ctx, info.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Principal{}, fmt.Errorf("%w: unknown subject", ErrRefreshInvalid)
		}
		return TokenPair{}, Principal{}, fmt.Errorf("resolve identity: %w", err)
	}
	pair, err := e.mint(principal.Subject)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

// RenewAccess mints a single access token for subject. Used by silent
// renewal, which never rotates the refresh token.
func (e *Exchange) RenewAccess(subject string) (string, error) {
	token, err := e.codec.Issue(subject, ClassAccess, e.accessTTL)
	if err != nil {
		return "", err
	}
	e.notify(ClassAccess)
	return token, nil
}

func (e *Exchange) mint(subject string) (TokenPair, error) {
	access, err := e.codec.Issue(subject, ClassAccess, e.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := e.codec.Issue(subject, ClassRefresh, e.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	e.notify(ClassAccess)
	e.notify(ClassRefresh)
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(e.accessTTL / time.Second),
	}, nil
}

func (e *Exchange) notify(class Class) {
	if e.observe != nil {
		e.observe(class)
	}
}
