package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestExchange(t *testing.T, clock *fakeClock) (*Exchange, *Directory) {
	t.Helper()
	codec := newTestCodec(t, clock)
	dir := NewDirectory(NewMemoryUserStore())
	if _, err := dir.Register(context.Background(), "alice@example.com", "Alice", "customer", "s3cret-pass"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ex, err := NewExchange(codec, dir, dir)
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}
	return ex, dir
}

func TestNewExchangeRequiresLongerRefreshLifetime(t *testing.T) {
	codec := newTestCodec(t, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	dir := NewDirectory(NewMemoryUserStore())
	_, err := NewExchange(codec, dir, dir, WithAccessTTL(time.Hour), WithRefreshTTL(time.Hour))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoginThenRefreshKeepsSubject(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ex, _ := newTestExchange(t, clock)
	ctx := context.Background()

	pair, principal, err := ex.Login(ctx, "alice@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if principal.Subject != "alice@example.com" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != 86400 {
		t.Fatalf("unexpected pair metadata: %+v", pair)
	}
	if !ex.codec.IsRefreshClass(pair.RefreshToken) || ex.codec.IsRefreshClass(pair.AccessToken) {
		t.Fatal("token classes are mixed up")
	}

	clock.Advance(time.Hour)
	renewed, _, err := ex.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	info, err := ex.codec.Parse(renewed.AccessToken)
	if err != nil {
		t.Fatalf("Parse renewed access: %v", err)
	}
	if info.Subject != "alice@example.com" {
		t.Fatalf("renewed subject = %q", info.Subject)
	}
	if !ex.codec.IsRefreshClass(renewed.RefreshToken) {
		t.Fatal("expected rotated refresh token")
	}
	if renewed.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
}

func TestLoginPropagatesAuthenticatorError(t *testing.T) {
	ex, _ := newTestExchange(t, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	ctx := context.Background()

	if _, _, err := ex.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials for wrong secret, got %v", err)
	}
	if _, _, err := ex.Login(ctx, "nobody@example.com", "s3cret-pass"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials for unknown identity, got %v", err)
	}

	boom := errors.New("directory offline")
	ex.authn = authenticatorFunc(func(context.Context, string, string) (Principal, error) {
		return Principal{}, boom
	})
	if _, _, err := ex.Login(ctx, "alice@example.com", "s3cret-pass"); err != boom {
		t.Fatalf("expected authenticator error unchanged, got %v", err)
	}
}

func TestRefreshRejections(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ex, _ := newTestExchange(t, clock)
	ctx := context.Background()

	pair, _, err := ex.Login(ctx, "alice@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	ghost, _ := ex.codec.Issue("ghost@example.com", ClassRefresh, time.Hour)

	cases := map[string]string{
		"access token": pair.AccessToken,
		"garbage":      "not-a-token",
		"unknown user": ghost,
	}
	for name, token := range cases {
		if _, _, err := ex.Refresh(ctx, token); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("%s: expected ErrRefreshInvalid, got %v", name, err)
		}
	}

	clock.Advance(DefaultRefreshTTL + time.Second)
	_, _, err = ex.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrRefreshInvalid) || !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired refresh rejection, got %v", err)
	}
}

func TestRenewAccessNotifiesObserver(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	codec := newTestCodec(t, clock)
	dir := NewDirectory(NewMemoryUserStore())
	issued := map[Class]int{}
	ex, err := NewExchange(codec, dir, dir, WithIssueObserver(func(c Class) { issued[c]++ }))
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}
	token, err := ex.RenewAccess("alice@example.com")
	if err != nil {
		t.Fatalf("RenewAccess: %v", err)
	}
	if codec.IsRefreshClass(token) {
		t.Fatal("renewal must mint an access token")
	}
	if issued[ClassAccess] != 1 || issued[ClassRefresh] != 0 {
		t.Fatalf("unexpected observer counts: %v", issued)
	}
}

type authenticatorFunc func(ctx context.Context, identifier, secret string) (Principal, error)

func (f authenticatorFunc) Verify(ctx context.Context, identifier, secret string) (Principal, error) {
	return f(ctx, identifier, secret)
}
