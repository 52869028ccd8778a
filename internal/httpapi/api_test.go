package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"dishdash.org/internal/auth"
	"dishdash.org/internal/ratelimit"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testEmail    = "alice@example.com"
	testPassword = "s3cret-pass"
	accessTTL    = 15 * time.Minute
	refreshTTL   = time.Hour
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	t        *testing.T
	clock    *testClock
	codec    *auth.Codec
	exchange *auth.Exchange
	baseURL  string
	client   *http.Client
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	codec, err := auth.NewCodec([]byte(testSecret), auth.WithIssuer("dishdash"), auth.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	dir := auth.NewDirectory(auth.NewMemoryUserStore())
	if _, err := dir.Register(context.Background(), testEmail, "Alice", "", testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	exchange, err := auth.NewExchange(codec, dir, dir, auth.WithAccessTTL(accessTTL), auth.WithRefreshTTL(refreshTTL))
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}

	deps := Deps{
		Version:    "test",
		Codec:      codec,
		Exchange:   exchange,
		Identities: dir,
		Registrar:  dir,
		Limiter:    ratelimit.NewFixedWindow(100, time.Minute),
		Now:        clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv := httptest.NewServer(New(deps).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		t:        t,
		clock:    clock,
		codec:    codec,
		exchange: exchange,
		baseURL:  srv.URL,
		client:   srv.Client(),
	}
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *http.Response {
	e.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.baseURL+path, payload)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	e.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) login() auth.TokenPair {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": testEmail,
		"secret":     testPassword,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	var pair auth.TokenPair
	decodeBody(e.t, resp, &pair)
	return pair
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d", status, resp.StatusCode)
	}
	var body errorResponse
	decodeBody(t, resp, &body)
	if body.Success {
		t.Fatalf("expected success=false")
	}
	if body.ErrorCode != code {
		t.Fatalf("expected errorCode %s, got %s (%s)", code, body.ErrorCode, body.Message)
	}
	if body.Message == "" {
		t.Fatalf("expected message in error body")
	}
}

func TestHealthzAndInfo(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.StatusCode)
	}
	var health map[string]any
	decodeBody(t, resp, &health)
	if health["service"] != serviceName || health["version"] != "test" {
		t.Fatalf("unexpected healthz body: %v", health)
	}
	if resp.Header.Get(headerRequestID) == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	resp = env.do(http.MethodGet, "/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", resp.StatusCode)
	}

	resp = env.do(http.MethodGet, "/v1/info", nil, nil)
	var info map[string]any
	decodeBody(t, resp, &info)
	if info["time"] != "2023-11-14T22:13:20Z" {
		t.Fatalf("expected info time from clock, got %v", info["time"])
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	env := newTestEnv(t)
	expectError(t, env.do(http.MethodGet, "/nope", nil, nil), http.StatusNotFound, codeNotFound)
}

func TestLoginIssuesTokenPair(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login()

	if pair.TokenType != "Bearer" {
		t.Fatalf("expected Bearer token type, got %q", pair.TokenType)
	}
	if pair.ExpiresIn != int64(accessTTL/time.Second) {
		t.Fatalf("expected expiresIn %d, got %d", int64(accessTTL/time.Second), pair.ExpiresIn)
	}
	access, err := env.codec.Parse(pair.AccessToken)
	if err != nil || access.Class != auth.ClassAccess || access.Subject != testEmail {
		t.Fatalf("unexpected access token: %+v, %v", access, err)
	}
	refresh, err := env.codec.Parse(pair.RefreshToken)
	if err != nil || refresh.Class != auth.ClassRefresh || refresh.Subject != testEmail {
		t.Fatalf("unexpected refresh token: %+v, %v", refresh, err)
	}
}

func TestLoginAcceptsEmailPasswordAliases(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    testEmail,
		"password": testPassword,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestLoginRejections(t *testing.T) {
	env := newTestEnv(t)

	expectError(t, env.do(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": testEmail,
		"secret":     "wrong",
	}, nil), http.StatusUnauthorized, codeBadCredentials)

	expectError(t, env.do(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": "nobody@example.com",
		"secret":     testPassword,
	}, nil), http.StatusUnauthorized, codeBadCredentials)

	expectError(t, env.do(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": testEmail,
	}, nil), http.StatusBadRequest, codeValidation)

	expectError(t, env.do(http.MethodGet, "/api/auth/login", nil, nil), http.StatusMethodNotAllowed, codeMethodNotAllowed)
}

type failingAuthenticator struct{}

func (failingAuthenticator) Verify(context.Context, string, string) (auth.Principal, error) {
	return auth.Principal{}, context.DeadlineExceeded
}

func TestLoginUnexpectedFailureIsAuthError(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		exchange, err := auth.NewExchange(d.Codec, failingAuthenticator{}, d.Identities)
		if err != nil {
			t.Fatalf("NewExchange: %v", err)
		}
		d.Exchange = exchange
	})
	expectError(t, env.do(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": testEmail,
		"secret":     testPassword,
	}, nil), http.StatusUnauthorized, codeAuthError)
}

func TestLoginThrottle(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.LoginThrottle = ratelimit.NewThrottle(2, 1, time.Minute)
	})
	body := map[string]string{"identifier": testEmail, "secret": "wrong"}

	for i := 0; i < 2; i++ {
		expectError(t, env.do(http.MethodPost, "/api/auth/login", body, nil), http.StatusUnauthorized, codeBadCredentials)
	}
	expectError(t, env.do(http.MethodPost, "/api/auth/login", body, nil), http.StatusTooManyRequests, codeRateLimitExceeded)
}

func TestRefreshRotatesPair(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login()
	env.clock.Advance(time.Minute)

	resp := env.do(http.MethodPost, "/api/auth/refresh", nil, map[string]string{
		"Authorization": "Bearer " + pair.RefreshToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var next auth.TokenPair
	decodeBody(t, resp, &next)
	if next.AccessToken == pair.AccessToken || next.RefreshToken == pair.RefreshToken {
		t.Fatalf("expected a rotated pair")
	}
	info, err := env.codec.Parse(next.RefreshToken)
	if err != nil || info.Subject != testEmail || info.Class != auth.ClassRefresh {
		t.Fatalf("unexpected rotated refresh token: %+v, %v", info, err)
	}

	// A bare token without the scheme is accepted.
	resp = env.do(http.MethodPost, "/api/auth/refresh", nil, map[string]string{
		"Authorization": next.RefreshToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bare token: expected 200, got %d", resp.StatusCode)
	}
}

func TestRefreshRejections(t *testing.T) {
	env := newTestEnv(t)
	pair := env.login()

	expectError(t, env.do(http.MethodPost, "/api/auth/refresh", nil, nil),
		http.StatusUnauthorized, codeInvalidRefreshToken)
	expectError(t, env.do(http.MethodPost, "/api/auth/refresh", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	}), http.StatusUnauthorized, codeInvalidRefreshToken)
	expectError(t, env.do(http.MethodPost, "/api/auth/refresh", nil, map[string]string{
		"Authorization": "Bearer garbage",
	}), http.StatusUnauthorized, codeInvalidRefreshToken)

	env.clock.Advance(refreshTTL)
	expectError(t, env.do(http.MethodPost, "/api/auth/refresh", nil, map[string]string{
		"Authorization": "Bearer " + pair.RefreshToken,
	}), http.StatusUnauthorized, codeInvalidRefreshToken)
}

func TestRateLimitRejectsRequest101(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 100; i++ {
		resp := env.do(http.MethodGet, "/v1/info", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
	resp := env.do(http.MethodGet, "/v1/info", nil, nil)
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", resp.Header.Get("Retry-After"))
	}
	expectError(t, resp, http.StatusTooManyRequests, codeRateLimitExceeded)

	// Other routes have their own window; probes are never limited.
	if resp := env.do(http.MethodGet, "/healthz", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.StatusCode)
	}
	if resp := env.do(http.MethodGet, "/api/profile", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("profile: expected 401, got %d", resp.StatusCode)
	}

	env.clock.Advance(time.Minute + time.Millisecond)
	if resp := env.do(http.MethodGet, "/v1/info", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("after window: expected 200, got %d", resp.StatusCode)
	}
}
