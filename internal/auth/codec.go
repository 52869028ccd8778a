package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const minSecretLen = 32

// Claims is the JWT payload shared by access and refresh tokens.
type Claims struct {
	Type string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 tokens with a single process-wide key.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithIssuer sets the "iss" claim written on issue and required on parse.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		c.issuer = strings.TrimSpace(issuer)
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. The secret is copied.
func NewCodec(secret []byte, opts ...CodecOption) (*Codec, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Now returns the codec clock reading.
func (c *Codec) Now() time.Time {
	return c.now()
}

// Issue signs a token for subject valid for lifetime from now.
func (c *Codec) Issue(subject string, class Class, lifetime time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if lifetime <= 0 {
		return "", fmt.Errorf("%w: lifetime must be greater than zero", ErrInvalidInput)
	}

	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiryAt(now, lifetime)),
			ID:        uuid.NewString(),
		},
	}
	switch class {
	case ClassAccess, "":
	case ClassRefresh:
		claims.Type = string(ClassRefresh)
	default:
		return "", fmt.Errorf("%w: unknown token class %q", ErrInvalidInput, class)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature and expiry. The returned error matches exactly one
// of ErrMalformed, ErrBadSignature or ErrExpired under errors.Is.
func (c *Codec) Parse(token string) (TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenInfo{}, ErrMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return TokenInfo{}, classifyParseError(err)
	}

	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt == nil {
		return TokenInfo{}, ErrMalformed
	}
	class, ok := parseClass(claims.Type)
	if !ok {
		return TokenInfo{}, ErrMalformed
	}

	info := TokenInfo{
		ID:        claims.ID,
		Subject:   claims.Subject,
		Class:     class,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	return info, nil
}

// IsExpired reports true for expired tokens and for anything that fails to parse.
func (c *Codec) IsExpired(token string) bool {
	_, err := c.Parse(token)
	return err != nil
}

// IsRefreshClass reports whether token parses and carries the refresh class.
func (c *Codec) IsRefreshClass(token string) bool {
	info, err := c.Parse(token)
	return err == nil && info.Class == ClassRefresh
}

// ValidateForSubject reports whether token is valid and issued to subject.
// The comparison is case-sensitive.
func (c *Codec) ValidateForSubject(token, subject string) bool {
	info, err := c.Parse(token)
	return err == nil && info.Subject == subject
}

// ClassOf reads the class claim without verifying the token. Only use it on
// a token Parse has already checked the signature of, e.g. after ErrExpired.
func (c *Codec) ClassOf(token string) (Class, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return "", false
	}
	return parseClass(claims.Type)
}

// expiryAt rounds now+lifetime up to a whole second. The exp claim has second
// precision, so truncating could hand out a token that is already expired.
func expiryAt(now time.Time, lifetime time.Duration) time.Time {
	exp := now.Add(lifetime)
	if t := exp.Truncate(time.Second); t.Before(exp) {
		return t.Add(time.Second)
	}
	return exp
}

// BearerToken extracts the token from "Bearer <token>". The scheme is
// matched case-insensitively.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return "", false
	}
	return token, true
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func parseClass(raw string) (Class, bool) {
	switch Class(raw) {
	case "", ClassAccess:
		return ClassAccess, true
	case ClassRefresh:
		return ClassRefresh, true
	default:
		return "", false
	}
}
