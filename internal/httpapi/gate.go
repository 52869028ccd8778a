package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"dishdash.org/internal/audit"
	"dishdash.org/internal/auth"
	"dishdash.org/internal/obs"
)

const (
	headerAuthorization  = "Authorization"
	headerRefreshToken   = "X-Refresh-Token"
	headerNewAccessToken = "X-New-Access-Token"
	headerTokenRefreshed = "X-Token-Refreshed"

	authRoutePrefix = "/api/auth/"
)

// Outcome is the gate's decision for a single request.
type Outcome string

const (
	PassAnonymous     Outcome = "anonymous"
	PassAuthenticated Outcome = "authenticated"
	PassRenewed       Outcome = "renewed"
	Reject            Outcome = "rejected"
)

// Verdict describes what the gate decided. Status, Code and Message are set
// only for Reject; RenewedToken only for PassRenewed.
type Verdict struct {
	Outcome      Outcome
	Subject      string
	RenewedToken string
	Status       int
	Code         string
	Message      string
}

// Renewer mints a fresh access token for a subject.
type Renewer interface {
	RenewAccess(subject string) (string, error)
}

// Gate authenticates bearer tokens and silently renews expired access
// tokens when the caller also presents a valid refresh token.
type Gate struct {
	codec *auth.Codec
	renew Renewer
	skip  func(path string) bool
}

// NewGate builds a gate that skips the credential exchange routes.
func NewGate(codec *auth.Codec, renew Renewer) *Gate {
	return &Gate{
		codec: codec,
		renew: renew,
		skip: func(p string) bool {
			return strings.HasPrefix(p, authRoutePrefix)
		},
	}
}

// Evaluate decides the fate of r without touching the response.
func (g *Gate) Evaluate(r *http.Request) Verdict {
	token, ok := auth.BearerToken(r.Header.Get(headerAuthorization))
	if !ok {
		return Verdict{Outcome: PassAnonymous}
	}

	info, err := g.codec.Parse(token)
	switch {
	case err == nil:
		if info.Class != auth.ClassAccess {
			obs.Logger().WarnContext(r.Context(), "refresh token presented as access token", "path", r.URL.Path)
			return Verdict{Outcome: PassAnonymous}
		}
		return Verdict{Outcome: PassAuthenticated, Subject: info.Subject}
	case errors.Is(err, auth.ErrExpired):
		if class, _ := g.codec.ClassOf(token); class != auth.ClassAccess {
			obs.Logger().WarnContext(r.Context(), "expired refresh token presented as access token", "path", r.URL.Path)
			return Verdict{Outcome: PassAnonymous}
		}
		return g.renewal(r)
	case errors.Is(err, auth.ErrBadSignature):
		obs.Logger().WarnContext(r.Context(), "access token signature rejected",
			"path", r.URL.Path, "client", clientIP(r))
		return Verdict{Outcome: PassAnonymous}
	default:
		return Verdict{Outcome: PassAnonymous}
	}
}

func (g *Gate) renewal(r *http.Request) Verdict {
	raw := strings.TrimSpace(r.Header.Get(headerRefreshToken))
	if raw == "" {
		return rejected(codeTokenExpired, "Access token expired")
	}
	if tok, ok := auth.BearerToken(raw); ok {
		raw = tok
	}

	info, err := g.codec.Parse(raw)
	switch {
	case err == nil && info.Class == auth.ClassRefresh:
	case err == nil, errors.Is(err, auth.ErrExpired):
		return rejected(codeRefreshTokenExpired, "Refresh token expired. Please log in again")
	default:
		return rejected(codeInvalidRefreshToken, "Invalid refresh token")
	}

	fresh, err := g.renew.RenewAccess(info.Subject)
	if err != nil {
		obs.Logger().ErrorContext(r.Context(), "access token renewal failed", "err", err)
		return Verdict{
			Outcome: Reject,
			Status:  http.StatusInternalServerError,
			Code:    codeInternal,
			Message: "internal error",
		}
	}
	return Verdict{Outcome: PassRenewed, Subject: info.Subject, RenewedToken: fresh}
}

// Middleware applies Evaluate. Rejections end the request here.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		v := g.Evaluate(r)
		obs.GateOutcome(string(v.Outcome))

		ctx := r.Context()
		switch v.Outcome {
		case Reject:
			writeError(w, v.Status, v.Code, v.Message)
			return
		case PassAuthenticated:
			ctx = auth.ContextWithSubject(ctx, v.Subject)
		case PassRenewed:
			ctx = auth.ContextWithRenewal(auth.ContextWithSubject(ctx, v.Subject))
			w.Header().Set(headerNewAccessToken, v.RenewedToken)
			w.Header().Set(headerTokenRefreshed, "true")
			obs.Logger().InfoContext(ctx, "access token renewed", "subject", v.Subject)
			_ = audit.LogEvent(ctx, "auth.token.renewed", nil)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSubject rejects requests the gate let through anonymously.
func requireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.SubjectFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, codeAuthRequired, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rejected(code, message string) Verdict {
	return Verdict{
		Outcome: Reject,
		Status:  http.StatusUnauthorized,
		Code:    code,
		Message: message,
	}
}
