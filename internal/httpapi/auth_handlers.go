package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"dishdash.org/internal/audit"
	"dishdash.org/internal/auth"
	"dishdash.org/internal/obs"
)

// loginRequest accepts both the identifier/secret and email/password spellings.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (req loginRequest) credentials() (string, string) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	secret := req.Secret
	if secret == "" {
		secret = req.Password
	}
	return identifier, secret
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	identifier, secret := req.credentials()
	if identifier == "" || secret == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "identifier and secret are required")
		return
	}

	if !a.throttle.Allow(strings.ToLower(identifier), a.now()) {
		obs.RateLimited()
		obs.Logger().WarnContext(r.Context(), "login throttled", "client", clientIP(r))
		writeError(w, http.StatusTooManyRequests, codeRateLimitExceeded, "Too many login attempts. Please try again later.")
		return
	}

	pair, principal, err := a.exchange.Login(r.Context(), identifier, secret)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"identifier": identifier,
			"client":     clientIP(r),
		})
		if errors.Is(err, auth.ErrBadCredentials) {
			writeError(w, http.StatusUnauthorized, codeBadCredentials, "Invalid email or password")
			return
		}
		obs.Logger().ErrorContext(r.Context(), "login failed", "err", err)
		writeError(w, http.StatusUnauthorized, codeAuthError, "Authentication failed")
		return
	}

	ctx := auth.ContextWithSubject(r.Context(), principal.Subject)
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{
		"user_id": principal.UserID,
		"role":    principal.Role,
	})
	writeJSON(w, http.StatusOK, pair)
}

// handleRefresh takes the refresh token from the Authorization header. A
// bare token without the Bearer scheme is accepted too.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	raw := strings.TrimSpace(r.Header.Get(headerAuthorization))
	if tok, ok := auth.BearerToken(raw); ok {
		raw = tok
	}
	if raw == "" {
		writeError(w, http.StatusUnauthorized, codeInvalidRefreshToken, "Refresh token is required")
		return
	}

	pair, principal, err := a.exchange.Refresh(r.Context(), raw)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshInvalid) {
			writeError(w, http.StatusUnauthorized, codeInvalidRefreshToken, "Invalid or expired refresh token")
			return
		}
		obs.Logger().ErrorContext(r.Context(), "refresh failed", "err", err)
		writeError(w, http.StatusUnauthorized, codeRefreshFailed, "Token refresh failed")
		return
	}

	ctx := auth.ContextWithSubject(r.Context(), principal.Subject)
	_ = audit.LogEvent(ctx, "auth.refresh.succeeded", map[string]any{
		"user_id": principal.UserID,
	})
	writeJSON(w, http.StatusOK, pair)
}
