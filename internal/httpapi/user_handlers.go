package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"dishdash.org/internal/audit"
	"dishdash.org/internal/auth"
	"dishdash.org/internal/obs"
)

const (
	minPasswordLen = 8
	adminRole      = "admin"
)

// Registrar creates accounts. Implemented by auth.Directory.
type Registrar interface {
	Register(ctx context.Context, email, name, role, password string) (*auth.User, error)
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (req createUserRequest) validate() string {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return "email and password are required"
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "email is not a valid address"
	}
	if len(req.Password) < minPasswordLen {
		return "password must be at least 8 characters"
	}
	if strings.EqualFold(strings.TrimSpace(req.Role), adminRole) {
		return "role cannot be self-assigned"
	}
	return ""
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, codeValidation, msg)
		return
	}

	u, err := a.registrar.Register(r.Context(), req.Email, req.Name, strings.TrimSpace(req.Role), req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeValidation, "invalid user data")
		return
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, http.StatusConflict, codeUserExists, "A user with this email already exists")
		return
	case err != nil:
		obs.Logger().ErrorContext(r.Context(), "create user failed", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "user.created", map[string]any{
		"user_id": u.ID,
		"role":    u.Role,
	})
	writeJSON(w, http.StatusCreated, auth.Principal{
		Subject: u.Email,
		UserID:  u.ID,
		Name:    u.Name,
		Role:    u.Role,
	})
}
