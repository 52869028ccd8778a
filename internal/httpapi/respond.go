package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Stable error codes returned in the errorCode field.
const (
	codeTokenExpired        = "TOKEN_EXPIRED"
	codeRefreshTokenExpired = "REFRESH_TOKEN_EXPIRED"
	codeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	codeRefreshFailed       = "REFRESH_FAILED"
	codeBadCredentials      = "BAD_CREDENTIALS"
	codeAuthError           = "AUTH_ERROR"
	codeAuthRequired        = "AUTH_REQUIRED"
	codeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	codeValidation          = "VALIDATION_ERROR"
	codeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	codeNotFound            = "NOT_FOUND"
	codeUserExists          = "USER_ALREADY_EXISTS"
	codeInternal            = "INTERNAL_ERROR"
)

// errorResponse is the body of every rejection.
type errorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Success:   false,
		Message:   message,
		ErrorCode: errorCode,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}

// decodeJSON reads a single JSON object and rejects unknown trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return errors.New("request body is not valid JSON")
		}
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
