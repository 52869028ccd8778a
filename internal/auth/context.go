package auth

import "context"

type subjectContextKey struct{}
type renewalContextKey struct{}

// ContextWithSubject attaches the authenticated token subject to the context.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	if subject == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext extracts the authenticated subject from the context.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(subjectContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithRenewal marks the request as authenticated through a refresh token
// after its access token expired. The renewed access token itself is only
// delivered on the response.
func ContextWithRenewal(ctx context.Context) context.Context {
	return context.WithValue(ctx, renewalContextKey{}, true)
}

// RenewedFromContext reports whether the request was silently renewed.
func RenewedFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(renewalContextKey{}).(bool)
	return v
}
