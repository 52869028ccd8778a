package grpcapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"dishdash.org/internal/auth"
	"dishdash.org/internal/obs"
	"dishdash.org/internal/ratelimit"
)

const healthServicePrefix = "/grpc.health.v1.Health/"

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.Logger().InfoContext(ctx, "grpc_request",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

// rateLimitInterceptor admits calls per peer address and method. Health
// checks are not limited.
func rateLimitInterceptor(limiter ratelimit.Admitter, now func() time.Time) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if limiter == nil || strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}
		d := limiter.Admit(ctx, peerAddress(ctx)+":"+info.FullMethod, now())
		if !d.Allowed {
			obs.RateLimited()
			return nil, status.Errorf(codes.ResourceExhausted, "RATE_LIMIT_EXCEEDED: retry after %s", d.RetryAfter.Round(time.Second))
		}
		return handler(ctx, req)
	}
}

// authInterceptor requires "authorization: Bearer <access token>" metadata on
// every method except health checks. Expired tokens are rejected outright;
// renewal is an HTTP-only concern.
func authInterceptor(codec *auth.Codec) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				header = values[0]
			}
		}
		token, ok := auth.BearerToken(header)
		if !ok {
			obs.GateOutcome("rejected")
			return nil, status.Error(codes.Unauthenticated, "AUTH_REQUIRED: missing bearer token")
		}

		parsed, err := codec.Parse(token)
		switch {
		case errors.Is(err, auth.ErrExpired):
			obs.GateOutcome("rejected")
			return nil, status.Error(codes.Unauthenticated, "TOKEN_EXPIRED: access token expired")
		case err != nil:
			if errors.Is(err, auth.ErrBadSignature) {
				obs.Logger().WarnContext(ctx, "grpc token signature rejected", "method", info.FullMethod)
			}
			obs.GateOutcome("rejected")
			return nil, status.Error(codes.Unauthenticated, "AUTH_REQUIRED: invalid token")
		case parsed.Class != auth.ClassAccess:
			obs.GateOutcome("rejected")
			return nil, status.Error(codes.Unauthenticated, "AUTH_REQUIRED: not an access token")
		}

		obs.GateOutcome("authenticated")
		return handler(auth.ContextWithSubject(ctx, parsed.Subject), req)
	}
}

func peerAddress(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
