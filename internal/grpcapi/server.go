// Package grpcapi is the internal gRPC surface: the standard health service
// and an identity lookup, guarded by the same limiter and token codec as the
// HTTP API.
package grpcapi

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"dishdash.org/internal/auth"
	"dishdash.org/internal/obs"
	"dishdash.org/internal/ratelimit"
)

// Deps are the collaborators of the gRPC server.
type Deps struct {
	Codec      *auth.Codec
	Identities auth.IdentityStore
	Limiter    ratelimit.Admitter
	Now        func() time.Time
}

type Server struct {
	address string
	srv     *grpc.Server
	health  *health.Server
}

// New builds the gRPC server and registers its services.
func New(address string, d Deps) *Server {
	now := d.Now
	if now == nil {
		now = time.Now
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		loggingInterceptor,
		rateLimitInterceptor(d.Limiter, now),
		authInterceptor(d.Codec),
	))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	registerIdentityServer(srv, &identityServer{identities: d.Identities})

	return &Server{address: address, srv: srv, health: hs}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	err := s.srv.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Run listens on the configured address and stops gracefully when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		obs.Logger().Info("stopping gRPC server")
		s.Stop()
	}()

	obs.Logger().Info("starting gRPC server", "address", s.address)
	return s.Serve(lis)
}

// Stop marks the server as not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
