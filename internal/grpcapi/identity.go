package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"dishdash.org/internal/auth"
	"dishdash.org/internal/obs"
)

// WhoAmIMethod resolves the caller's principal from its access token.
const WhoAmIMethod = "/dishdash.v1.Identity/WhoAmI"

// IdentityServer is the server API for the dishdash.v1.Identity service.
type IdentityServer interface {
	WhoAmI(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

type identityServer struct {
	identities auth.IdentityStore
}

func (s *identityServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	subject, ok := auth.SubjectFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "AUTH_REQUIRED: no subject")
	}
	p, err := s.identities.ResolveIdentity(ctx, subject)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "user not found")
		}
		obs.Logger().ErrorContext(ctx, "grpc resolve identity failed", "err", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	out, err := structpb.NewStruct(map[string]any{
		"subject": p.Subject,
		"userId":  p.UserID,
		"name":    p.Name,
		"role":    p.Role,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func registerIdentityServer(s grpc.ServiceRegistrar, srv IdentityServer) {
	s.RegisterService(&identityServiceDesc, srv)
}

func whoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WhoAmIMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IdentityServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var identityServiceDesc = grpc.ServiceDesc{
	ServiceName: "dishdash.v1.Identity",
	HandlerType: (*IdentityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dishdash/v1/identity.proto",
}
