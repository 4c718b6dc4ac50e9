// Package grpcx carries the trusted identity contract over gRPC and serves
// the standard health protocol.
package grpcx

import (
	"context"
	"net/http"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"ems.org/internal/auth"
	"ems.org/internal/httpapi"
	"ems.org/internal/obs"
)

// Metadata keys mirroring the identity headers.
const (
	MDEmployeeID   = "x-employee-id"
	MDEmail        = "x-email"
	MDEmployeeRole = "x-employee-role"
	MDTokenID      = "x-token-id"
	MDTokenExpires = "x-token-expires"
)

// HealthServer answers grpc.health.v1 checks from a readiness probe.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	service string
	ready   httpapi.Checker
}

// NewHealthServer reports SERVING for "" and service while ready passes.
func NewHealthServer(service string, ready httpapi.Checker) *HealthServer {
	return &HealthServer{service: service, ready: ready}
}

func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != s.service {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
	}
	if s.ready != nil {
		if err := s.ready.Check(ctx); err != nil {
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewServer builds a gRPC server with the health service registered. Every
// other unary method requires identity metadata.
func NewServer(service string, ready httpapi.Checker, opts ...grpc.ServerOption) *grpc.Server {
	chain := grpc.ChainUnaryInterceptor(
		UnaryIdentityInterceptor,
		RequireIdentity(healthpb.Health_Check_FullMethodName),
		unaryLogging,
	)
	opts = append([]grpc.ServerOption{chain}, opts...)
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, NewHealthServer(service, ready))
	return srv
}

// UnaryIdentityInterceptor builds a Principal from the identity metadata the
// way httpapi.TrustedIdentity does from headers. Malformed metadata yields
// no principal.
func UnaryIdentityInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if _, ok := auth.PrincipalFromContext(ctx); !ok {
		if p, ok := principalFromMetadata(ctx); ok {
			ctx = auth.ContextWithPrincipal(ctx, p)
		}
	}
	return handler(ctx, req)
}

// RequireIdentity rejects calls without a principal, except the listed full
// method names.
func RequireIdentity(exempt ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]struct{}, len(exempt))
	for _, m := range exempt {
		skip[m] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := skip[info.FullMethod]; !ok {
			if _, ok := auth.PrincipalFromContext(ctx); !ok {
				return nil, status.Error(codes.Unauthenticated, "unauthorized")
			}
		}
		return handler(ctx, req)
	}
}

// OutgoingIdentity copies the context principal into outgoing metadata for a
// downstream call.
func OutgoingIdentity(ctx context.Context) context.Context {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return ctx
	}
	kv := []string{
		MDEmployeeID, p.EmployeeID,
		MDEmail, p.Email,
		MDEmployeeRole, p.Roles.String(),
	}
	if p.TokenID != "" && !p.TokenExpiresAt.IsZero() {
		kv = append(kv, MDTokenID, p.TokenID, MDTokenExpires, strconv.FormatInt(p.TokenExpiresAt.Unix(), 10))
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

func principalFromMetadata(ctx context.Context) (auth.Principal, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return auth.Principal{}, false
	}
	h := http.Header{}
	for key, header := range map[string]string{
		MDEmployeeID:   auth.HeaderEmployeeID,
		MDEmail:        auth.HeaderEmail,
		MDEmployeeRole: auth.HeaderEmployeeRole,
		MDTokenID:      auth.HeaderTokenID,
		MDTokenExpires: auth.HeaderTokenExpires,
	} {
		if vals := md.Get(key); len(vals) > 0 {
			h[header] = vals
		}
	}
	return auth.PrincipalFromHeaders(h)
}

func unaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil && status.Code(err) != codes.NotFound {
		obs.Logger().WarnContext(ctx, "grpc call failed", "method", info.FullMethod, "code", status.Code(err).String())
	}
	return resp, err
}
