package grpcx

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"ems.org/internal/auth"
	"ems.org/internal/httpapi"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *grpc.Server) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		srv.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return conn
}

func TestHealthServing(t *testing.T) {
	conn := startBufGRPC(t, NewServer("employee-service", nil))
	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}

	_, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "other"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestHealthNotServingWhenProbeFails(t *testing.T) {
	failing := httpapi.CheckFunc(func(context.Context) error { return errors.New("db down") })
	conn := startBufGRPC(t, NewServer("employee-service", failing))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: "employee-service"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}
}

// recordingHealth captures the principal each call arrives with.
type recordingHealth struct {
	healthpb.UnimplementedHealthServer
	got chan principalSeen
}

type principalSeen struct {
	p  auth.Principal
	ok bool
}

func (h *recordingHealth) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	h.got <- principalSeen{p: p, ok: ok}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func TestIdentityMetadataOverTheWire(t *testing.T) {
	rec := &recordingHealth{got: make(chan principalSeen, 1)}
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryIdentityInterceptor))
	healthpb.RegisterHealthServer(srv, rec)
	client := healthpb.NewHealthClient(startBufGRPC(t, srv))

	ctx := auth.ContextWithPrincipal(context.Background(), auth.Principal{
		EmployeeID: "emp-1",
		Email:      "a@x.com",
		Roles:      auth.Roles{auth.RoleManager},
	})
	if _, err := client.Check(OutgoingIdentity(ctx), &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	seen := <-rec.got
	if !seen.ok || seen.p.EmployeeID != "emp-1" || seen.p.Roles.String() != "MANAGER" || seen.p.Email != "a@x.com" {
		t.Fatalf("unexpected principal: %+v", seen)
	}

	bad := metadata.AppendToOutgoingContext(context.Background(), MDEmployeeID, "emp-1", MDEmployeeRole, "ROOT")
	if _, err := client.Check(bad, &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if seen := <-rec.got; seen.ok {
		t.Fatalf("principal built from unknown role: %+v", seen.p)
	}
}

func TestRequireIdentity(t *testing.T) {
	interceptor := RequireIdentity("/grpc.health.v1.Health/Check")
	called := false
	handler := func(ctx context.Context, req any) (any, error) {
		called = true
		return nil, nil
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/ems.v1.Employees/Get"}, handler)
	if status.Code(err) != codes.Unauthenticated || called {
		t.Fatalf("expected Unauthenticated, got %v (called=%v)", err, called)
	}

	if _, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler); err != nil || !called {
		t.Fatalf("exempt method blocked: %v", err)
	}

	called = false
	ctx := auth.ContextWithPrincipal(context.Background(), auth.Principal{EmployeeID: "e", Roles: auth.Roles{auth.RoleEmployee}})
	if _, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/ems.v1.Employees/Get"}, handler); err != nil || !called {
		t.Fatalf("authenticated call blocked: %v", err)
	}
}

func dialBufHealth(t *testing.T, srv *grpc.Server, service string) *HealthClient {
	t.Helper()
	listener := bufconn.Listen(bufSize)
	go func() { _ = srv.Serve(listener) }()
	client, err := DialHealth(context.Background(), "bufnet", service,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("DialHealth: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
		_ = listener.Close()
	})
	return client
}

func TestHealthClientCheck(t *testing.T) {
	up := dialBufHealth(t, NewServer("employee-service", nil), "employee-service")
	if err := up.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	failing := httpapi.CheckFunc(func(context.Context) error { return errors.New("db down") })
	down := dialBufHealth(t, NewServer("employee-service", failing), "employee-service")
	if err := down.Check(context.Background()); err == nil {
		t.Fatal("NOT_SERVING reported as healthy")
	}

	wrong := dialBufHealth(t, NewServer("employee-service", nil), "billing")
	if err := wrong.Check(context.Background()); status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
