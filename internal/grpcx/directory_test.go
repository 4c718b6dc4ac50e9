package grpcx

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"ems.org/internal/auth"
	"ems.org/internal/authz"
	"ems.org/internal/employee"
)

func getEmployee(ctx context.Context, conn *grpc.ClientConn, id string) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(OutgoingIdentity(ctx), GetEmployeeFullMethodName, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func TestDirectoryGetEmployee(t *testing.T) {
	store := employee.NewInMemory()
	create := func(email string, role auth.Role, dept string) employee.Employee {
		e, err := store.Create(context.Background(), employee.Employee{
			FirstName: "T", LastName: "Test", Email: email, Role: role, DepartmentID: dept,
		})
		if err != nil {
			t.Fatalf("Create(%s): %v", email, err)
		}
		return e
	}
	admin := create("admin@x.com", auth.RoleAdmin, "")
	mgr := create("m@x.com", auth.RoleManager, "D")
	inD := create("d@x.com", auth.RoleEmployee, "D")
	inE := create("e@x.com", auth.RoleEmployee, "E")

	az, err := authz.NewAuthorizer(store)
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	srv := NewServer("employee-service", nil)
	RegisterDirectory(srv, az)
	conn := startBufGRPC(t, srv)

	as := func(e employee.Employee) context.Context {
		return auth.ContextWithPrincipal(context.Background(), auth.Principal{
			EmployeeID: e.ID, Email: e.Email, Roles: auth.Roles{e.Role},
		})
	}

	cases := []struct {
		name   string
		ctx    context.Context
		target string
		code   codes.Code
	}{
		{"no identity", context.Background(), inD.ID, codes.Unauthenticated},
		{"admin reads anyone", as(admin), inE.ID, codes.OK},
		{"manager reads own department", as(mgr), inD.ID, codes.OK},
		{"manager outside department", as(mgr), inE.ID, codes.NotFound},
		{"employee reads self", as(inD), inD.ID, codes.OK},
		{"employee reads other", as(inD), inE.ID, codes.PermissionDenied},
		{"missing id", as(admin), " ", codes.InvalidArgument},
		{"unknown id", as(admin), "nope", codes.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := getEmployee(tc.ctx, conn, tc.target)
			if got := status.Code(err); got != tc.code {
				t.Fatalf("code = %v, want %v (%v)", got, tc.code, err)
			}
			if tc.code != codes.OK {
				return
			}
			if out.GetFields()["id"].GetStringValue() != tc.target {
				t.Fatalf("unexpected record: %v", out.AsMap())
			}
			if _, leaked := out.GetFields()["password"]; leaked {
				t.Fatal("password field returned")
			}
		})
	}
}

func TestTokenIdentityOverTheWire(t *testing.T) {
	rec := &recordingHealth{got: make(chan principalSeen, 1)}
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryIdentityInterceptor))
	healthpb.RegisterHealthServer(srv, rec)
	client := healthpb.NewHealthClient(startBufGRPC(t, srv))

	p := auth.Principal{
		EmployeeID:     "emp-1",
		Roles:          auth.Roles{auth.RoleEmployee},
		TokenID:        "jti-1",
		TokenExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	ctx := OutgoingIdentity(auth.ContextWithPrincipal(context.Background(), p))
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	seen := <-rec.got
	if !seen.ok || seen.p.TokenID != "jti-1" || !seen.p.TokenExpiresAt.Equal(p.TokenExpiresAt) {
		t.Fatalf("token identity lost: %+v", seen)
	}
}
