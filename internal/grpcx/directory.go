package grpcx

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"ems.org/internal/auth"
	"ems.org/internal/employee"
)

const (
	DirectoryService          = "ems.employee.v1.Directory"
	GetEmployeeFullMethodName = "/" + DirectoryService + "/GetEmployee"
)

// EmployeeReader returns a record the principal may see. authz.Authorizer
// satisfies it.
type EmployeeReader interface {
	ReadOne(ctx context.Context, p auth.Principal, id string) (employee.Employee, error)
}

type directoryHandler interface {
	GetEmployee(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// DirectoryServer exposes scoped employee reads. Requests and responses are
// google.protobuf.Struct values: {"id": "..."} in, the public record out.
type DirectoryServer struct {
	reader EmployeeReader
}

// RegisterDirectory adds the directory service to srv.
func RegisterDirectory(srv *grpc.Server, reader EmployeeReader) {
	srv.RegisterService(&directoryServiceDesc, &DirectoryServer{reader: reader})
}

func (s *DirectoryServer) GetEmployee(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	id := strings.TrimSpace(req.GetFields()["id"].GetStringValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	e, err := s.reader.ReadOne(ctx, p, id)
	if err != nil {
		return nil, statusFor(err)
	}
	return structpb.NewStruct(map[string]any{
		"id":           e.ID,
		"firstName":    e.FirstName,
		"lastName":     e.LastName,
		"email":        e.Email,
		"status":       e.Status,
		"role":         e.Role.String(),
		"departmentId": e.DepartmentID,
		"updatedAt":    e.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func statusFor(err error) error {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, "employee not found")
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, auth.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func getEmployeeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(directoryHandler).GetEmployee(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetEmployeeFullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(directoryHandler).GetEmployee(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var directoryServiceDesc = grpc.ServiceDesc{
	ServiceName: DirectoryService,
	HandlerType: (*directoryHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetEmployee", Handler: getEmployeeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ems/employee/v1/directory.proto",
}
