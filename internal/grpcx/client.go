package grpcx

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthClient probes a remote service over grpc.health.v1. It satisfies
// httpapi.Checker so a caller's readiness can follow its upstream.
type HealthClient struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	service string
}

// DialHealth connects to target (insecure transport unless opts say
// otherwise). The connection is established lazily.
func DialHealth(ctx context.Context, target, service string, opts ...grpc.DialOption) (*HealthClient, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &HealthClient{conn: conn, health: healthpb.NewHealthClient(conn), service: service}, nil
}

// Close closes the underlying connection.
func (c *HealthClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Check returns nil only when the remote reports SERVING.
func (c *HealthClient) Check(ctx context.Context) error {
	resp, err := c.health.Check(OutgoingIdentity(ctx), &healthpb.HealthCheckRequest{Service: c.service})
	if err != nil {
		return fmt.Errorf("%s health: %w", c.service, err)
	}
	if st := resp.GetStatus(); st != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s health: %s", c.service, st)
	}
	return nil
}
