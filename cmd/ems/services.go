package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ems.org/internal/auth"
	"ems.org/internal/authz"
	"ems.org/internal/config"
	"ems.org/internal/grpcx"
	"ems.org/internal/httpapi"
	"ems.org/internal/revocation"
)

func gatewayCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the edge gateway that validates tokens and routes to the services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			return run(cmd.Context(), "gateway", func(ctx context.Context, g *errgroup.Group, c *closers) error {
				deny, closeDeny, err := openDenylist(ctx, cfg.Redis)
				if err != nil {
					return err
				}
				c.add(closeDeny)
				return startGateway(ctx, g, c, cfg, deny)
			})
		},
	}
	opts.bindFlag(cmd, "gateway.listen", "listen", "gateway listen address")
	opts.bindFlag(cmd, "gateway.auth_service_url", "auth-service-url", "auth service base URL")
	opts.bindFlag(cmd, "gateway.employee_service_url", "employee-service-url", "employee service base URL")
	return cmd
}

func authServiceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth-service",
		Short: "Run the auth service that issues tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			return run(cmd.Context(), "auth-service", func(ctx context.Context, g *errgroup.Group, c *closers) error {
				deny, closeDeny, err := openDenylist(ctx, cfg.Redis)
				if err != nil {
					return err
				}
				c.add(closeDeny)
				return startAuthService(ctx, g, cfg, deny)
			})
		},
	}
	opts.bindFlag(cmd, "auth_service.listen", "listen", "auth service listen address")
	opts.bindFlag(cmd, "auth_service.employee_service_url", "employee-service-url", "employee service base URL for credential lookups")
	return cmd
}

func employeeServiceCmd(opts *rootOptions) *cobra.Command {
	var admin adminFlags
	cmd := &cobra.Command{
		Use:   "employee-service",
		Short: "Run the employee directory service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), employeeServiceLink, func(ctx context.Context, g *errgroup.Group, c *closers) error {
				return startEmployeeService(ctx, g, c, cfg, admin)
			})
		},
	}
	opts.bindFlag(cmd, "employee_service.listen", "listen", "employee service listen address")
	opts.bindFlag(cmd, "employee_service.grpc_listen", "grpc-listen", "gRPC health listen address, empty to disable")
	opts.bindFlag(cmd, "database.dsn", "dsn", "PostgreSQL DSN, empty for an in-memory directory")
	admin.register(cmd)
	return cmd
}

// devCmd runs all three services in one process. Without Redis they share
// an in-memory denylist so logout works end to end.
func devCmd(opts *rootOptions) *cobra.Command {
	var admin adminFlags
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run gateway, auth service and employee service together",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			return run(cmd.Context(), "ems-dev", func(ctx context.Context, g *errgroup.Group, c *closers) error {
				deny, closeDeny, err := openDenylist(ctx, cfg.Redis)
				if err != nil {
					return err
				}
				c.add(closeDeny)
				if deny == nil {
					mem := revocation.NewMemory(nil)
					background(ctx, g, func(ctx context.Context) { mem.Run(ctx, sweepInterval) })
					deny = mem
				}
				if err := startEmployeeService(ctx, g, c, cfg, admin); err != nil {
					return err
				}
				if err := startAuthService(ctx, g, cfg, deny); err != nil {
					return err
				}
				return startGateway(ctx, g, c, cfg, deny)
			})
		},
	}
	admin.register(cmd)
	return cmd
}

type adminFlags struct {
	email    string
	password string
}

func (a *adminFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.email, "bootstrap-admin-email", "", "create an ADMIN with this email at startup")
	cmd.Flags().StringVar(&a.password, "bootstrap-admin-password", "", "password for the bootstrap ADMIN")
}

func startGateway(ctx context.Context, g *errgroup.Group, c *closers, cfg config.Config, deny auth.Denylist) error {
	var ready httpapi.Checker
	if target := cfg.Gateway.EmployeeServiceGRPC; target != "" {
		hc, err := grpcx.DialHealth(ctx, target, employeeServiceLink)
		if err != nil {
			return err
		}
		c.add(func() { _ = hc.Close() })
		ready = hc
	}
	parts, err := buildGateway(cfg, deny, ready)
	if err != nil {
		return err
	}
	if parts.limiter != nil {
		background(ctx, g, parts.limiter.Run)
	}
	serveHTTP(ctx, g, "gateway", newHTTPServer(cfg.Gateway.Listen, parts.handler))
	return nil
}

func startAuthService(ctx context.Context, g *errgroup.Group, cfg config.Config, deny auth.Denylist) error {
	api, err := buildAuthService(cfg, deny)
	if err != nil {
		return err
	}
	serveHTTP(ctx, g, "auth-service", newHTTPServer(cfg.AuthService.Listen, api.Handler()))
	return nil
}

func startEmployeeService(ctx context.Context, g *errgroup.Group, c *closers, cfg config.Config, admin adminFlags) error {
	store, ready, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	c.add(closeStore)
	if err := bootstrapAdmin(ctx, store, admin.email, admin.password); err != nil {
		return err
	}
	api, err := buildEmployeeService(store, ready)
	if err != nil {
		return err
	}
	serveHTTP(ctx, g, employeeServiceLink, newHTTPServer(cfg.EmployeeService.Listen, api.Handler()))
	if cfg.EmployeeService.GRPCListen == "" {
		return nil
	}
	az, err := authz.NewAuthorizer(store)
	if err != nil {
		return err
	}
	srv := grpcx.NewServer(employeeServiceLink, ready)
	grpcx.RegisterDirectory(srv, az)
	return serveGRPC(ctx, g, employeeServiceLink, cfg.EmployeeService.GRPCListen, srv)
}
