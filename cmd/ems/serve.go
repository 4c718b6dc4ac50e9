package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"ems.org/internal/auth"
	"ems.org/internal/config"
	"ems.org/internal/obs"
	"ems.org/internal/resilience"
	"ems.org/internal/revocation"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

// closers run in reverse order once every server has stopped.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// run starts everything setup schedules on the group and waits until a
// signal arrives or one of them fails.
func run(parent context.Context, service string, setup func(ctx context.Context, g *errgroup.Group, c *closers) error) error {
	obs.Init()
	obs.InitBuildInfo(service, version, commit)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer func() { cleanup.close() }()

	g, gctx := errgroup.WithContext(ctx)
	if err := setup(gctx, g, &cleanup); err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	err := g.Wait()
	obs.Logger().Info("stopped", "service", service)
	return err
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func serveHTTP(ctx context.Context, g *errgroup.Group, name string, srv *http.Server) {
	g.Go(func() error {
		obs.Logger().Info("listening", "service", name, "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func serveGRPC(ctx context.Context, g *errgroup.Group, name, addr string, srv *grpc.Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s grpc listen: %w", name, err)
	}
	g.Go(func() error {
		obs.Logger().Info("listening", "service", name, "grpc_addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("%s grpc: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		return nil
	})
	return nil
}

// background runs fn until ctx is done.
func background(ctx context.Context, g *errgroup.Group, fn func(context.Context)) {
	g.Go(func() error {
		fn(ctx)
		return nil
	})
}

func observeCircuit(link string, from, to resilience.State) {
	obs.CircuitStateChanged(link, to.String(), float64(to))
	obs.Logger().Warn("circuit state changed", "link", link, "from", from.String(), "to", to.String())
}

// openDenylist connects to Redis when configured. A nil denylist disables
// revocation.
func openDenylist(ctx context.Context, cfg config.RedisConfig) (auth.Denylist, func(), error) {
	if cfg.Addr == "" {
		return nil, func() {}, nil
	}
	r, err := revocation.NewRedis(ctx, revocation.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}
