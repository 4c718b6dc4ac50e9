package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ems.org/internal/auth"
	"ems.org/internal/authservice"
	"ems.org/internal/config"
	"ems.org/internal/credentials"
	"ems.org/internal/employee"
	"ems.org/internal/employeeservice"
	"ems.org/internal/gateway"
	"ems.org/internal/httpapi"
	"ems.org/internal/obs"
	"ems.org/internal/resilience"
)

const employeeServiceLink = "employee-service"

func newSigner(cfg config.AuthConfig) (*auth.Signer, error) {
	return auth.NewSigner(cfg.Secret, auth.WithIssuer(cfg.Issuer))
}

type gatewayParts struct {
	handler http.Handler
	limiter *httpapi.RateLimiter
}

func buildGateway(cfg config.Config, deny auth.Denylist, ready httpapi.Checker) (gatewayParts, error) {
	signer, err := newSigner(cfg.Auth)
	if err != nil {
		return gatewayParts{}, err
	}
	authRoute, err := gateway.ParseRoute("/auth-service", cfg.Gateway.AuthServiceURL)
	if err != nil {
		return gatewayParts{}, err
	}
	employeeRoute, err := gateway.ParseRoute("/employee-service", cfg.Gateway.EmployeeServiceURL)
	if err != nil {
		return gatewayParts{}, err
	}

	vopts := []gateway.ValidatorOption{gateway.WithValidatorLogger(obs.Logger())}
	if deny != nil {
		vopts = append(vopts, gateway.WithDenylist(deny))
	}
	v, err := gateway.NewValidator(signer, vopts...)
	if err != nil {
		return gatewayParts{}, err
	}

	var limiter *httpapi.RateLimiter
	if cfg.Gateway.LoginBurst > 0 && cfg.Gateway.LoginPerSecond > 0 {
		trusted, err := cfg.Gateway.TrustedPrefixes()
		if err != nil {
			return gatewayParts{}, err
		}
		limiter = httpapi.NewRateLimiter(cfg.Gateway.LoginBurst, cfg.Gateway.LoginPerSecond,
			httpapi.WithTrustedProxies(trusted...))
	}
	h, err := gateway.NewHandler(v, gateway.Options{
		Routes:         []gateway.Route{authRoute, employeeRoute},
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		LoginLimiter:   limiter,
		Health:         httpapi.Health{Service: "gateway", Version: version, Ready: ready},
	})
	if err != nil {
		return gatewayParts{}, err
	}
	return gatewayParts{handler: h, limiter: limiter}, nil
}

func buildAuthService(cfg config.Config, deny auth.Denylist) (*authservice.API, error) {
	signer, err := newSigner(cfg.Auth)
	if err != nil {
		return nil, err
	}
	client, err := credentials.New(cfg.AuthService.EmployeeServiceURL,
		credentials.WithHTTPClient(&http.Client{Timeout: cfg.AuthService.LookupTimeout}))
	if err != nil {
		return nil, err
	}
	breaker := resilience.NewBreaker(resilience.Settings{
		Name:             employeeServiceLink,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		OnStateChange:    observeCircuit,
	})
	lookup := resilience.NewLookup(client, breaker,
		resilience.WithMaxRetries(cfg.Breaker.MaxRetries),
		resilience.WithLogger(obs.Logger()))

	issuer, err := auth.NewIssuer(lookup, signer,
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
		auth.WithCredentialWriter(client))
	if err != nil {
		return nil, err
	}
	var opts []authservice.Option
	if deny != nil {
		opts = append(opts, authservice.WithRevocation(deny))
	}
	return authservice.New(issuer, httpapi.Health{Service: "auth-service", Version: version}, opts...)
}

// openStore selects PostgreSQL when a DSN is configured and memory otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (employee.Store, httpapi.Checker, func(), error) {
	if cfg.DSN == "" {
		obs.Logger().Warn("no database configured, employee records are kept in memory")
		return employee.NewInMemory(), nil, func() {}, nil
	}
	store, err := employee.Open(cfg.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.DB().PingContext(ctx); err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return store, httpapi.ReadyProbe{DB: store.DB()}, func() { _ = store.Close() }, nil
}

func buildEmployeeService(store employee.Store, ready httpapi.Checker) (*employeeservice.API, error) {
	return employeeservice.New(store, httpapi.Health{Service: employeeServiceLink, Version: version, Ready: ready})
}

// bootstrapAdmin creates an ADMIN record unless the email is already taken.
func bootstrapAdmin(ctx context.Context, store employee.Store, email, password string) error {
	if email == "" {
		return nil
	}
	if len(password) < 8 {
		return errors.New("bootstrap admin password must be at least 8 characters")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = store.Create(ctx, employee.Employee{
		FirstName:    "System",
		LastName:     "Administrator",
		Email:        email,
		Role:         auth.RoleAdmin,
		PasswordHash: hash,
	})
	if errors.Is(err, auth.ErrConflict) {
		obs.Logger().Info("bootstrap admin already exists", "email", email)
		return nil
	}
	return err
}
