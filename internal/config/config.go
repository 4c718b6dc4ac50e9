// Package config loads service configuration from defaults, an optional
// YAML file and EMS_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ems.org/internal/auth"
)

// EnvPrefix is prepended to every environment key: auth.secret is read from
// EMS_AUTH_SECRET.
const EnvPrefix = "EMS"

type Config struct {
	Auth            AuthConfig      `mapstructure:"auth"`
	Breaker         BreakerConfig   `mapstructure:"breaker"`
	Gateway         GatewayConfig   `mapstructure:"gateway"`
	AuthService     AuthService     `mapstructure:"auth_service"`
	EmployeeService EmployeeService `mapstructure:"employee_service"`
	Database        DatabaseConfig  `mapstructure:"database"`
	Redis           RedisConfig     `mapstructure:"redis"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// BreakerConfig tunes the circuit around the credential lookup.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
	MaxRetries       int           `mapstructure:"max_retries"`
}

type GatewayConfig struct {
	Listen             string   `mapstructure:"listen"`
	AuthServiceURL     string   `mapstructure:"auth_service_url"`
	EmployeeServiceURL string   `mapstructure:"employee_service_url"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	LoginBurst         int      `mapstructure:"login_burst"`
	LoginPerSecond     float64  `mapstructure:"login_per_second"`

	// TrustedProxies are CIDRs whose X-Forwarded-For the login limiter honours.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// EmployeeServiceGRPC, when set, gates readiness on the employee
	// service's gRPC health.
	EmployeeServiceGRPC string `mapstructure:"employee_service_grpc"`
}

type AuthService struct {
	Listen             string        `mapstructure:"listen"`
	EmployeeServiceURL string        `mapstructure:"employee_service_url"`
	LookupTimeout      time.Duration `mapstructure:"lookup_timeout"`
}

type EmployeeService struct {
	Listen     string `mapstructure:"listen"`
	GRPCListen string `mapstructure:"grpc_listen"`
}

// DatabaseConfig selects the employee store. An empty DSN keeps records in
// memory.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig enables the shared token denylist. An empty Addr keeps the
// denylist in process memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var defaults = map[string]any{
	"auth.secret":    "",
	"auth.issuer":    "ems-auth-service",
	"auth.token_ttl": 24 * time.Hour,

	"breaker.failure_threshold":   5,
	"breaker.window":              30 * time.Second,
	"breaker.open_timeout":        10 * time.Second,
	"breaker.half_open_max_calls": 1,
	"breaker.max_retries":         2,

	"gateway.listen":               ":8080",
	"gateway.auth_service_url":     "http://localhost:8081",
	"gateway.employee_service_url": "http://localhost:8082",
	"gateway.allowed_origins":      []string{},
	"gateway.login_burst":          10,
	"gateway.login_per_second":     1.0,
	"gateway.trusted_proxies":      []string{},

	"gateway.employee_service_grpc": "",

	"auth_service.listen":               ":8081",
	"auth_service.employee_service_url": "http://localhost:8082",
	"auth_service.lookup_timeout":       5 * time.Second,

	"employee_service.listen":      ":8082",
	"employee_service.grpc_listen": ":9082",

	"database.dsn": "",

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,
}

// NewViper returns a viper instance with defaults and environment binding.
// Callers may bind command-line flags onto it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file when given, otherwise an ems.yaml found in the working
// directory or /etc/ems. A missing default file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("ems")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ems")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// TrustedPrefixes parses TrustedProxies. A bare address is a single host.
func (g GatewayConfig) TrustedPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(g.TrustedProxies))
	for _, raw := range g.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("gateway.trusted_proxies: %q is not an address or CIDR", raw)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("gateway.trusted_proxies: %q is not an address or CIDR", raw)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// Validate checks values every service depends on.
func (c Config) Validate() error {
	var problems []string
	if c.Auth.TokenTTL <= 0 {
		problems = append(problems, "auth.token_ttl must be positive")
	}
	if c.Breaker.FailureThreshold < 1 {
		problems = append(problems, "breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.Window <= 0 || c.Breaker.OpenTimeout <= 0 {
		problems = append(problems, "breaker.window and breaker.open_timeout must be positive")
	}
	if c.Breaker.HalfOpenMaxCalls < 1 {
		problems = append(problems, "breaker.half_open_max_calls must be at least 1")
	}
	if c.Breaker.MaxRetries < 0 {
		problems = append(problems, "breaker.max_retries must not be negative")
	}
	if c.Gateway.LoginBurst < 0 || c.Gateway.LoginPerSecond < 0 {
		problems = append(problems, "gateway login rate must not be negative")
	}
	if _, err := c.Gateway.TrustedPrefixes(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RequireSecret checks the signing secret shared by the auth service and
// the gateway.
func (c Config) RequireSecret() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required (set %s_AUTH_SECRET)", EnvPrefix)
	}
	if len(c.Auth.Secret) < auth.MinSecretLength {
		return fmt.Errorf("auth.secret must be at least %d bytes", auth.MinSecretLength)
	}
	return nil
}
