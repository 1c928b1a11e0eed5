package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// InsecureDefaultJWTSecret is used when JWT_SECRET is unset.
// It is accepted outside production only; Validate rejects it when APP_ENV=production.
const InsecureDefaultJWTSecret = "change-me-in-production"

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file loaded by main before Load).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Gateway   GatewayConfig
}

type AppConfig struct {
	Env  string
	Port int

	// TrustedProxies lists the proxy addresses/CIDRs whose X-Forwarded-For is believed.
	// Empty means the peer address is the client IP.
	TrustedProxies []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string

	// TokenTTL is the default token lifetime ("remember me").
	TokenTTL time.Duration
	// ShortTokenTTL applies when the caller did not ask to be remembered.
	ShortTokenTTL time.Duration

	CookieName   string
	CookieSecure bool
}

// RateLimitPolicy is one scope's fixed-window parameters.
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	// Backend is "memory" (single process) or "redis".
	Backend       string
	Login         RateLimitPolicy
	API           RateLimitPolicy
	SweepInterval time.Duration
}

type GatewayConfig struct {
	// DirectoryTimeout bounds each account lookup; a timeout denies the request.
	DirectoryTimeout time.Duration
	// AuditTimeout bounds each audit write; a timeout is logged and ignored.
	AuditTimeout time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = intVar(parseErrs, "APP_PORT", true)
	c.App.TrustedProxies = listVar("TRUSTED_PROXIES")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = intVar(parseErrs, "DB_PORT", true)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intVar(parseErrs, "REDIS_PORT", false)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.TokenTTL, parseErrs = durationVar(parseErrs, "JWT_TTL")
	c.Auth.ShortTokenTTL, parseErrs = durationVar(parseErrs, "JWT_SHORT_TTL")
	c.Auth.CookieName = strings.TrimSpace(os.Getenv("AUTH_COOKIE_NAME"))

	c.RateLimit.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("RATE_LIMIT_BACKEND")))
	c.RateLimit.Login.Limit, parseErrs = intVar(parseErrs, "RATE_LIMIT_LOGIN_MAX", false)
	c.RateLimit.Login.Window, parseErrs = durationVar(parseErrs, "RATE_LIMIT_LOGIN_WINDOW")
	c.RateLimit.API.Limit, parseErrs = intVar(parseErrs, "RATE_LIMIT_API_MAX", false)
	c.RateLimit.API.Window, parseErrs = durationVar(parseErrs, "RATE_LIMIT_API_WINDOW")
	c.RateLimit.SweepInterval, parseErrs = durationVar(parseErrs, "RATE_LIMIT_SWEEP_INTERVAL")

	c.Gateway.DirectoryTimeout, parseErrs = durationVar(parseErrs, "DIRECTORY_TIMEOUT")
	c.Gateway.AuditTimeout, parseErrs = durationVar(parseErrs, "AUDIT_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = InsecureDefaultJWTSecret
	}
	if c.IsProduction() && c.Auth.JWTSecret == InsecureDefaultJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be overridden in production"))
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.ShortTokenTTL <= 0 {
		c.Auth.ShortTokenTTL = 24 * time.Hour
	}
	if c.Auth.ShortTokenTTL > c.Auth.TokenTTL {
		errs = append(errs, errors.New("JWT_SHORT_TTL must not exceed JWT_TTL"))
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "auth_token"
	}
	c.Auth.CookieSecure = c.IsProduction()

	switch c.RateLimit.Backend {
	case "":
		c.RateLimit.Backend = "memory"
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when RATE_LIMIT_BACKEND=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be one of memory, redis, got %q", c.RateLimit.Backend))
	}
	c.RateLimit.Login = withPolicyDefaults(c.RateLimit.Login, 12, 15*time.Minute)
	c.RateLimit.API = withPolicyDefaults(c.RateLimit.API, 100, time.Minute)
	if c.RateLimit.SweepInterval <= 0 {
		c.RateLimit.SweepInterval = 5 * time.Minute
	}

	if c.Gateway.DirectoryTimeout <= 0 {
		c.Gateway.DirectoryTimeout = 2 * time.Second
	}
	if c.Gateway.AuditTimeout <= 0 {
		c.Gateway.AuditTimeout = 2 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func withPolicyDefaults(p RateLimitPolicy, limit int, window time.Duration) RateLimitPolicy {
	if p.Limit <= 0 {
		p.Limit = limit
	}
	if p.Window <= 0 {
		p.Window = window
	}
	return p
}

func intVar(errs []error, key string, required bool) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

// listVar reads an optional comma-separated list, dropping empty items.
func listVar(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// durationVar reads an optional duration; defaults are applied in Validate.
func durationVar(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
