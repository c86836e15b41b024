package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultBackendTimeout       = 10 * time.Second
	defaultBreakerFailures      = 5
	defaultBreakerOpenTimeout   = 30 * time.Second
	defaultSessionCookie        = "storefront_session"
	defaultSessionLifetime      = 30 * 24 * time.Hour
	defaultStoreDB              = 0
	defaultHydrationTTL         = 30 * time.Minute
	defaultCheckoutStateTTL     = 24 * time.Hour
	defaultCountry              = "NG"
	defaultPhonePrefix          = "+234"
	defaultCurrency             = "NGN"
	defaultRateLimitCheckout    = 30
	defaultRateLimitBurst       = 10
	defaultRateLimitIdleTimeout = 10 * time.Minute
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Backend       BackendConfig
	Session       SessionConfig
	Store         StoreConfig
	Tenant        TenantConfig
	Checkout      CheckoutConfig
	RateLimits    RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// BackendConfig points at the commerce backend every page reads from.
type BackendConfig struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// SessionConfig controls the visitor cookie.
type SessionConfig struct {
	CookieName string
	HashKey    string
	BlockKey   string
	Secure     bool
	Lifetime   time.Duration
}

// StoreConfig selects where carts and checkout state live. An empty RedisAddr
// keeps everything in process memory.
type StoreConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HydrationTTL  time.Duration
	CheckoutTTL   time.Duration
}

// TenantConfig resolves the store slug for incoming requests.
type TenantConfig struct {
	DefaultSlug string
	RootDomain  string
	HostsFile   string
}

// CheckoutConfig holds values stamped onto order initialisation requests.
type CheckoutConfig struct {
	PublicOrigin   string
	DefaultCountry string
	PhonePrefix    string
	Currency       string
}

// RateLimitConfig controls request throttling on checkout mutations.
type RateLimitConfig struct {
	CheckoutPerMinute int
	Burst             int
	IdleTimeout       time.Duration
}

// ObservabilityConfig carries identifiers used for log/trace correlation.
type ObservabilityConfig struct {
	ProjectID string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the storefront configuration by combining defaults, .env overrides
// and environment variables.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Backend: BackendConfig{
			BaseURL:         strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_BACKEND_BASE_URL", ""), "/"),
			Timeout:         durationWithDefault(lookup, "STOREFRONT_BACKEND_TIMEOUT", defaultBackendTimeout),
			BreakerFailures: intWithDefault(lookup, "STOREFRONT_BACKEND_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerTimeout:  durationWithDefault(lookup, "STOREFRONT_BACKEND_BREAKER_TIMEOUT", defaultBreakerOpenTimeout),
		},
		Session: SessionConfig{
			CookieName: stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			HashKey:    stringWithDefault(lookup, "STOREFRONT_SESSION_HASH_KEY", ""),
			BlockKey:   stringWithDefault(lookup, "STOREFRONT_SESSION_BLOCK_KEY", ""),
			Secure:     boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", true),
			Lifetime:   durationWithDefault(lookup, "STOREFRONT_SESSION_LIFETIME", defaultSessionLifetime),
		},
		Store: StoreConfig{
			RedisAddr:     stringWithDefault(lookup, "STOREFRONT_REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(lookup, "STOREFRONT_REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(lookup, "STOREFRONT_REDIS_DB", defaultStoreDB),
			HydrationTTL:  durationWithDefault(lookup, "STOREFRONT_HYDRATION_TTL", defaultHydrationTTL),
			CheckoutTTL:   durationWithDefault(lookup, "STOREFRONT_CHECKOUT_TTL", defaultCheckoutStateTTL),
		},
		Tenant: TenantConfig{
			DefaultSlug: stringWithDefault(lookup, "STOREFRONT_TENANT_DEFAULT_SLUG", ""),
			RootDomain:  strings.ToLower(stringWithDefault(lookup, "STOREFRONT_TENANT_ROOT_DOMAIN", "")),
			HostsFile:   stringWithDefault(lookup, "STOREFRONT_TENANT_HOSTS_FILE", ""),
		},
		Checkout: CheckoutConfig{
			PublicOrigin:   strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_PUBLIC_ORIGIN", ""), "/"),
			DefaultCountry: strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_CHECKOUT_COUNTRY", defaultCountry)),
			PhonePrefix:    stringWithDefault(lookup, "STOREFRONT_CHECKOUT_PHONE_PREFIX", defaultPhonePrefix),
			Currency:       strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_CURRENCY", defaultCurrency)),
		},
		RateLimits: RateLimitConfig{
			CheckoutPerMinute: intWithDefault(lookup, "STOREFRONT_RATELIMIT_CHECKOUT_PER_MIN", defaultRateLimitCheckout),
			Burst:             intWithDefault(lookup, "STOREFRONT_RATELIMIT_BURST", defaultRateLimitBurst),
			IdleTimeout:       durationWithDefault(lookup, "STOREFRONT_RATELIMIT_IDLE_TIMEOUT", defaultRateLimitIdleTimeout),
		},
		Observability: ObservabilityConfig{
			ProjectID: stringWithDefault(lookup, "STOREFRONT_PROJECT_ID", ""),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Backend.BaseURL == "" {
		missing = append(missing, "Backend.BaseURL")
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if cfg.Backend.Timeout <= 0 {
		missing = append(missing, "Backend.Timeout")
	}
	if cfg.Backend.BreakerFailures <= 0 {
		missing = append(missing, "Backend.BreakerFailures")
	}
	if len(cfg.Session.HashKey) < 32 {
		missing = append(missing, "Session.HashKey")
	}
	if n := len(cfg.Session.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		missing = append(missing, "Session.BlockKey")
	}
	if cfg.Tenant.DefaultSlug == "" && cfg.Tenant.RootDomain == "" && cfg.Tenant.HostsFile == "" {
		missing = append(missing, "Tenant.DefaultSlug")
	}
	if cfg.Checkout.PublicOrigin == "" {
		missing = append(missing, "Checkout.PublicOrigin")
	}
	if cfg.RateLimits.CheckoutPerMinute <= 0 {
		missing = append(missing, "RateLimits.CheckoutPerMinute")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
