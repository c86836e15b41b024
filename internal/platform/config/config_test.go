package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testHashKey = "0123456789abcdef0123456789abcdef"

func baseEnv() map[string]string {
	return map[string]string{
		"STOREFRONT_BACKEND_BASE_URL":    "https://backend.example.com/",
		"STOREFRONT_SESSION_HASH_KEY":    testHashKey,
		"STOREFRONT_TENANT_DEFAULT_SLUG": "acme",
		"STOREFRONT_PUBLIC_ORIGIN":       "https://shop.example.com/",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, defaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	require.Equal(t, "https://backend.example.com", cfg.Backend.BaseURL)
	require.Equal(t, defaultBackendTimeout, cfg.Backend.Timeout)
	require.Equal(t, defaultBreakerFailures, cfg.Backend.BreakerFailures)
	require.Equal(t, defaultSessionCookie, cfg.Session.CookieName)
	require.True(t, cfg.Session.Secure)
	require.Empty(t, cfg.Store.RedisAddr)
	require.Equal(t, "https://shop.example.com", cfg.Checkout.PublicOrigin)
	require.Equal(t, "NG", cfg.Checkout.DefaultCountry)
	require.Equal(t, "+234", cfg.Checkout.PhonePrefix)
	require.Equal(t, "NGN", cfg.Checkout.Currency)
	require.Equal(t, defaultRateLimitCheckout, cfg.RateLimits.CheckoutPerMinute)
}

func TestLoadWithOverrides(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_SERVER_PORT"] = "9090"
	env["STOREFRONT_SERVER_READ_TIMEOUT"] = "20s"
	env["STOREFRONT_BACKEND_TIMEOUT"] = "3s"
	env["STOREFRONT_SESSION_SECURE"] = "false"
	env["STOREFRONT_REDIS_ADDR"] = "localhost:6379"
	env["STOREFRONT_REDIS_DB"] = "2"
	env["STOREFRONT_TENANT_ROOT_DOMAIN"] = "Shops.Example.com"
	env["STOREFRONT_CHECKOUT_COUNTRY"] = "gh"
	env["STOREFRONT_RATELIMIT_CHECKOUT_PER_MIN"] = "5"

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, 3*time.Second, cfg.Backend.Timeout)
	require.False(t, cfg.Session.Secure)
	require.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	require.Equal(t, 2, cfg.Store.RedisDB)
	require.Equal(t, "shops.example.com", cfg.Tenant.RootDomain)
	require.Equal(t, "GH", cfg.Checkout.DefaultCountry)
	require.Equal(t, 5, cfg.RateLimits.CheckoutPerMinute)
}

func TestLoadValidationError(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_BACKEND_BASE_URL": "not a url",
		"STOREFRONT_SESSION_HASH_KEY": "short",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	require.Error(t, err)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	fields := vErr.Fields()
	require.Contains(t, fields, "Backend.BaseURL")
	require.Contains(t, fields, "Session.HashKey")
	require.Contains(t, fields, "Tenant.DefaultSlug")
	require.Contains(t, fields, "Checkout.PublicOrigin")
}

func TestLoadRejectsInvalidBlockKey(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_SESSION_BLOCK_KEY"] = "abc"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, []string{"Session.BlockKey"}, vErr.Fields())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"# local overrides",
		"export STOREFRONT_BACKEND_BASE_URL=\"https://dotenv.example.com\"",
		"STOREFRONT_SESSION_HASH_KEY=" + testHashKey,
		"STOREFRONT_TENANT_DEFAULT_SLUG='dotenv-store'",
		"STOREFRONT_PUBLIC_ORIGIN=https://shop.example.com",
		"STOREFRONT_SERVER_PORT=7070",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	env := map[string]string{"STOREFRONT_SERVER_PORT": "6060"}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(path))
	require.NoError(t, err)

	require.Equal(t, "https://dotenv.example.com", cfg.Backend.BaseURL)
	require.Equal(t, "dotenv-store", cfg.Tenant.DefaultSlug)
	require.Equal(t, "6060", cfg.Server.Port, "explicit env map must win over .env")
}

func TestLoadHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Load(ctx, WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	require.ErrorIs(t, err, context.Canceled)
}
