package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/format"
	"finitefield.org/storefront/internal/httpserver"
	"finitefield.org/storefront/internal/platform/config"
	"finitefield.org/storefront/internal/platform/kv"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/ratelimit"
	"finitefield.org/storefront/internal/session"
	"finitefield.org/storefront/internal/tenant"
)

const (
	moneyLocale         = "en-NG"
	memoryCleanupPeriod = time.Minute
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	var healthOpts []httpserver.HealthOption
	var store kv.Store
	if cfg.Store.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		redisStore := kv.NewRedisStore(client, "storefront:")
		store = redisStore
		healthOpts = append(healthOpts, httpserver.WithReadinessCheck("redis", redisStore.Ping))
	} else {
		logger.Warn("no redis address configured; carts and checkout state are kept in memory")
		store = kv.NewMemoryStore(memoryCleanupPeriod)
	}

	client, err := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithBreaker(cfg.Backend.BreakerFailures, cfg.Backend.BreakerTimeout),
		backend.WithObserver(metrics),
		backend.WithLogger(logger.Named("backend")),
	)
	if err != nil {
		logger.Fatal("failed to initialise backend client", zap.Error(err))
	}

	carts := cart.NewRepository(store)
	hydrator := cart.NewHydrator(client, cfg.Store.HydrationTTL)

	catalogService, err := catalog.NewService(catalog.ServiceDeps{Backend: client})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	money, err := format.New(cfg.Checkout.Currency, moneyLocale)
	if err != nil {
		logger.Fatal("failed to initialise money formatter", zap.Error(err))
	}

	checkoutService, err := checkout.NewService(checkout.ServiceDeps{
		Backend:      client,
		Carts:        carts,
		Hydrator:     hydrator,
		Store:        store,
		Recorder:     metrics,
		PublicOrigin: cfg.Checkout.PublicOrigin,
		Projection: checkout.Projection{
			Country:     cfg.Checkout.DefaultCountry,
			PhonePrefix: cfg.Checkout.PhonePrefix,
		},
		StateTTL: cfg.Store.CheckoutTTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	sessions, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.Secure,
		Lifetime:     cfg.Session.Lifetime,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	var hosts map[string]string
	if cfg.Tenant.HostsFile != "" {
		hosts, err = tenant.LoadHosts(cfg.Tenant.HostsFile)
		if err != nil {
			logger.Fatal("failed to load store hosts", zap.String("path", cfg.Tenant.HostsFile), zap.Error(err))
		}
	}
	resolver, err := tenant.NewResolver(tenant.Config{
		DefaultSlug: cfg.Tenant.DefaultSlug,
		RootDomain:  cfg.Tenant.RootDomain,
		Hosts:       hosts,
	})
	if err != nil {
		logger.Fatal("failed to initialise store resolver", zap.Error(err))
	}

	limiter := ratelimit.New(ctx, cfg.RateLimits.CheckoutPerMinute, cfg.RateLimits.Burst, cfg.RateLimits.IdleTimeout,
		ratelimit.WithRejectHook(metrics.CountRateLimited),
	)
	defer limiter.Shutdown()

	router := httpserver.NewRouter(httpserver.Deps{
		Logger:    logger,
		Metrics:   metrics,
		ProjectID: cfg.Observability.ProjectID,
		Tenant:    resolver.Middleware,
		Session:   session.Middleware(sessions),
		Limiter:   limiter,
		Catalog:   catalogService,
		Carts:     carts,
		Hydrator:  hydrator,
		Checkout:  checkoutService,
		Orders:    client,
		Money:     money,
		Health:    httpserver.NewHealthHandlers(healthOpts...),
	})
	server := httpserver.NewServer(cfg.Server, router)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
