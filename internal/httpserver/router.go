// Package httpserver exposes the storefront pages as JSON over chi.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/format"
	"finitefield.org/storefront/internal/platform/config"
	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/ratelimit"
)

const (
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// CatalogService assembles browsing pages.
type CatalogService interface {
	Home(ctx context.Context, storeSlug string) (catalog.HomePage, error)
	Categories(ctx context.Context, storeSlug string) ([]backend.Category, error)
	SubCategories(ctx context.Context, storeSlug, parentID string) ([]backend.Category, error)
	CollectionPage(ctx context.Context, storeSlug, slug string, query url.Values) (catalog.ListingPage, error)
	CategoryPage(ctx context.Context, storeSlug, categoryID string, query url.Values) (catalog.ListingPage, error)
	Product(ctx context.Context, id string) (backend.RichProduct, error)
	StoreProducts(ctx context.Context, storeSlug string) ([]backend.StoreProduct, error)
}

// CartHydrator prices a visitor's cart.
type CartHydrator interface {
	Hydrate(ctx context.Context, visitorID string, items []cart.Item) cart.Summary
}

// CheckoutService runs the checkout wizard.
type CheckoutService interface {
	View(ctx context.Context, storeSlug, visitorID string) (checkout.View, error)
	UpdateAddress(ctx context.Context, storeSlug, visitorID string, addr checkout.Address) (checkout.State, checkout.FieldErrors, error)
	States(ctx context.Context) ([]backend.State, error)
	Cities(ctx context.Context, stateName string) ([]backend.City, error)
	FetchRates(ctx context.Context, storeSlug, visitorID string) (checkout.State, error)
	SelectRate(ctx context.Context, storeSlug, visitorID, rateID string) (checkout.State, error)
	SelectOffering(ctx context.Context, storeSlug, visitorID, name string) (checkout.State, error)
	Submit(ctx context.Context, storeSlug, visitorID string) (checkout.Result, error)
}

// OrderFinder looks placed orders up.
type OrderFinder interface {
	OrderByReferenceOrSlug(ctx context.Context, lookup backend.OrderLookup) (*backend.Order, error)
}

// Deps bundles everything the router mounts.
type Deps struct {
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	ProjectID string

	// Tenant and Session run before every /api route.
	Tenant  func(http.Handler) http.Handler
	Session func(http.Handler) http.Handler
	// Limiter throttles checkout mutations. Nil disables throttling.
	Limiter *ratelimit.Limiter

	Catalog  CatalogService
	Carts    *cart.Repository
	Hydrator CartHydrator
	Checkout CheckoutService
	Orders   OrderFinder
	Money    *format.Formatter
	Health   *HealthHandlers
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	timeout     time.Duration
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		cfg.timeout = d
	}
}

// NewRouter constructs the chi router with shared middleware and every page route.
func NewRouter(deps Deps, opts ...Option) chi.Router {
	cfg := routerConfig{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		observability.InjectLoggerMiddleware(logger),
		observability.TraceMiddleware(deps.ProjectID),
		observability.RequestLoggerMiddleware(),
		observability.RecoveryMiddleware(logger),
		observability.MetricsMiddleware(deps.Metrics),
		middleware.Timeout(cfg.timeout),
	)
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	health := deps.Health
	if health == nil {
		health = NewHealthHandlers()
	}
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		if deps.Tenant != nil {
			api.Use(deps.Tenant)
		}
		if deps.Session != nil {
			api.Use(deps.Session)
		}
		api.Use(observability.AnnotateRequest)

		if deps.Catalog != nil {
			NewCatalogHandlers(deps.Catalog).Routes(api)
		}
		if deps.Carts != nil && deps.Hydrator != nil {
			NewCartHandlers(deps.Carts, deps.Hydrator, deps.Money, deps.Metrics).Routes(api)
		}
		if deps.Checkout != nil {
			var throttle func(http.Handler) http.Handler
			if deps.Limiter != nil {
				throttle = deps.Limiter.Middleware()
			}
			NewCheckoutHandlers(deps.Checkout, deps.Money, throttle).Routes(api)
		}
		if deps.Orders != nil {
			NewOrderHandlers(deps.Orders, deps.Money).Routes(api)
		}
	})

	return r
}

// NewServer wraps handler in an http.Server using the configured timeouts.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
