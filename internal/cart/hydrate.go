package cart

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/platform/requestctx"
)

// ProductFetcher loads product detail records in one batch.
type ProductFetcher interface {
	ProductsByIDs(ctx context.Context, ids []string) ([]backend.RichProduct, error)
}

// Line is a cart line joined with its product. Index is the line's position in
// the cart, which is what mutations address.
type Line struct {
	Index     int                 `json:"index"`
	Item      Item                `json:"item"`
	Product   backend.RichProduct `json:"product"`
	UnitPrice decimal.Decimal     `json:"unitPrice"`
	LineTotal decimal.Decimal     `json:"lineTotal"`
}

// Summary is the hydrated cart. TotalItems counts every stored entry, priced
// or not; PricedItems counts only the entries in Lines.
type Summary struct {
	Lines       []Line          `json:"lines"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TotalItems  int             `json:"totalItems"`
	PricedItems int             `json:"pricedItems"`
	IsEmpty     bool            `json:"isEmpty"`
	IsPending   bool            `json:"isPending"`
}

const meterName = "finitefield.org/storefront/cart"

// Hydration outcomes recorded on the hydrations counter.
const (
	OutcomeEmpty    = "empty"
	OutcomeFetched  = "fetched"
	OutcomeFallback = "fallback"
	OutcomePending  = "pending"
)

// Hydrator prices carts against live product data. It remembers the last
// product set fetched per visitor so a failed fetch can fall back to it.
type Hydrator struct {
	products  ProductFetcher
	lastKnown *gocache.Cache

	hydrations metric.Int64Counter
	fetchTime  metric.Float64Histogram
	recording  bool
}

// HydratorOption customises a Hydrator.
type HydratorOption func(*hydratorConfig)

type hydratorConfig struct {
	meter metric.Meter
}

// WithMeter records hydration metrics on m instead of the global meter provider.
func WithMeter(m metric.Meter) HydratorOption {
	return func(cfg *hydratorConfig) {
		cfg.meter = m
	}
}

// NewHydrator builds a hydrator; remembered product sets expire after ttl.
func NewHydrator(products ProductFetcher, ttl time.Duration, opts ...HydratorOption) *Hydrator {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	var cfg hydratorConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	h := &Hydrator{
		products:  products,
		lastKnown: gocache.New(ttl, 2*ttl),
	}
	hydrations, countErr := cfg.meter.Int64Counter(
		"storefront.cart.hydrations",
		metric.WithDescription("Cart hydrations by outcome"),
	)
	fetchTime, timeErr := cfg.meter.Float64Histogram(
		"storefront.cart.hydration.fetch.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of the batched product fetch"),
	)
	if countErr != nil || timeErr != nil {
		requestctx.NoopLogger().Warn("cart: unable to register hydration metrics")
		return h
	}
	h.hydrations, h.fetchTime, h.recording = hydrations, fetchTime, true
	return h
}

// Hydrate fetches every product referenced by items in one call and prices the
// cart. Fetch failures are logged and the visitor's previous product set is
// used instead; with no previous set the summary is pending.
func (h *Hydrator) Hydrate(ctx context.Context, visitorID string, items []Item) Summary {
	if len(items) == 0 {
		h.record(ctx, OutcomeEmpty)
		return Summarize(items, nil)
	}

	started := time.Now()
	products, err := h.products.ProductsByIDs(ctx, distinctProductIDs(items))
	if h.recording {
		h.fetchTime.Record(ctx, float64(time.Since(started))/float64(time.Millisecond),
			metric.WithAttributes(attribute.Bool("error", err != nil)))
	}
	if err != nil {
		requestctx.Logger(ctx).Warn("cart hydration fetch failed", zap.Error(err))
		cached, ok := h.lastKnown.Get(visitorID)
		if !ok {
			h.record(ctx, OutcomePending)
			summary := Summarize(items, nil)
			summary.IsPending = true
			return summary
		}
		h.record(ctx, OutcomeFallback)
		return Summarize(items, cached.([]backend.RichProduct))
	}

	h.lastKnown.SetDefault(visitorID, products)
	h.record(ctx, OutcomeFetched)
	return Summarize(items, products)
}

func (h *Hydrator) record(ctx context.Context, outcome string) {
	if !h.recording {
		return
	}
	h.hydrations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Forget drops the remembered product set, e.g. after checkout.
func (h *Hydrator) Forget(visitorID string) {
	h.lastKnown.Delete(visitorID)
}

// Summarize prices items against products. Lines whose product is missing are
// left out of the lines and the subtotal but still count towards TotalItems.
func Summarize(items []Item, products []backend.RichProduct) Summary {
	byID := make(map[string]backend.RichProduct, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	summary := Summary{Lines: []Line{}, Subtotal: decimal.Zero}
	for i, item := range items {
		summary.TotalItems += item.Quantity
		product, ok := byID[item.ProductID]
		if !ok {
			continue
		}
		unit := UnitPrice(product.Product, item.Variants)
		total := unit.Mul(decimal.NewFromInt(int64(item.Quantity)))
		summary.Lines = append(summary.Lines, Line{
			Index:     i,
			Item:      item,
			Product:   product,
			UnitPrice: unit,
			LineTotal: total,
		})
		summary.Subtotal = summary.Subtotal.Add(total)
		summary.PricedItems += item.Quantity
	}
	summary.IsEmpty = len(summary.Lines) == 0
	return summary
}

// UnitPrice is the base price plus the delta of every selected option.
// Selections that do not resolve against the product add nothing.
func UnitPrice(product backend.Product, selections []backend.Selection) decimal.Decimal {
	price := product.Price
	for _, sel := range selections {
		if delta, ok := product.VariantOptionPrice(sel.Name, sel.Value); ok {
			price = price.Add(delta)
		}
	}
	return price
}
