package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/format"
	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/requestctx"
)

// CartHandlers serves the visitor's cart.
type CartHandlers struct {
	carts    *cart.Repository
	hydrator CartHydrator
	money    *format.Formatter
	metrics  *observability.Metrics
	validate *validator.Validate
}

type cartResponse struct {
	cart.Summary
	FormattedSubtotal string `json:"formattedSubtotal,omitempty"`
}

// NewCartHandlers constructs the cart handlers. money and metrics may be nil.
func NewCartHandlers(carts *cart.Repository, hydrator CartHydrator, money *format.Formatter, metrics *observability.Metrics) *CartHandlers {
	return &CartHandlers{
		carts:    carts,
		hydrator: hydrator,
		money:    money,
		metrics:  metrics,
		validate: validator.New(),
	}
}

// Routes wires the cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.clear)
		r.Post("/items", h.add)
		r.Post("/items/{index}/increment", h.mutateAt("increment", (*cart.Store).Increment))
		r.Post("/items/{index}/decrement", h.mutateAt("decrement", (*cart.Store).Decrement))
		r.Delete("/items/{index}", h.mutateAt("remove", (*cart.Store).Remove))
		r.Get("/quantity/{productID}", h.quantity)
	})
}

func (h *CartHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := requestctx.VisitorID(ctx)
	c, err := h.carts.Load(ctx, visitorID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.respond(w, r, c)
}

func (h *CartHandlers) add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var item cart.Item
	if err := httpx.DecodeJSON(r, &item); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	item.ProductID = strings.TrimSpace(item.ProductID)
	if err := h.validate.Struct(item); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_item", err.Error(), http.StatusBadRequest))
		return
	}
	h.update(w, r, "add", func(s *cart.Store) { s.Add(item) })
}

func (h *CartHandlers) clear(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, "clear", (*cart.Store).Clear)
}

func (h *CartHandlers) mutateAt(kind string, op func(*cart.Store, int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_index", "index must be an integer", http.StatusBadRequest))
			return
		}
		h.update(w, r, kind, func(s *cart.Store) { op(s, index) })
	}
}

func (h *CartHandlers) quantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.carts.Load(ctx, requestctx.VisitorID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"productId": productID,
		"quantity":  c.ItemQuantity(productID),
	})
}

func (h *CartHandlers) update(w http.ResponseWriter, r *http.Request, kind string, fn func(*cart.Store)) {
	ctx := r.Context()
	c, err := h.carts.Update(ctx, requestctx.VisitorID(ctx), fn)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.metrics.CountCartMutation(kind)
	h.respond(w, r, c)
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, c *cart.Store) {
	ctx := r.Context()
	summary := h.hydrator.Hydrate(ctx, requestctx.VisitorID(ctx), c.Items())
	resp := cartResponse{Summary: summary}
	if h.money != nil {
		resp.FormattedSubtotal = h.money.Money(summary.Subtotal)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var herr httpx.Error
	if errors.As(err, &herr) {
		httpx.WriteError(r.Context(), w, herr)
		return
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_body", err.Error(), http.StatusBadRequest))
}
