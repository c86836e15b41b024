package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/format"
	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/requestctx"
)

// CheckoutHandlers serves the checkout wizard.
type CheckoutHandlers struct {
	checkout CheckoutService
	money    *format.Formatter
	throttle func(http.Handler) http.Handler
}

type checkoutViewResponse struct {
	checkout.View
	FormattedSubtotal      string `json:"formattedSubtotal,omitempty"`
	FormattedDeliveryPrice string `json:"formattedDeliveryPrice,omitempty"`
	FormattedTotal         string `json:"formattedTotal,omitempty"`
}

type offeringRequest struct {
	Name string `json:"name"`
}

// NewCheckoutHandlers constructs the checkout handlers. throttle wraps the
// endpoints that reach the carrier or the payment provider; nil disables it.
func NewCheckoutHandlers(svc CheckoutService, money *format.Formatter, throttle func(http.Handler) http.Handler) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: svc, money: money, throttle: throttle}
}

// Routes wires the checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Route("/checkout", func(r chi.Router) {
		r.Get("/", h.view)
		r.Put("/address", h.updateAddress)
		r.Get("/states", h.states)
		r.Get("/cities", h.cities)
		r.Post("/rates/{rateID}", h.selectRate)
		r.Post("/offering", h.selectOffering)

		r.Group(func(r chi.Router) {
			if h.throttle != nil {
				r.Use(h.throttle)
			}
			r.Post("/rates", h.fetchRates)
			r.Post("/submit", h.submit)
		})
	})
}

func (h *CheckoutHandlers) view(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.checkout.View(ctx, requestctx.StoreSlug(ctx), requestctx.VisitorID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := checkoutViewResponse{View: view}
	if h.money != nil {
		resp.FormattedSubtotal = h.money.Money(view.Cart.Subtotal)
		resp.FormattedDeliveryPrice = h.money.Money(view.DeliveryPrice)
		resp.FormattedTotal = h.money.Money(view.Total)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var addr checkout.Address
	if err := httpx.DecodeJSON(r, &addr); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	st, fields, err := h.checkout.UpdateAddress(ctx, requestctx.StoreSlug(ctx), requestctx.VisitorID(ctx), addr)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if len(fields) > 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_address", "delivery address is invalid", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": map[string]string(fields)}))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (h *CheckoutHandlers) states(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	states, err := h.checkout.States(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"states": states})
}

func (h *CheckoutHandlers) cities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stateName := strings.TrimSpace(r.URL.Query().Get("state"))
	if stateName == "" {
		httpx.WriteError(ctx, w, httpx.NewError("missing_state", "state query parameter is required", http.StatusBadRequest))
		return
	}
	cities, err := h.checkout.Cities(ctx, stateName)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"cities": cities})
}

func (h *CheckoutHandlers) fetchRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.checkout.FetchRates(ctx, requestctx.StoreSlug(ctx), requestctx.VisitorID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (h *CheckoutHandlers) selectRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rateID := strings.TrimSpace(chi.URLParam(r, "rateID"))
	st, err := h.checkout.SelectRate(ctx, requestctx.StoreSlug(ctx), requestctx.VisitorID(ctx), rateID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (h *CheckoutHandlers) selectOffering(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req offeringRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	st, err := h.checkout.SelectOffering(ctx, requestctx.StoreSlug(ctx), requestctx.VisitorID(ctx), strings.TrimSpace(req.Name))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.checkout.Submit(ctx, requestctx.StoreSlug(ctx), requestctx.VisitorID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}
