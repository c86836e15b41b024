package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/format"
	"finitefield.org/storefront/internal/platform/httpx"
)

// TrackerStep is one stage of an order's progress.
type TrackerStep struct {
	Title    string `json:"title"`
	Complete bool   `json:"complete"`
}

// OrderView is a placed order with its progress tracker.
type OrderView struct {
	*backend.Order
	Steps          []TrackerStep   `json:"steps"`
	CurrentStep    int             `json:"currentStep"`
	StatusLabel    string          `json:"statusLabel"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	FormattedTotal string          `json:"formattedTotal,omitempty"`
}

// OrderHandlers serves order confirmation lookups.
type OrderHandlers struct {
	orders OrderFinder
	money  *format.Formatter
}

// NewOrderHandlers constructs the order handlers.
func NewOrderHandlers(orders OrderFinder, money *format.Formatter) *OrderHandlers {
	return &OrderHandlers{orders: orders, money: money}
}

// Routes wires the order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Get("/orders", h.lookup)
}

func (h *OrderHandlers) lookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	order, err := h.orders.OrderByReferenceOrSlug(ctx, backend.OrderLookup{
		Reference: strings.TrimSpace(q.Get("reference")),
		Slug:      strings.TrimSpace(q.Get("slug")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if order == nil {
		httpx.WriteJSON(w, http.StatusOK, nil)
		return
	}
	view := NewOrderView(order)
	if h.money != nil {
		view.FormattedTotal = h.money.Money(view.Subtotal.Add(order.Shipping))
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

// NewOrderView derives the tracker from the order status. Placing and
// processing are complete for every order the backend returns; shipping and
// delivery only once payment succeeded.
func NewOrderView(order *backend.Order) OrderView {
	done := order.Status == backend.OrderStatusSuccess
	view := OrderView{
		Order: order,
		Steps: []TrackerStep{
			{Title: "Placed", Complete: true},
			{Title: "Processing", Complete: true},
			{Title: "Shipped", Complete: done},
			{Title: "Delivered", Complete: done},
		},
		CurrentStep: 2,
		StatusLabel: "Pending",
		Subtotal:    decimal.Zero,
	}
	if done {
		view.CurrentStep = 4
		view.StatusLabel = "Completed"
	}
	for _, item := range order.Items {
		view.Subtotal = view.Subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return view
}
