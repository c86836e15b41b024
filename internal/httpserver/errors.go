package httpserver

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/requestctx"
)

// writeServiceError maps domain and backend errors onto the JSON envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, toHTTPError(ctx, err))
}

func toHTTPError(ctx context.Context, err error) httpx.Error {
	var (
		addrErr *checkout.AddressError
		beErr   *backend.Error
		valErr  *backend.ValidationError
	)
	switch {
	case errors.As(err, &addrErr):
		return httpx.NewError("invalid_address", "delivery address is invalid", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": map[string]string(addrErr.Fields)})
	case errors.Is(err, checkout.ErrCartEmpty):
		return httpx.NewError("cart_empty", "the cart is empty", http.StatusConflict)
	case errors.Is(err, checkout.ErrNotTerminalDelivery), errors.Is(err, checkout.ErrNotCustomDelivery):
		return httpx.NewError("delivery_type_mismatch", err.Error(), http.StatusConflict)
	case errors.Is(err, checkout.ErrAddressIncomplete):
		return httpx.NewError("address_incomplete", "fill in the delivery address before requesting rates", http.StatusUnprocessableEntity)
	case errors.Is(err, checkout.ErrRateNotSelected):
		return httpx.NewError("rate_not_selected", "select a shipment rate", http.StatusConflict)
	case errors.Is(err, checkout.ErrOfferingNotSelected):
		return httpx.NewError("offering_not_selected", "select a delivery option", http.StatusConflict)
	case errors.Is(err, checkout.ErrRateNotFound):
		return httpx.NewError("rate_not_found", "the selected rate is not available", http.StatusNotFound)
	case errors.Is(err, checkout.ErrOfferingNotFound):
		return httpx.NewError("offering_not_found", "the selected delivery option is not available", http.StatusNotFound)
	case errors.Is(err, checkout.ErrStateNotFound):
		return httpx.NewError("state_not_found", "unknown state", http.StatusNotFound)
	case errors.Is(err, backend.ErrUnavailable):
		return httpx.NewError("backend_unavailable", "the store is temporarily unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &beErr) && beErr.Status == http.StatusNotFound:
		return httpx.NewError("not_found", "resource not found", http.StatusNotFound)
	case errors.As(err, &beErr):
		requestctx.Logger(ctx).Error("backend call failed", zap.Error(err))
		return httpx.NewError("backend_error", "the store backend returned an error", http.StatusBadGateway)
	case errors.As(err, &valErr):
		requestctx.Logger(ctx).Error("backend response rejected", zap.Error(err))
		return httpx.NewError("backend_contract", "the store backend returned an unexpected response", http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError("timeout", "the request timed out", http.StatusGatewayTimeout)
	default:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		return httpx.NewError("internal", "internal error", http.StatusInternalServerError)
	}
}
