package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fournildore/boulangerie-api/internal/auth"
	"github.com/fournildore/boulangerie-api/internal/catalog"
	"github.com/fournildore/boulangerie-api/internal/orders"
	"github.com/fournildore/boulangerie-api/internal/payments"
	"github.com/fournildore/boulangerie-api/internal/postgres"
)

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string, details map[string]any) {
	writeJSON(w, code, errorEnvelope{Error: errorBody{Code: errCode, Message: message, Details: details}})
}

// writeDomainError maps domain errors onto the HTTP error envelope. Conflicts
// (stock, lifecycle, payment races) are 409 so clients can distinguish "try
// again differently" from plain bad input.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation  *orders.ValidationError
		unavailable *orders.ProductsUnavailableError
		stock       *orders.InsufficientStockError
		transition  *orders.InvalidTransitionError
		provider    *orders.ProviderError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "VALIDATION", validation.Error(), map[string]any{
			"field": validation.Field,
		})
	case errors.As(err, &unavailable):
		writeError(w, http.StatusConflict, "PRODUCT_UNAVAILABLE", "one or more products are no longer available", map[string]any{
			"productIds": unavailable.ProductIDs,
		})
	case errors.As(err, &stock):
		writeError(w, http.StatusConflict, "INSUFFICIENT_STOCK", stock.Error(), map[string]any{
			"productId": stock.ProductID,
			"requested": stock.Requested,
			"available": stock.Available,
		})
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", transition.Error(), map[string]any{
			"from": transition.From,
			"to":   transition.To,
		})
	case errors.As(err, &provider):
		writeError(w, http.StatusBadGateway, "PROVIDER_ERROR", provider.Error(), nil)
	case errors.Is(err, orders.ErrPaymentInProgress):
		writeError(w, http.StatusConflict, "PAYMENT_IN_PROGRESS", "payment has already been initiated", nil)
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrUnknownTransaction),
		errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, catalog.ErrSlugTaken):
		writeError(w, http.StatusConflict, "SLUG_TAKEN", "a product with this name already exists", nil)
	case errors.Is(err, payments.ErrUnsupportedProvider):
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_PROVIDER", "no payment provider for this method", nil)
	case errors.Is(err, payments.ErrBadSignature):
		writeError(w, http.StatusBadRequest, "BAD_SIGNATURE", "webhook signature verification failed", nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case postgres.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "TRY_AGAIN", "temporary conflict, retry the request", nil)
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

// Unauthorized is the rejection handler plugged into the admin auth
// middleware.
func Unauthorized(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
}
