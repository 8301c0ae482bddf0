package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrPaymentInProgress means the order's payment already left PENDING.
	ErrPaymentInProgress = errors.New("payment already in progress")

	// ErrUnknownTransaction is returned for provider results whose
	// transaction id matches no payment. Webhook handlers log and drop it.
	ErrUnknownTransaction = errors.New("unknown payment transaction")
)

// ProductsUnavailableError names the requested products that are not
// purchasable (missing, archived, or sales-gated).
type ProductsUnavailableError struct {
	ProductIDs []string
}

func (e *ProductsUnavailableError) Error() string {
	return "products unavailable: " + strings.Join(e.ProductIDs, ", ")
}

// InsufficientStockError reports a line whose quantity exceeds the finite
// stock of its product.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductName, e.Requested, e.Available)
}

// InvalidTransitionError names both ends of a rejected status transition.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// ProviderError wraps a payment-provider failure.
type ProviderError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("payment provider %s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("payment provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
