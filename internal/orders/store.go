package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fournildore/boulangerie-api/internal/catalog"
)

type ListFilter struct {
	Status        *Status
	CustomerPhone string
	From          *time.Time
	To            *time.Time
	Page          int
	Limit         int
}

type Stats struct {
	TotalOrders     int             `json:"totalOrders"`
	PendingOrders   int             `json:"pendingOrders"`
	CompletedOrders int             `json:"completedOrders"`
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
}

// PaymentResult is a provider outcome already normalised by the payments
// package, ready to be applied to storage.
type PaymentResult struct {
	Status        PaymentStatus // PaymentCompleted or PaymentFailed
	FailureReason string
	CompletedAt   *time.Time
}

// Store persists orders and enforces the transactional boundaries the
// lifecycle requires. Every mutating method is a single atomic unit: a
// failure leaves storage exactly as it was.
type Store interface {
	// PurchasableProducts returns the subset of ids that are currently
	// sellable (is_available and status AVAILABLE).
	PurchasableProducts(ctx context.Context, ids []string) ([]catalog.Product, error)

	// CreateOrder persists the order, its items and its payment, assigns
	// the date-scoped order number, and decrements finite stock — all in
	// one transaction. Concurrent orders for the same scarce product are
	// serialized by the store; the loser gets InsufficientStockError.
	CreateOrder(ctx context.Context, o *Order) error

	Order(ctx context.Context, id string) (Order, error)
	OrderByNumber(ctx context.Context, number string) (Order, error)
	// OrderByPhoneAndNumber backs the customer self-service lookup.
	OrderByPhoneAndNumber(ctx context.Context, phone, number string) (Order, error)
	Orders(ctx context.Context, f ListFilter) ([]Order, int, error)
	Stats(ctx context.Context) (Stats, error)

	// Transition locks the order row, runs ApplyTransition, and persists
	// the result (status write, restock, payment sync) atomically.
	Transition(ctx context.Context, orderID string, to Status, adminNotes *string, now time.Time) (Order, error)

	// OrderByTransactionID resolves the order owning the payment with the
	// given provider transaction id, or ErrUnknownTransaction.
	OrderByTransactionID(ctx context.Context, transactionID string) (Order, error)

	// MarkPaymentProcessing moves a PENDING payment to PROCESSING and
	// stores the provider references. Any other prior status fails with
	// ErrPaymentInProgress.
	MarkPaymentProcessing(ctx context.Context, orderID, transactionID, transactionRef string, now time.Time) error

	// MarkPaymentFailed records a provider rejection on a non-terminal
	// payment.
	MarkPaymentFailed(ctx context.Context, orderID, reason string, now time.Time) error

	// ApplyPaymentResult applies a terminal provider result to the payment
	// identified by transactionID and cascades to the order (CONFIRMED on
	// success, cancellation with restock on failure) in one transaction.
	// Re-applying a result to an already-terminal payment is a no-op with
	// applied=false. Unknown ids fail with ErrUnknownTransaction.
	ApplyPaymentResult(ctx context.Context, transactionID string, res PaymentResult, now time.Time) (o Order, applied bool, err error)
}
