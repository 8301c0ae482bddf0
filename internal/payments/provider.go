package payments

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or
	// provider confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the provider reports the payment captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider reports a definitive failure.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when no provider handles the requested
// payment method.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrBadSignature is returned when a webhook signature does not verify.
var ErrBadSignature = errors.New("payments: invalid webhook signature")

// RejectionError marks a definitive provider decline, as opposed to a
// transport failure that may succeed on retry. A rejected init fails the
// payment; a transport failure leaves it PENDING.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "rejected: " + e.Reason }

// InitRequest carries everything a provider needs to start a charge.
type InitRequest struct {
	OrderID     string
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
	Customer    Customer
	PhoneNumber string
	Operator    string
	ReturnURL   string
	CancelURL   string
	CallbackURL string
	Description string
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

// InitResponse is the provider acknowledgement of a started charge.
// TransactionID is the provider-side identifier used for all later
// reconciliation; RedirectURL is non-empty when the customer must complete
// the payment on a hosted page.
type InitResponse struct {
	TransactionID  string
	TransactionRef string
	RedirectURL    string
	Instructions   string
}

// VerifyResult is the provider's current view of a transaction.
type VerifyResult struct {
	TransactionID string
	Status        Status
	Reason        string
	CompletedAt   *time.Time
}

// Provider is a payment service adapter. Implementations are safe for
// concurrent use.
type Provider interface {
	Name() string
	Init(ctx context.Context, req InitRequest) (InitResponse, error)
	Verify(ctx context.Context, transactionID string) (VerifyResult, error)
	ParseWebhook(payload []byte, signature string) (VerifyResult, error)
}
