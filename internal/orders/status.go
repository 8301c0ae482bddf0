package orders

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further order transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// allowedNext enumerates every state explicitly. An unknown status yields
// nothing rather than falling back to some default path.
func allowedNext(from Status) []Status {
	switch from {
	case StatusPending:
		return []Status{StatusConfirmed, StatusCancelled}
	case StatusConfirmed:
		return []Status{StatusPreparing, StatusCancelled}
	case StatusPreparing:
		return []Status{StatusReady, StatusCancelled}
	case StatusReady:
		return []Status{StatusCompleted, StatusCancelled}
	case StatusCompleted, StatusCancelled:
		return nil
	}
	return nil
}

func CanTransition(from, to Status) bool {
	for _, s := range allowedNext(from) {
		if s == to {
			return true
		}
	}
	return false
}

// RestockItem is one line of the stock-restoration plan produced by a
// cancellation. The store applies it best-effort: products that no longer
// exist or have unlimited stock are skipped.
type RestockItem struct {
	ProductID string
	Quantity  int
}

// TransitionResult is everything a store must persist atomically for one
// status transition.
type TransitionResult struct {
	Order          Order
	Restock        []RestockItem
	PaymentChanged bool
}

const cancelledPaymentReason = "order cancelled"

// ApplyTransition runs the lifecycle state machine against a copy of o.
// It performs no I/O; the caller persists the result in one transaction
// with the order row locked. Illegal transitions fail before any mutation.
func ApplyTransition(o Order, to Status, adminNotes *string, now time.Time) (TransitionResult, error) {
	if !to.Valid() {
		return TransitionResult{}, fmt.Errorf("unknown order status %q", to)
	}
	if !CanTransition(o.Status, to) {
		return TransitionResult{}, &InvalidTransitionError{From: o.Status, To: to}
	}

	res := TransitionResult{Order: o.clone()}
	out := &res.Order
	out.Status = to
	out.UpdatedAt = now
	if adminNotes != nil {
		out.AdminNotes = clonePtr(adminNotes)
	}

	switch to {
	case StatusCompleted:
		t := now
		out.CompletedAt = &t
		// Completing the order is authoritative proof of payment in the
		// cash-on-delivery model: the payment completes no matter its
		// prior status.
		if out.Payment != nil {
			out.Payment.Status = PaymentCompleted
			out.Payment.CompletedAt = &t
			out.Payment.UpdatedAt = now
			res.PaymentChanged = true
		}
	case StatusCancelled:
		t := now
		out.CancelledAt = &t
		for _, it := range out.Items {
			res.Restock = append(res.Restock, RestockItem{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		if out.Payment != nil {
			reason := cancelledPaymentReason
			out.Payment.Status = PaymentFailed
			out.Payment.FailureReason = &reason
			out.Payment.UpdatedAt = now
			res.PaymentChanged = true
		}
	}

	return res, nil
}
