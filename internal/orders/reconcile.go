package orders

import (
	"fmt"
	"time"
)

// reconcileOutcome is what a store must persist for one terminal provider
// result: the order-side transition (nil when the order is untouched) and
// the final order state including the updated payment.
type reconcileOutcome struct {
	order      Order
	transition *TransitionResult
}

// reconcile maps a terminal provider result onto an order whose payment is
// not yet terminal. It is the single canonical cascade shared by the verify
// path and the webhook path:
//   - COMPLETED confirms the order, but only if it is still PENDING;
//   - FAILED cancels a still-PENDING order (restocking its items) and
//     records the provider reason in the admin notes.
//
// Pure; the caller persists the outcome atomically.
func reconcile(o Order, res PaymentResult, now time.Time) (reconcileOutcome, error) {
	if o.Payment == nil {
		return reconcileOutcome{}, ErrUnknownTransaction
	}

	var out reconcileOutcome

	switch res.Status {
	case PaymentCompleted:
		if o.Status == StatusPending {
			tr, err := ApplyTransition(o, StatusConfirmed, nil, now)
			if err != nil {
				return reconcileOutcome{}, err
			}
			out.transition = &tr
			out.order = tr.Order
		} else {
			out.order = o.clone()
		}
		p := out.order.Payment
		p.Status = PaymentCompleted
		p.FailureReason = nil
		p.UpdatedAt = now
		if res.CompletedAt != nil {
			p.CompletedAt = clonePtr(res.CompletedAt)
		} else {
			t := now
			p.CompletedAt = &t
		}

	case PaymentFailed:
		if o.Status == StatusPending {
			note := "payment failed: " + res.FailureReason
			tr, err := ApplyTransition(o, StatusCancelled, &note, now)
			if err != nil {
				return reconcileOutcome{}, err
			}
			out.transition = &tr
			out.order = tr.Order
		} else {
			out.order = o.clone()
		}
		p := out.order.Payment
		reason := res.FailureReason
		p.Status = PaymentFailed
		p.FailureReason = &reason
		p.UpdatedAt = now

	default:
		return reconcileOutcome{}, fmt.Errorf("non-terminal payment result %q", res.Status)
	}

	return out, nil
}
