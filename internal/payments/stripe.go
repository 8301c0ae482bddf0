package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeConfig configures the card payment provider.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// Stripe implements Provider for card payments through Stripe Checkout.
// The checkout session ID doubles as the transaction ID.
type Stripe struct {
	sessions      stripeSessionAPI
	webhookSecret string
}

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

var _ Provider = (*Stripe)(nil)

func NewStripe(cfg StripeConfig) *Stripe {
	sc := client.New(cfg.APIKey, nil)
	return &Stripe{sessions: sc.CheckoutSessions, webhookSecret: cfg.WebhookSecret}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Init(ctx context.Context, req InitRequest) (InitResponse, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.ReturnURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(stripeAmount(req.Amount, req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Commande " + req.OrderNumber),
				},
			},
		}},
		Metadata: map[string]string{
			"order_id":     req.OrderID,
			"order_number": req.OrderNumber,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("order-" + req.OrderID)
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}

	session, err := s.sessions.New(params)
	if err != nil {
		return InitResponse{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return InitResponse{
		TransactionID:  session.ID,
		TransactionRef: session.ID,
		RedirectURL:    session.URL,
	}, nil
}

func (s *Stripe) Verify(ctx context.Context, transactionID string) (VerifyResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := s.sessions.Get(transactionID, params)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	return stripeResult(session), nil
}

func (s *Stripe) ParseWebhook(payload []byte, signature string) (VerifyResult, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return VerifyResult{}, ErrBadSignature
	}
	switch event.Type {
	case "checkout.session.completed", "checkout.session.expired", "checkout.session.async_payment_failed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return VerifyResult{}, fmt.Errorf("stripe: decode session event: %w", err)
		}
		res := stripeResult(&session)
		switch event.Type {
		case "checkout.session.expired":
			res.Status = StatusFailed
			res.Reason = "checkout session expired"
		case "checkout.session.async_payment_failed":
			res.Status = StatusFailed
			res.Reason = "asynchronous payment failed"
		}
		return res, nil
	default:
		// Unrelated event types are acknowledged without action.
		return VerifyResult{Status: StatusPending}, nil
	}
}

func stripeResult(session *stripe.CheckoutSession) VerifyResult {
	res := VerifyResult{TransactionID: session.ID}
	switch session.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid:
		res.Status = StatusSucceeded
		t := time.Now().UTC()
		if session.PaymentIntent != nil && session.PaymentIntent.Created != 0 {
			t = time.Unix(session.PaymentIntent.Created, 0).UTC()
		}
		res.CompletedAt = &t
	default:
		if session.Status == stripe.CheckoutSessionStatusExpired {
			res.Status = StatusFailed
			res.Reason = "checkout session expired"
		} else {
			res.Status = StatusPending
		}
	}
	return res
}

// stripeAmount converts a decimal amount into Stripe minor units. XOF is a
// zero-decimal currency, so 2000 XOF is sent as 2000, not 200000.
func stripeAmount(amount decimal.Decimal, currency string) int64 {
	switch strings.ToUpper(currency) {
	case "XOF", "XAF", "JPY", "KRW":
		return amount.IntPart()
	default:
		return amount.Mul(decimal.NewFromInt(100)).IntPart()
	}
}
