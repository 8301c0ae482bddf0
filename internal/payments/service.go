package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fournildore/boulangerie-api/internal/orders"
)

// ServiceConfig wires the providers and the URLs handed to them.
type ServiceConfig struct {
	MobileMoney Provider
	Card        Provider
	Currency    string
	BaseURL     string
	Timeout     time.Duration
}

// Service drives payment initiation and reconciliation. Provider results are
// applied to orders through the store's reconciliation entry point, which is
// idempotent: a result landing on an already settled payment is a no-op.
type Service struct {
	store    orders.Store
	byMethod map[orders.PaymentMethod]Provider
	byName   map[string]Provider
	log      *zap.Logger
	currency string
	baseURL  string
	timeout  time.Duration
	now      func() time.Time
}

func NewService(store orders.Store, log *zap.Logger, cfg ServiceConfig) *Service {
	s := &Service{
		store:    store,
		byMethod: make(map[orders.PaymentMethod]Provider),
		byName:   make(map[string]Provider),
		log:      log,
		currency: cfg.Currency,
		baseURL:  cfg.BaseURL,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}
	if cfg.MobileMoney != nil {
		s.byMethod[orders.MethodMobileMoney] = cfg.MobileMoney
		s.byName[cfg.MobileMoney.Name()] = cfg.MobileMoney
	}
	if cfg.Card != nil {
		s.byMethod[orders.MethodCard] = cfg.Card
		s.byName[cfg.Card.Name()] = cfg.Card
	}
	return s
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Init starts the provider charge for an order. Cash orders have no online
// flow and are rejected; a payment that already left PENDING is likewise
// rejected so a double-submit cannot start a second charge.
func (s *Service) Init(ctx context.Context, orderID string) (InitResponse, error) {
	o, err := s.store.Order(ctx, orderID)
	if err != nil {
		return InitResponse{}, err
	}
	if o.Payment == nil {
		return InitResponse{}, orders.ErrNotFound
	}
	provider, ok := s.byMethod[o.Payment.Method]
	if !ok {
		return InitResponse{}, ErrUnsupportedProvider
	}
	if o.Payment.Status != orders.PaymentPending {
		return InitResponse{}, orders.ErrPaymentInProgress
	}

	req := InitRequest{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Amount:      o.Total,
		Currency:    s.currency,
		Customer: Customer{
			Name:  o.CustomerName,
			Phone: o.CustomerPhone,
		},
		ReturnURL:   s.baseURL + "/commande/" + o.OrderNumber,
		CancelURL:   s.baseURL + "/commande/" + o.OrderNumber + "?cancelled=1",
		CallbackURL: s.baseURL + "/api/payments/webhook/" + provider.Name(),
		Description: "Commande " + o.OrderNumber,
	}
	if o.CustomerEmail != nil {
		req.Customer.Email = *o.CustomerEmail
	}
	if o.Payment.PhoneNumber != nil {
		req.PhoneNumber = *o.Payment.PhoneNumber
	}
	if o.Payment.Operator != nil {
		req.Operator = *o.Payment.Operator
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := provider.Init(cctx, req)
	if err != nil {
		s.log.Warn("payment init failed",
			zap.String("order_id", o.ID),
			zap.String("provider", provider.Name()),
			zap.Error(err),
		)
		var rejected *RejectionError
		if errors.As(err, &rejected) {
			// Definitive decline: record it. Transport failures fall
			// through with the payment still PENDING so the customer
			// can retry.
			if err := s.store.MarkPaymentFailed(ctx, o.ID, rejected.Reason, s.now().UTC()); err != nil {
				return InitResponse{}, err
			}
		}
		return InitResponse{}, &orders.ProviderError{Provider: provider.Name(), Reason: "init failed", Err: err}
	}

	if err := s.store.MarkPaymentProcessing(ctx, o.ID, resp.TransactionID, resp.TransactionRef, s.now().UTC()); err != nil {
		return InitResponse{}, err
	}
	s.log.Info("payment initiated",
		zap.String("order_id", o.ID),
		zap.String("provider", provider.Name()),
		zap.String("transaction_id", resp.TransactionID),
	)
	return resp, nil
}

// Verify polls the provider for the current state of a transaction and
// applies the result if it is terminal. It returns the order as it stands
// after reconciliation.
func (s *Service) Verify(ctx context.Context, transactionID string) (orders.Order, error) {
	o, err := s.store.OrderByTransactionID(ctx, transactionID)
	if err != nil {
		return orders.Order{}, err
	}
	provider, ok := s.byMethod[o.Payment.Method]
	if !ok {
		return orders.Order{}, ErrUnsupportedProvider
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := provider.Verify(cctx, transactionID)
	if err != nil {
		return orders.Order{}, &orders.ProviderError{Provider: provider.Name(), Reason: "verify failed", Err: err}
	}
	if res.Status == StatusPending {
		return o, nil
	}
	return s.apply(ctx, provider.Name(), transactionID, res)
}

// HandleWebhook authenticates and applies an asynchronous provider
// notification. It returns the order the notification settled, or nil when
// nothing was touched (non-terminal event, unknown transaction). Unknown
// transactions are logged and acknowledged so the provider stops retrying;
// tampered signatures are rejected.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) (*orders.Order, error) {
	provider, ok := s.byName[providerName]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	res, err := provider.ParseWebhook(payload, signature)
	if err != nil {
		return nil, err
	}
	if res.Status == StatusPending || res.TransactionID == "" {
		return nil, nil
	}
	o, err := s.apply(ctx, providerName, res.TransactionID, res)
	if err != nil {
		if errors.Is(err, orders.ErrUnknownTransaction) {
			s.log.Warn("webhook for unknown transaction",
				zap.String("provider", providerName),
				zap.String("transaction_id", res.TransactionID),
			)
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (s *Service) apply(ctx context.Context, providerName, transactionID string, res VerifyResult) (orders.Order, error) {
	pr, err := toPaymentResult(res)
	if err != nil {
		return orders.Order{}, err
	}
	o, applied, err := s.store.ApplyPaymentResult(ctx, transactionID, pr, s.now().UTC())
	if err != nil {
		return orders.Order{}, err
	}
	if !applied {
		s.log.Info("payment result ignored, already settled",
			zap.String("provider", providerName),
			zap.String("transaction_id", transactionID),
		)
		return o, nil
	}
	s.log.Info("payment reconciled",
		zap.String("provider", providerName),
		zap.String("transaction_id", transactionID),
		zap.String("payment_status", string(pr.Status)),
		zap.String("order_status", string(o.Status)),
	)
	return o, nil
}

func toPaymentResult(res VerifyResult) (orders.PaymentResult, error) {
	switch res.Status {
	case StatusSucceeded:
		return orders.PaymentResult{Status: orders.PaymentCompleted, CompletedAt: res.CompletedAt}, nil
	case StatusFailed:
		reason := res.Reason
		if reason == "" {
			reason = "rejected by provider"
		}
		return orders.PaymentResult{Status: orders.PaymentFailed, FailureReason: reason}, nil
	default:
		return orders.PaymentResult{}, fmt.Errorf("payments: non-terminal result %q", res.Status)
	}
}
