package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fournildore/boulangerie-api/internal/postgres"
)

// Notifier receives order lifecycle events. Implementations must not block
// order processing; the service calls them on a separate goroutine and
// ignores their outcome.
type Notifier interface {
	OrderCreated(ctx context.Context, o Order)
	OrderStatusChanged(ctx context.Context, o Order, from Status)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) OrderCreated(context.Context, Order)              {}
func (NopNotifier) OrderStatusChanged(context.Context, Order, Status) {}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type CreateInput struct {
	CustomerName    string        `json:"customerName"`
	CustomerEmail   *string       `json:"customerEmail"`
	CustomerPhone   string        `json:"customerPhone"`
	Items           []LineRequest `json:"items"`
	IsDelivery      bool          `json:"isDelivery"`
	DeliveryAddress *string       `json:"deliveryAddress"`
	DeliveryTime    *time.Time    `json:"deliveryTime"`
	Notes           *string       `json:"notes"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	PaymentPhone    *string       `json:"paymentPhone"`
	Operator        *string       `json:"operator"`
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.CustomerName) == "" {
		return &ValidationError{Field: "customerName", Reason: "required"}
	}
	if strings.TrimSpace(in.CustomerPhone) == "" {
		return &ValidationError{Field: "customerPhone", Reason: "required"}
	}
	if len(in.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item required"}
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return &ValidationError{Field: "items", Reason: "productId required"}
		}
		if it.Quantity < 1 {
			return &ValidationError{Field: "items", Reason: "quantity must be at least 1"}
		}
	}
	if in.IsDelivery && (in.DeliveryAddress == nil || strings.TrimSpace(*in.DeliveryAddress) == "") {
		return &ValidationError{Field: "deliveryAddress", Reason: "required for delivery orders"}
	}
	if !in.PaymentMethod.Valid() {
		return &ValidationError{Field: "paymentMethod", Reason: "must be CASH, MOBILE_MONEY or CARD"}
	}
	if in.PaymentMethod == MethodMobileMoney && (in.PaymentPhone == nil || strings.TrimSpace(*in.PaymentPhone) == "") {
		return &ValidationError{Field: "paymentPhone", Reason: "required for mobile money"}
	}
	return nil
}

// Service implements the order use-cases over a Store. It owns pricing,
// order numbering inputs and lifecycle transitions; payment state past
// creation belongs to the payments service.
type Service struct {
	store       Store
	notifier    Notifier
	log         *zap.Logger
	deliveryFee decimal.Decimal
	now         func() time.Time
}

func NewService(store Store, notifier Notifier, log *zap.Logger, deliveryFee decimal.Decimal) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:       store,
		notifier:    notifier,
		log:         log,
		deliveryFee: deliveryFee,
		now:         time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	if err := in.validate(); err != nil {
		return Order{}, err
	}

	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.store.PurchasableProducts(ctx, ids)
	if err != nil {
		return Order{}, fmt.Errorf("load products: %w", err)
	}

	quote, err := PriceOrder(products, in.Items, in.IsDelivery, s.deliveryFee)
	if err != nil {
		return Order{}, err
	}

	now := s.now().UTC()
	o := Order{
		ID:              uuid.NewString(),
		Status:          StatusPending,
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerEmail:   in.CustomerEmail,
		CustomerPhone:   strings.TrimSpace(in.CustomerPhone),
		Subtotal:        quote.Subtotal,
		DeliveryFee:     quote.DeliveryFee,
		Total:           quote.Total,
		IsDelivery:      in.IsDelivery,
		DeliveryAddress: in.DeliveryAddress,
		DeliveryTime:    in.DeliveryTime,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           quote.Items,
	}
	for i := range o.Items {
		o.Items[i].ID = uuid.NewString()
		o.Items[i].OrderID = o.ID
	}
	o.Payment = &Payment{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		Method:      in.PaymentMethod,
		Status:      PaymentPending,
		Amount:      quote.Total,
		PhoneNumber: in.PaymentPhone,
		Operator:    in.Operator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Serialization failures from concurrent stock updates are retried once
	// with a fresh attempt; the stock guards re-run inside the new tx.
	if err := postgres.WithRetry(ctx, func(ctx context.Context) error {
		return s.store.CreateOrder(ctx, &o)
	}); err != nil {
		return Order{}, err
	}

	s.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.Total.String()),
		zap.String("payment_method", string(in.PaymentMethod)),
	)
	go s.notifier.OrderCreated(context.WithoutCancel(ctx), o)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.store.Order(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (Order, error) {
	return s.store.OrderByNumber(ctx, number)
}

// VerifyByPhone is the customer-facing lookup: both the order number and the
// phone it was placed with must match. Returns ErrNotFound on any mismatch so
// callers cannot probe which of the two was wrong.
func (s *Service) VerifyByPhone(ctx context.Context, phone, number string) (Order, error) {
	return s.store.OrderByPhoneAndNumber(ctx, strings.TrimSpace(phone), strings.TrimSpace(number))
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, int, error) {
	return s.store.Orders(ctx, f)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// Transition moves an order to a new status, applying the lifecycle rules
// and their side effects (restock on cancel, payment settlement on
// completion) atomically.
func (s *Service) Transition(ctx context.Context, orderID string, to Status, adminNotes *string) (Order, error) {
	prev, err := s.store.Order(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	o, err := s.store.Transition(ctx, orderID, to, adminNotes, s.now().UTC())
	if err != nil {
		return Order{}, err
	}
	s.log.Info("order transitioned",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("from", string(prev.Status)),
		zap.String("to", string(o.Status)),
	)
	go s.notifier.OrderStatusChanged(context.WithoutCancel(ctx), o, prev.Status)
	return o, nil
}
