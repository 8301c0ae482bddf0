package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCash        PaymentMethod = "CASH"
	MethodMobileMoney PaymentMethod = "MOBILE_MONEY"
	MethodCard        PaymentMethod = "CARD"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodMobileMoney, MethodCard:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
)

// Terminal reports whether no further payment transition is permitted.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	Status          Status          `json:"status"`
	CustomerName    string          `json:"customerName"`
	CustomerEmail   *string         `json:"customerEmail"`
	CustomerPhone   string          `json:"customerPhone"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DeliveryFee     decimal.Decimal `json:"deliveryFee"`
	Total           decimal.Decimal `json:"total"`
	IsDelivery      bool            `json:"isDelivery"`
	DeliveryAddress *string         `json:"deliveryAddress"`
	DeliveryTime    *time.Time      `json:"deliveryTime"`
	Notes           *string         `json:"notes"`
	AdminNotes      *string         `json:"adminNotes"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CompletedAt     *time.Time      `json:"completedAt"`
	CancelledAt     *time.Time      `json:"cancelledAt"`
	Items           []OrderItem     `json:"items"`
	Payment         *Payment        `json:"payment"`
}

// OrderItem is a snapshot of the product at purchase time. Immutable after
// order creation; ProductID is a weak reference that survives product removal.
type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Payment struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	Method         PaymentMethod   `json:"method"`
	Status         PaymentStatus   `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	PhoneNumber    *string         `json:"phoneNumber"`
	Operator       *string         `json:"operator"`
	TransactionID  *string         `json:"transactionId"`
	TransactionRef *string         `json:"transactionRef"`
	FailureReason  *string         `json:"failureReason"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CompletedAt    *time.Time      `json:"completedAt"`
}

// clone returns a deep copy so pure transition functions never alias
// caller-owned slices or pointers.
func (o Order) clone() Order {
	c := o
	c.Items = make([]OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	c.CustomerEmail = clonePtr(o.CustomerEmail)
	c.DeliveryAddress = clonePtr(o.DeliveryAddress)
	c.DeliveryTime = clonePtr(o.DeliveryTime)
	c.Notes = clonePtr(o.Notes)
	c.AdminNotes = clonePtr(o.AdminNotes)
	c.CompletedAt = clonePtr(o.CompletedAt)
	c.CancelledAt = clonePtr(o.CancelledAt)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
