// Package notify fans order lifecycle events out to customers (SMS through
// Brevo) and to the event bus (Kafka). Delivery is best effort: failures are
// logged and never surface to the order flow.
package notify

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fournildore/boulangerie-api/internal/kafka"
	"github.com/fournildore/boulangerie-api/internal/orders"
)

// Topic carries the order event stream.
const Topic = "bakery.order-events"

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// Event is the envelope published to Kafka, keyed by order ID so all events
// of an order land on one partition in order.
type Event struct {
	Type       string        `json:"type"`
	OrderID    string        `json:"orderId"`
	OccurredAt time.Time     `json:"occurredAt"`
	From       orders.Status `json:"from,omitempty"`
	Order      orders.Order  `json:"order"`
}

// Publisher is the subset of the Kafka producer the dispatcher needs.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Dispatcher implements orders.Notifier.
type Dispatcher struct {
	producer Publisher
	sms      *SMSClient
	log      *zap.Logger
}

var _ orders.Notifier = (*Dispatcher)(nil)

func NewDispatcher(producer Publisher, sms *SMSClient, log *zap.Logger) *Dispatcher {
	return &Dispatcher{producer: producer, sms: sms, log: log}
}

func (d *Dispatcher) OrderCreated(ctx context.Context, o orders.Order) {
	d.publish(Event{
		Type:       EventOrderCreated,
		OrderID:    o.ID,
		OccurredAt: time.Now().UTC(),
		Order:      o,
	})
	d.sendSMS(ctx, o.CustomerPhone, smsOrderCreated(o))
}

func (d *Dispatcher) OrderStatusChanged(ctx context.Context, o orders.Order, from orders.Status) {
	d.publish(Event{
		Type:       EventOrderStatusChanged,
		OrderID:    o.ID,
		OccurredAt: time.Now().UTC(),
		From:       from,
		Order:      o,
	})
	if msg := smsStatusChanged(o); msg != "" {
		d.sendSMS(ctx, o.CustomerPhone, msg)
	}
}

func (d *Dispatcher) publish(ev Event) {
	if d.producer == nil {
		return
	}
	d.producer.Publish([]byte(ev.OrderID), kafka.MustMarshal(ev))
}

func (d *Dispatcher) sendSMS(ctx context.Context, phone, message string) {
	if d.sms == nil || phone == "" {
		return
	}
	if err := d.sms.Send(ctx, phone, message); err != nil {
		d.log.Warn("sms delivery failed", zap.String("phone", phone), zap.Error(err))
	}
}

func smsOrderCreated(o orders.Order) string {
	return "Fournil Doré: commande " + o.OrderNumber + " reçue, total " + o.Total.StringFixed(0) + " FCFA. Merci !"
}

func smsStatusChanged(o orders.Order) string {
	switch o.Status {
	case orders.StatusConfirmed:
		return "Fournil Doré: commande " + o.OrderNumber + " confirmée."
	case orders.StatusReady:
		if o.IsDelivery {
			return "Fournil Doré: commande " + o.OrderNumber + " en cours de livraison."
		}
		return "Fournil Doré: commande " + o.OrderNumber + " prête, à retirer en boutique."
	case orders.StatusCancelled:
		return "Fournil Doré: commande " + o.OrderNumber + " annulée."
	default:
		return ""
	}
}
