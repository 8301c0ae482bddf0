package notify

import (
	"context"
	"encoding/json"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fournildore/boulangerie-api/internal/orders"
)

type capturePublisher struct {
	keys   []string
	values [][]byte
}

func (c *capturePublisher) Publish(key, value []byte, _ ...kafkago.Header) {
	c.keys = append(c.keys, string(key))
	c.values = append(c.values, value)
}

func TestDispatcherPublishesEvents(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(pub, nil, zap.NewNop())

	o := orders.Order{ID: "ord-1", OrderNumber: "ORD-20250310-001", Status: orders.StatusPending, CustomerPhone: "771234567"}
	d.OrderCreated(context.Background(), o)

	o.Status = orders.StatusReady
	d.OrderStatusChanged(context.Background(), o, orders.StatusPreparing)

	require.Len(t, pub.values, 2)
	assert.Equal(t, []string{"ord-1", "ord-1"}, pub.keys)

	var ev Event
	require.NoError(t, json.Unmarshal(pub.values[0], &ev))
	assert.Equal(t, EventOrderCreated, ev.Type)
	assert.Equal(t, "ord-1", ev.OrderID)

	require.NoError(t, json.Unmarshal(pub.values[1], &ev))
	assert.Equal(t, EventOrderStatusChanged, ev.Type)
	assert.Equal(t, orders.StatusPreparing, ev.From)
}

func TestDispatcherWithoutProducer(t *testing.T) {
	d := NewDispatcher(nil, nil, zap.NewNop())
	assert.NotPanics(t, func() {
		d.OrderCreated(context.Background(), orders.Order{ID: "ord-1"})
	})
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"771234567":      "+221771234567",
		"77 123 45 67":   "+221771234567",
		"+221771234567":  "+221771234567",
		"00221771234567": "+221771234567",
		"338214567":      "+221338214567",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePhone(in), "input %q", in)
	}
}

func TestStatusMessages(t *testing.T) {
	o := orders.Order{OrderNumber: "ORD-20250310-001"}

	o.Status = orders.StatusConfirmed
	assert.Contains(t, smsStatusChanged(o), "confirmée")

	o.Status = orders.StatusReady
	assert.Contains(t, smsStatusChanged(o), "retirer en boutique")
	o.IsDelivery = true
	assert.Contains(t, smsStatusChanged(o), "livraison")

	o.Status = orders.StatusPreparing
	assert.Empty(t, smsStatusChanged(o))
}
