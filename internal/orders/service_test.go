package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fournildore/boulangerie-api/internal/catalog"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []Order
	changed []Status
}

func (n *recordingNotifier) OrderCreated(_ context.Context, o Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, o)
}

func (n *recordingNotifier) OrderStatusChanged(_ context.Context, _ Order, from Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, from)
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.created), len(n.changed)
}

func newTestService(t *testing.T) (*Service, *MemStore, *recordingNotifier) {
	t.Helper()
	store := NewMemStore()
	store.SeedProduct(catalog.Product{
		ID: "prod-baguette", Name: "Baguette tradition",
		Price: decimal.NewFromInt(300), IsAvailable: true, Status: catalog.StatusAvailable,
	})
	store.SeedProduct(catalog.Product{
		ID: "prod-croissant", Name: "Croissant au beurre",
		Price: decimal.NewFromInt(500), IsAvailable: true, Status: catalog.StatusAvailable, Stock: intPtr(12),
	})
	store.SeedProduct(catalog.Product{
		ID: "prod-millefeuille", Name: "Mille-feuille",
		Price: decimal.NewFromInt(1500), IsAvailable: true, Status: catalog.StatusAvailable, Stock: intPtr(4),
	})
	store.SeedProduct(catalog.Product{
		ID: "prod-archived", Name: "Ancien gâteau",
		Price: decimal.NewFromInt(900), IsAvailable: false, Status: catalog.StatusArchived,
	})

	notifier := &recordingNotifier{}
	svc := NewService(store, notifier, zap.NewNop(), decimal.NewFromInt(2000)).
		WithClock(func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) })
	return svc, store, notifier
}

func validInput() CreateInput {
	addr := "12 rue des Manguiers, Dakar"
	return CreateInput{
		CustomerName:  "Awa Diop",
		CustomerPhone: "771234567",
		Items: []LineRequest{
			{ProductID: "prod-baguette", Quantity: 2},
			{ProductID: "prod-croissant", Quantity: 2},
			{ProductID: "prod-millefeuille", Quantity: 1},
		},
		IsDelivery:      true,
		DeliveryAddress: &addr,
		PaymentMethod:   MethodCash,
	}
}

func TestCreateOrder(t *testing.T) {
	svc, store, notifier := newTestService(t)

	o, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "ORD-20250310-001", o.OrderNumber)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, o.Subtotal.Equal(decimal.NewFromInt(3100)), "subtotal %s", o.Subtotal)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(5100)), "total %s", o.Total)
	require.NotNil(t, o.Payment)
	assert.Equal(t, PaymentPending, o.Payment.Status)
	assert.True(t, o.Payment.Amount.Equal(o.Total))

	// Stock is reserved at creation time.
	require.NotNil(t, store.ProductStock("prod-croissant"))
	assert.Equal(t, 10, *store.ProductStock("prod-croissant"))
	assert.Equal(t, 3, *store.ProductStock("prod-millefeuille"))
	assert.Nil(t, store.ProductStock("prod-baguette"))

	assert.Eventually(t, func() bool {
		created, _ := notifier.counts()
		return created == 1
	}, time.Second, 10*time.Millisecond)

	// Order numbers stay sequential within the day.
	o2, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "ORD-20250310-002", o2.OrderNumber)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]func(*CreateInput){
		"customerName":    func(in *CreateInput) { in.CustomerName = " " },
		"customerPhone":   func(in *CreateInput) { in.CustomerPhone = "" },
		"items":           func(in *CreateInput) { in.Items = nil },
		"quantity":        func(in *CreateInput) { in.Items[0].Quantity = 0 },
		"deliveryAddress": func(in *CreateInput) { in.DeliveryAddress = nil },
		"paymentMethod":   func(in *CreateInput) { in.PaymentMethod = "BITCOIN" },
		"paymentPhone": func(in *CreateInput) {
			in.PaymentMethod = MethodMobileMoney
			in.PaymentPhone = nil
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := svc.Create(ctx, in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestCreateOrderUnavailableProduct(t *testing.T) {
	svc, _, _ := newTestService(t)

	in := validInput()
	in.Items = append(in.Items, LineRequest{ProductID: "prod-archived", Quantity: 1})

	_, err := svc.Create(context.Background(), in)
	var unavailable *ProductsUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, unavailable.ProductIDs, "prod-archived")
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	svc, store, _ := newTestService(t)

	in := validInput()
	in.Items = []LineRequest{{ProductID: "prod-millefeuille", Quantity: 9}}

	_, err := svc.Create(context.Background(), in)
	var stock *InsufficientStockError
	require.ErrorAs(t, err, &stock)
	assert.Equal(t, 4, stock.Available)
	// Nothing was reserved.
	assert.Equal(t, 4, *store.ProductStock("prod-millefeuille"))
}

func TestCreateOrderDuplicateLinesShareStock(t *testing.T) {
	svc, store, _ := newTestService(t)

	// Two lines for the same product must be checked against the stock
	// together, not one by one.
	in := validInput()
	in.Items = []LineRequest{
		{ProductID: "prod-millefeuille", Quantity: 3},
		{ProductID: "prod-millefeuille", Quantity: 3},
	}

	_, err := svc.Create(context.Background(), in)
	var stock *InsufficientStockError
	require.ErrorAs(t, err, &stock)
	assert.Equal(t, 6, stock.Requested)
	assert.Equal(t, 4, stock.Available)
	assert.Equal(t, 4, *store.ProductStock("prod-millefeuille"))
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	svc, store, _ := newTestService(t)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := validInput()
			in.Items = []LineRequest{{ProductID: "prod-millefeuille", Quantity: 1}}
			_, errs[i] = svc.Create(context.Background(), in)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var stock *InsufficientStockError
		require.ErrorAs(t, err, &stock)
	}
	assert.Equal(t, 4, succeeded)
	assert.Equal(t, 0, *store.ProductStock("prod-millefeuille"))
}

func TestLifecycleToCompletion(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	o, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	for _, to := range []Status{StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted} {
		o, err = svc.Transition(ctx, o.ID, to, nil)
		require.NoError(t, err)
		assert.Equal(t, to, o.Status)
	}

	require.NotNil(t, o.CompletedAt)
	assert.Equal(t, PaymentCompleted, o.Payment.Status)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalOrders)
	assert.Equal(t, 1, stats.CompletedOrders)
	assert.True(t, stats.TotalRevenue.Equal(decimal.NewFromInt(5100)))

	assert.Eventually(t, func() bool {
		_, changed := notifier.counts()
		return changed == 4
	}, time.Second, 10*time.Millisecond)
}

func TestCancelRestocksOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	o, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, 10, *store.ProductStock("prod-croissant"))

	notes := "four en panne"
	o, err = svc.Transition(ctx, o.ID, StatusCancelled, &notes)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, PaymentFailed, o.Payment.Status)
	assert.Equal(t, 12, *store.ProductStock("prod-croissant"))
	assert.Equal(t, 4, *store.ProductStock("prod-millefeuille"))

	// A second cancellation must not restock again.
	_, err = svc.Transition(ctx, o.ID, StatusCancelled, nil)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 12, *store.ProductStock("prod-croissant"))
}

func TestVerifyByPhone(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	o, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	found, err := svc.VerifyByPhone(ctx, "771234567", o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)

	_, err = svc.VerifyByPhone(ctx, "770000000", o.OrderNumber)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.VerifyByPhone(ctx, "771234567", "ORD-20250310-999")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListOrdersFilterAndPaging(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Unlimited-stock baguettes: the six orders must not drain a finite
	// product.
	in := validInput()
	in.Items = []LineRequest{{ProductID: "prod-baguette", Quantity: 2}}

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}
	o, err := svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, o.ID, StatusConfirmed, nil)
	require.NoError(t, err)

	pending := StatusPending
	list, total, err := svc.List(ctx, ListFilter{Status: &pending, Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, list, 3)

	list, total, err = svc.List(ctx, ListFilter{Status: &pending, Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, list, 2)
}
