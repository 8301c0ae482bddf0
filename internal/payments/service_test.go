package payments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fournildore/boulangerie-api/internal/catalog"
	"github.com/fournildore/boulangerie-api/internal/orders"
)

// fakeProvider answers with scripted results and records calls.
type fakeProvider struct {
	name      string
	initErr   error
	verifyRes VerifyResult
	verifyErr error
	initCalls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Init(_ context.Context, req InitRequest) (InitResponse, error) {
	f.initCalls++
	if f.initErr != nil {
		return InitResponse{}, f.initErr
	}
	return InitResponse{
		TransactionID:  "tx-" + req.OrderNumber,
		TransactionRef: "ref-" + req.OrderNumber,
		RedirectURL:    "https://pay.example/" + req.OrderNumber,
	}, nil
}

func (f *fakeProvider) Verify(_ context.Context, transactionID string) (VerifyResult, error) {
	if f.verifyErr != nil {
		return VerifyResult{}, f.verifyErr
	}
	res := f.verifyRes
	res.TransactionID = transactionID
	return res, nil
}

type fakeWebhook struct {
	TransactionID string `json:"transactionId"`
	Status        Status `json:"status"`
	Reason        string `json:"reason"`
}

func (f *fakeProvider) ParseWebhook(payload []byte, signature string) (VerifyResult, error) {
	if signature != "valid-signature" {
		return VerifyResult{}, ErrBadSignature
	}
	var hook fakeWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{TransactionID: hook.TransactionID, Status: hook.Status, Reason: hook.Reason}, nil
}

func webhookPayload(t *testing.T, hook fakeWebhook) []byte {
	t.Helper()
	b, err := json.Marshal(hook)
	require.NoError(t, err)
	return b
}

func setup(t *testing.T) (*Service, *orders.Service, *orders.MemStore, *fakeProvider) {
	t.Helper()
	store := orders.NewMemStore()
	store.SeedProduct(catalog.Product{
		ID: "prod-tarte", Name: "Tarte au citron",
		Price: decimal.NewFromInt(4000), IsAvailable: true, Status: catalog.StatusAvailable, Stock: stockPtr(20),
	})

	orderSvc := orders.NewService(store, nil, zap.NewNop(), decimal.NewFromInt(2000))
	provider := &fakeProvider{name: "fakepay"}
	svc := NewService(store, zap.NewNop(), ServiceConfig{
		MobileMoney: provider,
		Currency:    "XOF",
		BaseURL:     "https://boulangerie.example",
		Timeout:     time.Second,
	})
	return svc, orderSvc, store, provider
}

func stockPtr(n int) *int { return &n }

func placeOrder(t *testing.T, orderSvc *orders.Service, method orders.PaymentMethod) orders.Order {
	t.Helper()
	phone := "771112233"
	o, err := orderSvc.Create(context.Background(), orders.CreateInput{
		CustomerName:  "Moussa Ndiaye",
		CustomerPhone: "771112233",
		Items:         []orders.LineRequest{{ProductID: "prod-tarte", Quantity: 2}},
		PaymentMethod: method,
		PaymentPhone:  &phone,
	})
	require.NoError(t, err)
	return o
}

func TestInitPayment(t *testing.T) {
	svc, orderSvc, store, provider := setup(t)
	o := placeOrder(t, orderSvc, orders.MethodMobileMoney)

	resp, err := svc.Init(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.initCalls)
	assert.Equal(t, "tx-"+o.OrderNumber, resp.TransactionID)
	assert.NotEmpty(t, resp.RedirectURL)

	stored, err := store.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentProcessing, stored.Payment.Status)
	require.NotNil(t, stored.Payment.TransactionID)
	assert.Equal(t, resp.TransactionID, *stored.Payment.TransactionID)
}

func TestInitPaymentGuards(t *testing.T) {
	svc, orderSvc, _, provider := setup(t)

	t.Run("cash has no online flow", func(t *testing.T) {
		o := placeOrder(t, orderSvc, orders.MethodCash)
		_, err := svc.Init(context.Background(), o.ID)
		assert.True(t, errors.Is(err, ErrUnsupportedProvider))
	})

	t.Run("double init rejected", func(t *testing.T) {
		o := placeOrder(t, orderSvc, orders.MethodMobileMoney)
		before := provider.initCalls
		_, err := svc.Init(context.Background(), o.ID)
		require.NoError(t, err)
		_, err = svc.Init(context.Background(), o.ID)
		assert.True(t, errors.Is(err, orders.ErrPaymentInProgress))
		// The rejected attempt must never reach the provider.
		assert.Equal(t, before+1, provider.initCalls)
	})

	t.Run("definitive decline fails the payment", func(t *testing.T) {
		o := placeOrder(t, orderSvc, orders.MethodMobileMoney)
		provider.initErr = &RejectionError{Reason: "operator unsupported"}
		defer func() { provider.initErr = nil }()

		_, err := svc.Init(context.Background(), o.ID)
		var perr *orders.ProviderError
		require.ErrorAs(t, err, &perr)

		stored, err := orderSvc.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, orders.PaymentFailed, stored.Payment.Status)
		require.NotNil(t, stored.Payment.FailureReason)
		assert.Equal(t, "operator unsupported", *stored.Payment.FailureReason)
	})

	t.Run("transport failure keeps payment pending", func(t *testing.T) {
		o := placeOrder(t, orderSvc, orders.MethodMobileMoney)
		provider.initErr = errors.New("gateway down")
		defer func() { provider.initErr = nil }()

		_, err := svc.Init(context.Background(), o.ID)
		var perr *orders.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "fakepay", perr.Provider)

		stored, err := orderSvc.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, orders.PaymentPending, stored.Payment.Status)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := svc.Init(context.Background(), "no-such-order")
		assert.True(t, errors.Is(err, orders.ErrNotFound))
	})
}

func TestWebhookSuccessConfirmsOrder(t *testing.T) {
	svc, orderSvc, _, _ := setup(t)
	o := placeOrder(t, orderSvc, orders.MethodMobileMoney)
	resp, err := svc.Init(context.Background(), o.ID)
	require.NoError(t, err)

	payload := webhookPayload(t, fakeWebhook{TransactionID: resp.TransactionID, Status: StatusSucceeded})
	settled, err := svc.HandleWebhook(context.Background(), "fakepay", payload, "valid-signature")
	require.NoError(t, err)
	require.NotNil(t, settled)
	assert.Equal(t, o.ID, settled.ID)
	assert.Equal(t, orders.StatusConfirmed, settled.Status)

	stored, err := orderSvc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, stored.Status)
	assert.Equal(t, orders.PaymentCompleted, stored.Payment.Status)
	require.NotNil(t, stored.Payment.CompletedAt)
}

func TestWebhookFailureCancelsAndRestocks(t *testing.T) {
	svc, orderSvc, store, _ := setup(t)
	o := placeOrder(t, orderSvc, orders.MethodMobileMoney)
	assert.Equal(t, 18, *store.ProductStock("prod-tarte"))

	resp, err := svc.Init(context.Background(), o.ID)
	require.NoError(t, err)

	payload := webhookPayload(t, fakeWebhook{TransactionID: resp.TransactionID, Status: StatusFailed, Reason: "insufficient funds"})
	settled, err := svc.HandleWebhook(context.Background(), "fakepay", payload, "valid-signature")
	require.NoError(t, err)
	require.NotNil(t, settled)

	stored, err := orderSvc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, stored.Status)
	assert.Equal(t, orders.PaymentFailed, stored.Payment.Status)
	require.NotNil(t, stored.Payment.FailureReason)
	assert.Equal(t, "insufficient funds", *stored.Payment.FailureReason)
	require.NotNil(t, stored.AdminNotes)
	assert.Equal(t, "payment failed: insufficient funds", *stored.AdminNotes)
	assert.Equal(t, 20, *store.ProductStock("prod-tarte"))
}

func TestWebhookDuplicateIsNoOp(t *testing.T) {
	svc, orderSvc, store, _ := setup(t)
	o := placeOrder(t, orderSvc, orders.MethodMobileMoney)
	resp, err := svc.Init(context.Background(), o.ID)
	require.NoError(t, err)

	success := webhookPayload(t, fakeWebhook{TransactionID: resp.TransactionID, Status: StatusSucceeded})
	_, err = svc.HandleWebhook(context.Background(), "fakepay", success, "valid-signature")
	require.NoError(t, err)

	// A late contradictory notification must not unsettle the payment.
	failure := webhookPayload(t, fakeWebhook{TransactionID: resp.TransactionID, Status: StatusFailed, Reason: "timeout"})
	_, err = svc.HandleWebhook(context.Background(), "fakepay", failure, "valid-signature")
	require.NoError(t, err)

	stored, err := orderSvc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, stored.Status)
	assert.Equal(t, orders.PaymentCompleted, stored.Payment.Status)
	assert.Equal(t, 18, *store.ProductStock("prod-tarte"))
}

func TestWebhookUnknownTransactionAcknowledged(t *testing.T) {
	svc, _, _, _ := setup(t)

	payload := webhookPayload(t, fakeWebhook{TransactionID: "tx-unknown", Status: StatusSucceeded})
	settled, err := svc.HandleWebhook(context.Background(), "fakepay", payload, "valid-signature")
	assert.NoError(t, err)
	assert.Nil(t, settled)
}

func TestWebhookBadSignature(t *testing.T) {
	svc, _, _, _ := setup(t)

	payload := webhookPayload(t, fakeWebhook{TransactionID: "tx-1", Status: StatusSucceeded})
	_, err := svc.HandleWebhook(context.Background(), "fakepay", payload, "forged")
	assert.True(t, errors.Is(err, ErrBadSignature))
}

func TestWebhookUnknownProvider(t *testing.T) {
	svc, _, _, _ := setup(t)
	_, err := svc.HandleWebhook(context.Background(), "nopay", nil, "")
	assert.True(t, errors.Is(err, ErrUnsupportedProvider))
}

func TestVerifyAppliesTerminalResult(t *testing.T) {
	svc, orderSvc, _, provider := setup(t)
	o := placeOrder(t, orderSvc, orders.MethodMobileMoney)
	resp, err := svc.Init(context.Background(), o.ID)
	require.NoError(t, err)

	t.Run("pending result leaves order untouched", func(t *testing.T) {
		provider.verifyRes = VerifyResult{Status: StatusPending}
		got, err := svc.Verify(context.Background(), resp.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusPending, got.Status)
		assert.Equal(t, orders.PaymentProcessing, got.Payment.Status)
	})

	t.Run("succeeded result settles order", func(t *testing.T) {
		completed := time.Date(2025, 3, 10, 10, 15, 0, 0, time.UTC)
		provider.verifyRes = VerifyResult{Status: StatusSucceeded, CompletedAt: &completed}
		got, err := svc.Verify(context.Background(), resp.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusConfirmed, got.Status)
		assert.Equal(t, orders.PaymentCompleted, got.Payment.Status)
		require.NotNil(t, got.Payment.CompletedAt)
		assert.Equal(t, completed, *got.Payment.CompletedAt)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := svc.Verify(context.Background(), "tx-missing")
		assert.True(t, errors.Is(err, orders.ErrUnknownTransaction))
	})
}
