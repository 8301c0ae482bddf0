package payments

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const stripeTestSecret = "whsec_test"

func stripeEvent(eventType, session string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","api_version":%q,"type":%q,"data":{"object":%s}}`,
		stripe.APIVersion, eventType, session))
}

func stripeSign(payload []byte) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, stripeTestSecret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func TestStripeParseWebhook(t *testing.T) {
	s := &Stripe{webhookSecret: stripeTestSecret}

	t.Run("completed session succeeds", func(t *testing.T) {
		payload := stripeEvent("checkout.session.completed", `{"id":"cs_1","payment_status":"paid","status":"complete"}`)
		res, err := s.ParseWebhook(payload, stripeSign(payload))
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, res.Status)
		assert.Equal(t, "cs_1", res.TransactionID)
		require.NotNil(t, res.CompletedAt)
	})

	t.Run("expired session fails", func(t *testing.T) {
		payload := stripeEvent("checkout.session.expired", `{"id":"cs_2","payment_status":"unpaid","status":"expired"}`)
		res, err := s.ParseWebhook(payload, stripeSign(payload))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, "checkout session expired", res.Reason)
	})

	t.Run("async payment failure is terminal", func(t *testing.T) {
		payload := stripeEvent("checkout.session.async_payment_failed", `{"id":"cs_3","payment_status":"unpaid","status":"complete"}`)
		res, err := s.ParseWebhook(payload, stripeSign(payload))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, "cs_3", res.TransactionID)
		assert.NotEmpty(t, res.Reason)
	})

	t.Run("unrelated event acknowledged as pending", func(t *testing.T) {
		payload := stripeEvent("payment_intent.created", `{"id":"pi_1"}`)
		res, err := s.ParseWebhook(payload, stripeSign(payload))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, res.Status)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		payload := stripeEvent("checkout.session.completed", `{"id":"cs_4","payment_status":"paid","status":"complete"}`)
		_, err := s.ParseWebhook(payload, "t=1,v1=deadbeef")
		assert.True(t, errors.Is(err, ErrBadSignature))
	})
}

func TestStripeAmount(t *testing.T) {
	// XOF has no minor unit: the amount goes out as-is.
	assert.Equal(t, int64(2000), stripeAmount(decimal.NewFromInt(2000), "XOF"))
	assert.Equal(t, int64(250000), stripeAmount(decimal.NewFromInt(2500), "EUR"))
}
