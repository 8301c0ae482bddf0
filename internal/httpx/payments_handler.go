package httpx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fournildore/boulangerie-api/internal/payments"
	"github.com/fournildore/boulangerie-api/internal/redisx"
)

type PaymentsHandler struct {
	Service *payments.Service
	Redis   *redis.Client
	Log     *zap.Logger
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments/init", h.initPayment)
	r.Get("/payments/verify/{transactionID}", h.verifyPayment)
	r.Post("/payments/webhook/{provider}", h.webhook)
}

type initPaymentReq struct {
	OrderID string `json:"orderId"`
}

func (h *PaymentsHandler) initPayment(w http.ResponseWriter, r *http.Request) {
	var req initPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid json body", nil)
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "orderId is required", nil)
		return
	}
	resp, err := h.Service.Init(r.Context(), req.OrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PaymentsHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Verify(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.invalidateOrderCache(r, o.ID)
	writeJSON(w, http.StatusOK, o)
}

// webhook receives asynchronous provider notifications. Signature material
// differs per provider: Flutterwave sends verif-hash, Stripe sends
// Stripe-Signature, PayDunya embeds the hash in the payload.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "could not read body", nil)
		return
	}
	signature := r.Header.Get("verif-hash")
	if signature == "" {
		signature = r.Header.Get("Stripe-Signature")
	}

	// Fast-path dedup of provider retries; the store's terminal-payment
	// guard remains the source of truth.
	var dedupKey string
	if h.Redis != nil {
		sum := sha256.Sum256(payload)
		dedupKey = fmt.Sprintf(redisx.KeyWebhookDedup, provider+":"+hex.EncodeToString(sum[:]))
		if n, err := h.Redis.Exists(r.Context(), dedupKey).Result(); err == nil && n > 0 {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	o, err := h.Service.HandleWebhook(r.Context(), provider, payload, signature)
	if err != nil {
		h.Log.Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
		writeDomainError(w, err)
		return
	}
	if dedupKey != "" {
		// Marked only after successful handling; a crash mid-way leaves the
		// key unset so the provider's retry still reaches the service.
		_ = h.Redis.Set(r.Context(), dedupKey, 1, redisx.TTLWebhookDedup).Err()
	}
	if o != nil {
		h.invalidateOrderCache(r, o.ID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// invalidateOrderCache drops the GET /orders/{id} read cache after payment
// reconciliation changed the order. Best effort.
func (h *PaymentsHandler) invalidateOrderCache(r *http.Request, orderID string) {
	if h.Redis == nil {
		return
	}
	_ = h.Redis.Del(r.Context(), fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Err()
}
