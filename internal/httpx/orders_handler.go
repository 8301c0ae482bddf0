package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fournildore/boulangerie-api/internal/orders"
	"github.com/fournildore/boulangerie-api/internal/redisx"
)

type OrdersHandler struct {
	Service *orders.Service
	Redis   *redis.Client
	Limiter redisx.Limiter
	Log     *zap.Logger
}

// Register mounts the storefront order routes.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/verify", h.verifyOrder)
}

// RegisterAdmin mounts the back-office order routes; the caller wraps them
// in the admin auth middleware.
func (h *OrdersHandler) RegisterAdmin(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Get("/orders/stats", h.orderStats)
	r.Patch("/orders/{id}/status", h.updateStatus)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid json body", nil)
		return
	}
	o, err := h.Service.Create(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cacheOrder(r, o)
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, id)
		if s, err := h.Redis.Get(r.Context(), key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(s))
			return
		}
	}

	o, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cacheOrder(r, o)
	writeJSON(w, http.StatusOK, o)
}

type verifyOrderReq struct {
	CustomerPhone string `json:"customerPhone"`
	OrderNumber   string `json:"orderNumber"`
}

// verifyOrder is the customer order lookup. It is rate limited per client IP
// to slow down order number guessing.
func (h *OrdersHandler) verifyOrder(w http.ResponseWriter, r *http.Request) {
	if h.Limiter != nil {
		ok, err := h.Limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			h.Log.Warn("rate limiter unavailable", zap.Error(err))
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts, try again later", nil)
			return
		}
	}

	var req verifyOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid json body", nil)
		return
	}
	if req.CustomerPhone == "" || req.OrderNumber == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "customerPhone and orderNumber are required", nil)
		return
	}
	o, err := h.Service.VerifyByPhone(r.Context(), req.CustomerPhone, req.OrderNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type listOrdersResp struct {
	Orders []orders.Order `json:"orders"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{
		CustomerPhone: q.Get("phone"),
		Page:          atoiDefault(q.Get("page"), 1),
		Limit:         atoiDefault(q.Get("limit"), 20),
	}
	if s := q.Get("status"); s != "" {
		status := orders.Status(s)
		f.Status = &status
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			f.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			f.To = &t
		}
	}

	list, total, err := h.Service.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResp{Orders: list, Total: total, Page: f.Page, Limit: f.Limit})
}

func (h *OrdersHandler) orderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type updateStatusReq struct {
	Status     orders.Status `json:"status"`
	AdminNotes *string       `json:"adminNotes"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid json body", nil)
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "VALIDATION", "unknown status", nil)
		return
	}
	o, err := h.Service.Transition(r.Context(), id, req.Status, req.AdminNotes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cacheOrder(r, o)
	writeJSON(w, http.StatusOK, o)
}

// cacheOrder refreshes the read cache for GET /orders/{id}. Best effort.
func (h *OrdersHandler) cacheOrder(r *http.Request, o orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = h.Redis.Set(r.Context(), key, b, redisx.TTLStatusCache).Err()
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
