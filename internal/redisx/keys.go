package redisx

import "time"

const (
	// Rate limit on the customer order-verification endpoint: ratelimit:verify:{client}
	KeyVerifyRate = "ratelimit:verify:%s"

	// Cached order status for public polling: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Webhook dedup fast path: dedup:webhook:{provider}:{payload sha256}
	KeyWebhookDedup = "dedup:webhook:%s"
)

var (
	TTLStatusCache  = 5 * time.Minute
	TTLWebhookDedup = 48 * time.Hour
)
