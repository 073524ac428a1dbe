package redisx

import (
	"fmt"
	"time"
)

const (
	// Cart per customer: cart:{customer_id} -> JSON cart
	KeyCart = "cart:%s"

	// Idempotency checkout: idem:checkout:{customer_id}:{idempotency_key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Checkout lock per customer: lock:checkout:{customer_id} -> owner token
	KeyCheckoutLock = "lock:checkout:%s"

	// Cache status order: order_status:{order_id} -> hash {doc: JSON status view, version: n}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLCart         = 7 * 24 * time.Hour
	TTLIdempotency  = 24 * time.Hour
	TTLCheckoutLock = 15 * time.Second
	TTLStatusCache  = 5 * time.Minute
	TTLDedup        = 48 * time.Hour
)

func CartKey(customerID string) string { return fmt.Sprintf(KeyCart, customerID) }

func IdemCheckoutKey(customerID, key string) string {
	return fmt.Sprintf(KeyIdemCheckout, customerID, key)
}

func CheckoutLockKey(customerID string) string { return fmt.Sprintf(KeyCheckoutLock, customerID) }

func OrderStatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
