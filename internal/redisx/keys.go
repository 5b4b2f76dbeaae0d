package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent order placement: idem:order:create:{customer_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cached order view: order:{order_id} -> JSON body of GET /orders/{id}
	KeyOrder = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func IdemOrderCreate(customerID, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, customerID, key)
}

func Order(orderID string) string { return fmt.Sprintf(KeyOrder, orderID) }

func Dedup(service, eventID string) string { return fmt.Sprintf(KeyDedup, service, eventID) }
