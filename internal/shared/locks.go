package shared

import "fmt"

// StockLockKey builds redis keys for per-product ledger critical sections.
func StockLockKey(productID string) string {
	return fmt.Sprintf("stock:product:%s:lock", productID)
}

// StockTransitionKey builds idempotency keys for order transition events.
func StockTransitionKey(eventID string) string {
	return fmt.Sprintf("stock:transition:%s", eventID)
}
