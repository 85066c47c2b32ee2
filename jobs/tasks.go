package jobs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockrecon/internal/jobs"
	"github.com/odyssey-erp/stockrecon/internal/stock"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries order transitions ahead of sweeps.
	QueueCritical = "critical"

	// TaskStockReconcile runs a reconciliation sweep.
	TaskStockReconcile = "stock:reconcile"
	// TaskStockOrderTransition applies one committed order status change.
	TaskStockOrderTransition = "stock:order-transition"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "stock:idempotency-cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StockReconcilePayload scopes a sweep. Empty ProductIDs means every product.
type StockReconcilePayload struct {
	ProductIDs  []string  `json:"product_ids,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewStockReconcileTask constructs a sweep task.
func NewStockReconcileTask(productIDs []string) (*asynq.Task, error) {
	body, err := json.Marshal(StockReconcilePayload{ProductIDs: productIDs, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockReconcile, body, asynq.Queue(QueueDefault)), nil
}

// OrderTransitionLine is a single order line inside a transition payload.
type OrderTransitionLine struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// OrderTransitionPayload mirrors a committed order status change.
type OrderTransitionPayload struct {
	EventID   string                `json:"event_id"`
	OrderID   string                `json:"order_id"`
	OldStatus string                `json:"old_status"`
	NewStatus string                `json:"new_status"`
	Lines     []OrderTransitionLine `json:"lines"`
}

// Transition converts the payload into the ledger's transition type.
func (p OrderTransitionPayload) Transition() stock.Transition {
	t := stock.Transition{
		EventID:   strings.TrimSpace(p.EventID),
		OrderID:   strings.TrimSpace(p.OrderID),
		OldStatus: stock.OrderStatus(strings.ToLower(strings.TrimSpace(p.OldStatus))),
		NewStatus: stock.OrderStatus(strings.ToLower(strings.TrimSpace(p.NewStatus))),
	}
	for _, line := range p.Lines {
		t.Lines = append(t.Lines, stock.OrderLine{OrderID: t.OrderID, ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity})
	}
	return t
}

// NewOrderTransitionTask constructs a transition task. The event id becomes the
// task id so duplicate enqueues are rejected by the broker as well.
func NewOrderTransitionTask(payload OrderTransitionPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueCritical), asynq.MaxRetry(10)}
	if payload.EventID != "" {
		opts = append(opts, asynq.TaskID("transition:"+payload.EventID), asynq.Retention(24*time.Hour))
	}
	return asynq.NewTask(TaskStockOrderTransition, body, opts...), nil
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
