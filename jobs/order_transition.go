package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockrecon/internal/jobs"
	"github.com/odyssey-erp/stockrecon/internal/stock"
)

// TransitionApplier applies order transitions to the ledger.
type TransitionApplier interface {
	OnOrderStatusChanged(ctx context.Context, t stock.Transition) (stock.AdjustmentResult, error)
}

// OrderTransitionJob consumes transitions published by the order lifecycle.
type OrderTransitionJob struct {
	Applier TransitionApplier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewOrderTransitionJob constructs the job handler.
func NewOrderTransitionJob(applier TransitionApplier, logger *slog.Logger, metrics *jobmetrics.Metrics) *OrderTransitionJob {
	return &OrderTransitionJob{Applier: applier, Logger: logger, Metrics: metrics}
}

// Handle applies one transition. It is retried only when nothing was written,
// so a retry cannot apply the effect twice.
func (j *OrderTransitionJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Applier == nil {
		return errors.New("order transition: dependencies not configured")
	}
	var payload OrderTransitionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStockOrderTransition)
	result, err := j.Applier.OnOrderStatusChanged(ctx, payload.Transition())
	if err != nil {
		j.log().Error("order transition rejected", slog.String("order_id", payload.OrderID), slog.Any("error", err))
		if errors.Is(err, stock.ErrUnknownStatus) || errors.Is(err, stock.ErrOrderIDRequired) {
			return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
		}
		return tracker.End(err)
	}
	if result.Duplicate {
		j.log().Info("order transition already applied", slog.String("event_id", payload.EventID), slog.String("order_id", payload.OrderID))
		return tracker.End(nil)
	}
	if result.Failed > 0 {
		if result.Writes() == 0 {
			return tracker.End(fmt.Errorf("order transition %s: %w", payload.OrderID, result.Err()))
		}
		j.log().Warn("order transition partially applied, sweep will repair",
			slog.String("order_id", payload.OrderID),
			slog.Int("failed", result.Failed),
			slog.Any("error", result.Err()),
		)
	}
	return tracker.End(nil)
}

func (j *OrderTransitionJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *OrderTransitionJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
