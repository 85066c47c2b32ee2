package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockrecon/internal/jobs"
	"github.com/odyssey-erp/stockrecon/internal/stock"
)

// Reconciler runs reconciliation sweeps.
type Reconciler interface {
	ReconcileAll(ctx context.Context, productIDs []string) (stock.Report, error)
}

// StockReconcileJob runs the periodic or on-demand sweep.
type StockReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewStockReconcileJob constructs the job handler.
func NewStockReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockReconcileJob {
	return &StockReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep. Systemic failures are retried; per-product
// failures are left for the next scheduled run.
func (j *StockReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("stock reconcile: dependencies not configured")
	}
	var payload StockReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskStockReconcile)
	report, err := j.Reconciler.ReconcileAll(ctx, payload.ProductIDs)
	if err != nil {
		j.log().Error("stock sweep aborted", slog.String("run_id", report.RunID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().ObserveSweep(jobmetrics.SweepOutcomes{
		Candidates: report.Candidates,
		Updated:    report.Updated,
		Skipped:    report.Skipped,
		Partial:    report.Partial,
		Failed:     report.Failed,
		FinishedAt: report.FinishedAt,
	})
	attrs := []any{
		slog.String("run_id", report.RunID),
		slog.Int("candidates", report.Candidates),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("partial", report.Partial),
		slog.Int("failed", report.Failed),
	}
	if report.Failed > 0 || report.Cancelled {
		j.log().Warn("stock sweep finished with failures", append(attrs, slog.Bool("cancelled", report.Cancelled))...)
	} else {
		j.log().Info("stock sweep finished", attrs...)
	}
	return tracker.End(nil)
}

func (j *StockReconcileJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *StockReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
