package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and ledger sweeps.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	outcomes   *prometheus.CounterVec
	candidates prometheus.Gauge
	lastSweep  prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SweepOutcomes carries the per-outcome product counts of one sweep.
type SweepOutcomes struct {
	Candidates int
	Updated    int
	Skipped    int
	Partial    int
	Failed     int
	FinishedAt time.Time
}

// ObserveSweep records product outcomes of a completed sweep.
func (m *Metrics) ObserveSweep(o SweepOutcomes) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues("updated").Add(float64(o.Updated))
	m.outcomes.WithLabelValues("skipped").Add(float64(o.Skipped))
	m.outcomes.WithLabelValues("partial").Add(float64(o.Partial))
	m.outcomes.WithLabelValues("failed").Add(float64(o.Failed))
	m.candidates.Set(float64(o.Candidates))
	if !o.FinishedAt.IsZero() {
		m.lastSweep.Set(float64(o.FinishedAt.Unix()))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockrecon_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockrecon_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockrecon_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockrecon_sweep_products_total",
		Help: "Products processed by reconciliation sweeps grouped by outcome.",
	}, []string{"outcome"})
	candidates := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockrecon_sweep_candidates",
		Help: "Candidate products in the most recent sweep.",
	})
	lastSweep := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockrecon_sweep_last_completed_timestamp_seconds",
		Help: "Unix time the most recent sweep finished.",
	})
	registerer.MustRegister(runs, failures, duration, outcomes, candidates, lastSweep)
	return &Metrics{runs: runs, failures: failures, duration: duration, outcomes: outcomes, candidates: candidates, lastSweep: lastSweep}
}
