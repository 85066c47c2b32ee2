package stock

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Outcome classifies the per-product result of a ledger operation.
type Outcome string

const (
	// OutcomeUpdated means the row was written.
	OutcomeUpdated Outcome = "updated"
	// OutcomeSkipped means the row already matched.
	OutcomeSkipped Outcome = "skipped"
	// OutcomePartial means current_quantity is unknown so display was left untouched.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means the update errored.
	OutcomeFailed Outcome = "failed"
)

// ProductResult is the outcome for a single product.
type ProductResult struct {
	ProductID string       `json:"product_id"`
	Outcome   Outcome      `json:"outcome"`
	Before    *LedgerEntry `json:"before,omitempty"`
	After     *LedgerEntry `json:"after,omitempty"`
	Error     string       `json:"error,omitempty"`
	Err       error        `json:"-"`
}

// Failure details a failed product.
type Failure struct {
	ProductID string `json:"product_id"`
	Error     string `json:"error"`
}

// Tally aggregates per-product results.
type Tally struct {
	Updated  int             `json:"updated"`
	Skipped  int             `json:"skipped"`
	Partial  int             `json:"partial"`
	Failed   int             `json:"failed"`
	Failures []Failure       `json:"failures,omitempty"`
	Results  []ProductResult `json:"results"`
}

func (t *Tally) add(res ProductResult) {
	switch res.Outcome {
	case OutcomeUpdated:
		t.Updated++
	case OutcomeSkipped:
		t.Skipped++
	case OutcomePartial:
		t.Partial++
	case OutcomeFailed:
		t.Failed++
		if res.Err != nil && res.Error == "" {
			res.Error = res.Err.Error()
		}
		t.Failures = append(t.Failures, Failure{ProductID: res.ProductID, Error: res.Error})
	}
	t.Results = append(t.Results, res)
}

func (t *Tally) sort() {
	sort.Slice(t.Results, func(i, j int) bool { return t.Results[i].ProductID < t.Results[j].ProductID })
	sort.Slice(t.Failures, func(i, j int) bool { return t.Failures[i].ProductID < t.Failures[j].ProductID })
}

// Writes returns how many rows were written.
func (t Tally) Writes() int {
	n := t.Updated
	for _, res := range t.Results {
		if res.Outcome == OutcomePartial && res.After != nil {
			n++
		}
	}
	return n
}

// Err joins every per-product failure, nil when none failed.
func (t Tally) Err() error {
	var errs []error
	for _, res := range t.Results {
		if res.Outcome != OutcomeFailed {
			continue
		}
		err := res.Err
		if err == nil {
			err = errors.New(res.Error)
		}
		errs = append(errs, fmt.Errorf("%s: %w", res.ProductID, err))
	}
	return errors.Join(errs...)
}

// Report is the aggregated result of a reconciliation sweep.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Scope      []string  `json:"scope,omitempty"`
	Candidates int       `json:"candidates"`
	Cancelled  bool      `json:"cancelled"`
	// Unreached lists candidates a cancelled sweep never wrote or decided.
	Unreached  []string  `json:"unreached,omitempty"`
	Error      string    `json:"error,omitempty"`
	Tally
}

// AdjustmentResult is the outcome of applying one order transition.
type AdjustmentResult struct {
	OrderID      string      `json:"order_id"`
	OldStatus    OrderStatus `json:"old_status"`
	NewStatus    OrderStatus `json:"new_status"`
	Effect       Effect      `json:"effect"`
	Duplicate    bool        `json:"duplicate"`
	InvalidLines int         `json:"invalid_lines"`
	Tally
}

// Counts is the outcome summary without per-product detail.
type Counts struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Partial int `json:"partial"`
	Failed  int `json:"failed"`
}

// Counts summarises the tally.
func (t Tally) Counts() Counts {
	return Counts{Updated: t.Updated, Skipped: t.Skipped, Partial: t.Partial, Failed: t.Failed}
}
