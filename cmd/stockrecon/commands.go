package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/odyssey-erp/stockrecon/internal/stock"
)

// StockOps is the service surface used by the operator commands.
type StockOps interface {
	ReconcileAll(ctx context.Context, productIDs []string) (stock.Report, error)
	GetStockStatus(ctx context.Context) ([]stock.Drift, error)
}

type reconcileOptions struct {
	products []string
	json     bool
}

func parseReconcileFlags(args []string) (reconcileOptions, error) {
	var (
		opts     reconcileOptions
		products string
	)
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.StringVar(&products, "products", "", "comma separated product ids (default: all)")
	fs.BoolVar(&opts.json, "json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.products = splitList(products)
	return opts, nil
}

func runReconcile(ctx context.Context, ops StockOps, opts reconcileOptions, out io.Writer) error {
	report, err := ops.ReconcileAll(ctx, opts.products)
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %s: candidates=%d updated=%d skipped=%d partial=%d failed=%d\n",
		report.RunID, report.Candidates, report.Updated, report.Skipped, report.Partial, report.Failed)
	if report.Cancelled {
		fmt.Fprintf(out, "sweep interrupted: %s (unreached=%d)\n", report.Error, len(report.Unreached))
	}
	for _, failure := range report.Failures {
		fmt.Fprintf(out, "  failed %s: %s\n", failure.ProductID, failure.Error)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d products failed to reconcile", report.Failed)
	}
	return nil
}

type driftOptions struct {
	json      bool
	onlyDrift bool
}

func parseDriftFlags(args []string) (driftOptions, error) {
	var opts driftOptions
	fs := flag.NewFlagSet("drift", flag.ContinueOnError)
	fs.BoolVar(&opts.json, "json", false, "print drift as JSON")
	fs.BoolVar(&opts.onlyDrift, "only-drift", false, "show only products that need a sync")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func runDrift(ctx context.Context, ops StockOps, opts driftOptions, out io.Writer) error {
	drifts, err := ops.GetStockStatus(ctx)
	if err != nil {
		return err
	}
	if opts.onlyDrift {
		filtered := make([]stock.Drift, 0, len(drifts))
		for _, d := range drifts {
			if d.NeedsSync {
				filtered = append(filtered, d)
			}
		}
		drifts = filtered
	}
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(drifts)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tCURRENT\tDISPLAY\tRESERVED\tEXPECTED\tEFFECTIVE\tDIFF\tSYNC")
	for _, d := range drifts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%d\t%s\t%t\n",
			d.ProductID, optional(d.CurrentQuantity), d.DisplayQuantity, d.ReservedQuantity,
			optional(d.ExpectedReserved), d.EffectiveDisplay, optional(d.Difference), d.NeedsSync)
	}
	return tw.Flush()
}

func optional(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
