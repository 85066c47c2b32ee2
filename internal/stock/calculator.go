package stock

// LineIssue records an order line excluded from the calculation.
type LineIssue struct {
	Line OrderLine
	Err  error
}

// Reservations is the expected reserved quantity per product.
type Reservations struct {
	Expected map[string]int64
	Skipped  []LineIssue
}

// Get returns the expected reservation for a product, zero when absent.
func (r Reservations) Get(productID string) int64 {
	return r.Expected[productID]
}

// ExpectedReservations sums line quantities of reserving orders per product.
// Lines of non-reserving or unknown orders contribute nothing; invalid lines
// are reported in Skipped.
func ExpectedReservations(orders []Order, lines []OrderLine) Reservations {
	reserving := make(map[string]bool, len(orders))
	for _, order := range orders {
		if order.Status.IsReserving() {
			reserving[order.ID] = true
		}
	}
	result := Reservations{Expected: make(map[string]int64)}
	for _, line := range lines {
		if !reserving[line.OrderID] {
			continue
		}
		if err := line.Validate(); err != nil {
			result.Skipped = append(result.Skipped, LineIssue{Line: line, Err: err})
			continue
		}
		result.Expected[line.ProductID] += line.Quantity
	}
	return result
}

// validLines filters lines a transition may apply, returning the rejects.
func validLines(lines []OrderLine) ([]OrderLine, []LineIssue) {
	valid := make([]OrderLine, 0, len(lines))
	var issues []LineIssue
	for _, line := range lines {
		if err := line.Validate(); err != nil {
			issues = append(issues, LineIssue{Line: line, Err: err})
			continue
		}
		valid = append(valid, line)
	}
	return valid, issues
}

// groupByProduct merges lines of one order that share a product.
func groupByProduct(lines []OrderLine) ([]string, map[string]int64) {
	totals := make(map[string]int64, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := totals[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		totals[line.ProductID] += line.Quantity
	}
	return order, totals
}
