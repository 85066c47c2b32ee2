package stock

// Drift is the read-only comparison of a ledger row with the authoritative count.
type Drift struct {
	ProductID        string `json:"product_id"`
	CurrentQuantity  *int64 `json:"current_quantity"`
	DisplayQuantity  int64  `json:"display_quantity"`
	ReservedQuantity int64  `json:"reserved_quantity"`
	ExpectedReserved *int64 `json:"expected_reserved,omitempty"`
	EffectiveDisplay int64  `json:"effective_display"`
	Difference       *int64 `json:"difference,omitempty"`
	NeedsSync        bool   `json:"needs_sync"`
}

// DetectDrift computes effective display and its difference to current_quantity.
// Difference is omitted while current_quantity is unknown.
func DetectDrift(entry LedgerEntry) Drift {
	drift := Drift{
		ProductID:        entry.ProductID,
		CurrentQuantity:  entry.CurrentQuantity,
		DisplayQuantity:  entry.DisplayQuantity,
		ReservedQuantity: entry.ReservedQuantity,
		EffectiveDisplay: entry.DisplayQuantity + entry.ReservedQuantity,
	}
	if current, ok := entry.KnownCurrent(); ok {
		diff := current - drift.EffectiveDisplay
		drift.Difference = &diff
		drift.NeedsSync = diff != 0
	}
	return drift
}

// DetectDriftAgainst extends DetectDrift with the live expected reservation.
// NeedsSync is true exactly when a sweep would write this row.
func DetectDriftAgainst(entry LedgerEntry, expected int64) Drift {
	drift := DetectDrift(entry)
	drift.ExpectedReserved = Quantity(expected)
	_, write, _ := PlanReconcile(entry, expected)
	drift.NeedsSync = write
	return drift
}

// PlanReconcile computes the row a sweep should converge to. write is false at
// the fixed point; outcome is OutcomePartial whenever current_quantity is unknown.
func PlanReconcile(entry LedgerEntry, expected int64) (target LedgerEntry, write bool, outcome Outcome) {
	target = entry
	target.ReservedQuantity = clamp(expected)
	current, known := entry.KnownCurrent()
	if !known {
		return target, target.ReservedQuantity != entry.ReservedQuantity, OutcomePartial
	}
	target.DisplayQuantity = clamp(current - target.ReservedQuantity)
	if target.SameQuantities(entry) {
		return entry, false, OutcomeSkipped
	}
	return target, true, OutcomeUpdated
}
