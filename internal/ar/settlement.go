package ar

import "github.com/shopspring/decimal"

// BuildAllocations spreads amount across selected receivables in the given
// order. The whole amount must fit within their remaining balances.
func BuildAllocations(selected []Receivable, amount decimal.Decimal) ([]Allocation, error) {
	amount = amount.Round(moneyPlaces)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	outstanding := decimal.Zero
	for _, r := range selected {
		outstanding = outstanding.Add(r.Remaining)
	}
	if amount.GreaterThan(outstanding) {
		return nil, &OverAllocationError{Amount: amount, Outstanding: outstanding}
	}

	left := amount
	out := make([]Allocation, 0, len(selected))
	for _, r := range selected {
		if !left.IsPositive() {
			break
		}
		if !r.Remaining.IsPositive() {
			continue
		}
		applied := decimal.Min(r.Remaining, left).Round(moneyPlaces)
		out = append(out, Allocation{ReceivableID: r.ID, DeliveryRef: r.DeliveryRef, Amount: applied})
		left = left.Sub(applied)
	}
	return out, nil
}

func sumAllocations(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return total
}
