package inventory

import (
	"math"
	"sort"
)

// FIFOResult is the outcome of a lot walk.
type FIFOResult struct {
	Deducted float64
	CostUsed float64
}

// DeductFIFO consumes up to qty from batches oldest first. It never fails on
// shortfall; callers compare Deducted against qty. The returned slice holds the
// batches whose quantity changed, in consumption order.
func DeductFIFO(batches []Batch, qty float64) ([]Batch, FIFOResult) {
	ordered := make([]Batch, len(batches))
	copy(ordered, batches)
	sortOldestFirst(ordered)

	var res FIFOResult
	var touched []Batch
	need := qty
	for _, b := range ordered {
		if need <= qtyEpsilon {
			break
		}
		if b.Qty <= 0 {
			continue
		}
		take := math.Min(need, b.Qty)
		b.Qty -= take
		if b.Qty < qtyEpsilon {
			b.Qty = 0
		}
		need -= take
		res.Deducted += take
		res.CostUsed += take * b.UnitCost
		touched = append(touched, b)
	}
	return touched, res
}

// SumBatches totals the remaining quantity of the lots.
func SumBatches(batches []Batch) float64 {
	var total float64
	for _, b := range batches {
		total += b.Qty
	}
	return total
}

func sortOldestFirst(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].ReceivedAt.Equal(batches[j].ReceivedAt) {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].ReceivedAt.Before(batches[j].ReceivedAt)
	})
}

func mergeBatches(all, touched []Batch) []Batch {
	if len(touched) == 0 {
		return all
	}
	byID := make(map[int64]Batch, len(touched))
	for _, b := range touched {
		byID[b.ID] = b
	}
	merged := make([]Batch, len(all))
	for i, b := range all {
		if updated, ok := byID[b.ID]; ok {
			merged[i] = updated
			continue
		}
		merged[i] = b
	}
	return merged
}
