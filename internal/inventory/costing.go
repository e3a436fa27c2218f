package inventory

// CostingStrategy applies one costing policy to a position. It is chosen once
// per position from its stored policy.
type CostingStrategy interface {
	Policy() CostingPolicy
	// Credit updates quantities and cost. It returns true when the caller must
	// persist a new lot for the credited quantity.
	Credit(pos *Position, qty, unitCost float64) bool
	// Available is the quantity a debit may consume.
	Available(pos Position, batches []Batch) float64
	// Debit consumes qty and returns the lots it touched.
	Debit(pos *Position, batches []Batch, qty float64) ([]Batch, FIFOResult)
}

// StrategyFor returns the strategy for a policy.
func StrategyFor(policy CostingPolicy) (CostingStrategy, error) {
	switch policy {
	case PolicyWeightedAverage:
		return weightedAverage{}, nil
	case PolicyFIFO:
		return fifoCosting{}, nil
	default:
		return nil, ErrInvalidPolicy
	}
}

type weightedAverage struct{}

func (weightedAverage) Policy() CostingPolicy { return PolicyWeightedAverage }

func (weightedAverage) Credit(pos *Position, qty, unitCost float64) bool {
	newQty := pos.QtyOnHand + qty
	if newQty > 0 {
		pos.UnitCost = (pos.QtyOnHand*pos.UnitCost + qty*unitCost) / newQty
	} else {
		pos.UnitCost = unitCost
	}
	pos.QtyOnHand = newQty
	pos.QtyAvailable += qty
	return false
}

func (weightedAverage) Available(pos Position, _ []Batch) float64 {
	return pos.QtyOnHand
}

func (weightedAverage) Debit(pos *Position, _ []Batch, qty float64) ([]Batch, FIFOResult) {
	pos.QtyOnHand -= qty
	pos.QtyAvailable -= qty
	return nil, FIFOResult{Deducted: qty, CostUsed: qty * pos.UnitCost}
}

type fifoCosting struct{}

func (fifoCosting) Policy() CostingPolicy { return PolicyFIFO }

// Credit leaves the blended cost alone; under FIFO it is advisory and only
// seeded when the position is first stocked.
func (fifoCosting) Credit(pos *Position, qty, unitCost float64) bool {
	if pos.QtyOnHand <= 0 && pos.UnitCost == 0 {
		pos.UnitCost = unitCost
	}
	pos.QtyOnHand += qty
	pos.QtyAvailable += qty
	return true
}

func (fifoCosting) Available(_ Position, batches []Batch) float64 {
	return SumBatches(batches)
}

func (fifoCosting) Debit(pos *Position, batches []Batch, qty float64) ([]Batch, FIFOResult) {
	touched, res := DeductFIFO(batches, qty)
	pos.QtyOnHand -= res.Deducted
	pos.QtyAvailable -= res.Deducted
	return touched, res
}
