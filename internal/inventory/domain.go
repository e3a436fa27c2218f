package inventory

import (
	"math"
	"time"
)

// CostingPolicy selects how a position values its stock.
type CostingPolicy string

const (
	// PolicyWeightedAverage blends every receipt into a single unit cost.
	PolicyWeightedAverage CostingPolicy = "WEIGHTED_AVERAGE"
	// PolicyFIFO keeps cost lots and consumes them oldest first.
	PolicyFIFO CostingPolicy = "FIFO"
)

// IsValid reports whether the policy is supported.
func (p CostingPolicy) IsValid() bool {
	switch p {
	case PolicyWeightedAverage, PolicyFIFO:
		return true
	default:
		return false
	}
}

// UsesBatches reports whether the policy is backed by cost lots.
func (p CostingPolicy) UsesBatches() bool {
	return p == PolicyFIFO
}

// StockStatus is derived from available quantity and reorder level.
type StockStatus string

const (
	StatusInStock    StockStatus = "IN_STOCK"
	StatusLowStock   StockStatus = "LOW_STOCK"
	StatusOutOfStock StockStatus = "OUT_OF_STOCK"
)

// DeriveStatus computes the stock status for an available quantity.
func DeriveStatus(available, reorderLevel float64) StockStatus {
	switch {
	case available <= 0:
		return StatusOutOfStock
	case available <= reorderLevel:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// Direction of a movement relative to the position.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// MovementKind names the business event behind a movement.
type MovementKind string

const (
	KindReceipt    MovementKind = "RECEIPT"
	KindSale       MovementKind = "SALE"
	KindSaleReturn MovementKind = "SALE_RETURN"
	KindTransfer   MovementKind = "TRANSFER"
	KindLoan       MovementKind = "LOAN"
	KindLoanReturn MovementKind = "LOAN_RETURN"
	KindConversion MovementKind = "CONVERSION"
	KindAdjustment MovementKind = "ADJUSTMENT"
)

// Position is the stock record of one product held by one owner.
type Position struct {
	OwnerID      string        `json:"owner_id"`
	ProductID    string        `json:"product_id"`
	QtyOnHand    float64       `json:"qty_on_hand"`
	QtyAvailable float64       `json:"qty_available"`
	QtyAllocated float64       `json:"qty_allocated"`
	QtyBorrowed  float64       `json:"qty_borrowed"`
	QtyLent      float64       `json:"qty_lent"`
	UnitCost     float64       `json:"unit_cost"`
	MarketValue  float64       `json:"market_value"`
	Policy       CostingPolicy `json:"costing_policy"`
	ReorderLevel float64       `json:"reorder_level"`
	Status       StockStatus   `json:"status"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// refresh recomputes the derived fields after a quantity change.
func (p *Position) refresh() {
	if math.Abs(p.QtyOnHand) < qtyEpsilon {
		p.QtyOnHand = 0
	}
	if math.Abs(p.QtyAllocated) < qtyEpsilon {
		p.QtyAllocated = 0
	}
	p.QtyAvailable = p.QtyOnHand - p.QtyAllocated
	if math.Abs(p.QtyAvailable) < qtyEpsilon {
		p.QtyAvailable = 0
	}
	p.MarketValue = p.QtyOnHand * p.UnitCost
	if p.QtyOnHand == 0 {
		p.MarketValue = 0
	}
	p.Status = DeriveStatus(p.QtyAvailable, p.ReorderLevel)
}

// Batch is a FIFO cost lot. Exhausted lots are kept for audit.
type Batch struct {
	ID              int64     `json:"id"`
	OwnerID         string    `json:"owner_id"`
	ProductID       string    `json:"product_id"`
	Qty             float64   `json:"qty"`
	UnitCost        float64   `json:"unit_cost"`
	OriginReference string    `json:"origin_reference"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Movement is an immutable log entry of one on-hand change.
type Movement struct {
	ID        int64        `json:"id"`
	OwnerID   string       `json:"owner_id"`
	ProductID string       `json:"product_id"`
	Direction Direction    `json:"direction"`
	Kind      MovementKind `json:"kind"`
	Qty       float64      `json:"qty"`
	UnitCost  float64      `json:"unit_cost"`
	Reference string       `json:"reference"`
	PostedAt  time.Time    `json:"posted_at"`
}

// CreditInput adds stock to a position.
type CreditInput struct {
	OwnerID   string
	ProductID string
	Qty       float64
	UnitCost  float64
	// Policy applies only when the position is created by this credit.
	Policy    CostingPolicy
	Reference string
	Kind      MovementKind
	ActorID   int64
}

// DebitInput removes stock from a position.
type DebitInput struct {
	OwnerID   string
	ProductID string
	Qty       float64
	Reference string
	Kind      MovementKind
	ActorID   int64
}

// DebitResult reports what a debit actually consumed.
type DebitResult struct {
	Position Position
	Deducted float64
	CostUsed float64
}

// UnitCost returns the blended cost of the consumed quantity.
func (r DebitResult) UnitCost() float64 {
	if r.Deducted <= 0 {
		return 0
	}
	return r.CostUsed / r.Deducted
}

// AdjustInput is a signed correction.
type AdjustInput struct {
	OwnerID   string
	ProductID string
	Delta     float64
	UnitCost  float64
	Reference string
	ActorID   int64
}

// ReservationInput moves quantity between available and allocated.
type ReservationInput struct {
	OwnerID   string
	ProductID string
	Qty       float64
	Reference string
	ActorID   int64
}

// LoanInput adjusts the lent/borrowed counters of two owners.
type LoanInput struct {
	LenderID   string
	BorrowerID string
	ProductID  string
	Qty        float64
	Reference  string
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	OwnerID   string
	ProductID string
	Reference string
	Limit     int
}

const qtyEpsilon = 0.0001
