package inventory

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a missing position.
	ErrNotFound = errors.New("inventory: position not found")
	// ErrInsufficientStock is matched by every *InsufficientStockError.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates a non positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrInvalidPolicy indicates an unknown costing policy.
	ErrInvalidPolicy = errors.New("inventory: unknown costing policy")
	// ErrOwnerProductRequired is returned when a key is incomplete.
	ErrOwnerProductRequired = errors.New("inventory: owner and product required")
	// ErrBatchDrift is returned when FIFO lots no longer sum to on-hand quantity.
	ErrBatchDrift = errors.New("inventory: fifo batches diverge from on-hand quantity")
	// ErrInsufficientAllocation is returned when deallocating more than allocated.
	ErrInsufficientAllocation = errors.New("inventory: deallocation exceeds allocated quantity")
)

// Shortage describes one line that cannot be served.
type Shortage struct {
	OwnerID     string  `json:"owner_id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name,omitempty"`
	Needed      float64 `json:"needed"`
	Available   float64 `json:"available"`
}

// Missing returns the numeric shortfall.
func (s Shortage) Missing() float64 {
	return s.Needed - s.Available
}

// InsufficientStockError enumerates every short line of a request.
type InsufficientStockError struct {
	Lines []Shortage
}

// NewInsufficientStock builds the error from shortages.
func NewInsufficientStock(lines ...Shortage) *InsufficientStockError {
	return &InsufficientStockError{Lines: lines}
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		name := l.ProductID
		if l.ProductName != "" {
			name = fmt.Sprintf("%s (%s)", l.ProductName, l.ProductID)
		}
		parts = append(parts, fmt.Sprintf("owner %s product %s needs %.2f, available %.2f, short %.2f",
			l.OwnerID, name, l.Needed, l.Available, l.Missing()))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock.Error(), strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrInsufficientStock) hold.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// AsInsufficientStock extracts the shortage detail when present.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
