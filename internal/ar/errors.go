package ar

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates a missing receivable or receipt.
	ErrNotFound = errors.New("ar: not found")
	// ErrReceivableExists is returned when a delivery already has a receivable.
	ErrReceivableExists = errors.New("ar: receivable already exists for delivery")
	// ErrInvalidAmount indicates a non positive amount.
	ErrInvalidAmount = errors.New("ar: amount must be positive")
	// ErrOverAllocation is matched by every *OverAllocationError.
	ErrOverAllocation = errors.New("ar: payment exceeds outstanding receivables")
	// ErrInvalidReceivable indicates an incomplete receivable request.
	ErrInvalidReceivable = errors.New("ar: delivery, customer and seller required")
	// ErrInvalidReceipt indicates an incomplete or inconsistent receipt request.
	ErrInvalidReceipt = errors.New("ar: invalid receipt")
	// ErrCustomerMismatch is returned when a receipt selects another customer's receivable.
	ErrCustomerMismatch = errors.New("ar: receivable belongs to another customer")
)

// OverAllocationError reports how far a payment exceeds the selected receivables.
type OverAllocationError struct {
	Amount      decimal.Decimal
	Outstanding decimal.Decimal
}

// Excess returns the unallocatable part of the payment.
func (e *OverAllocationError) Excess() decimal.Decimal {
	return e.Amount.Sub(e.Outstanding)
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("%s: payment %s, outstanding %s, excess %s",
		ErrOverAllocation.Error(), e.Amount.StringFixed(moneyPlaces), e.Outstanding.StringFixed(moneyPlaces), e.Excess().StringFixed(moneyPlaces))
}

// Is makes errors.Is(err, ErrOverAllocation) hold.
func (e *OverAllocationError) Is(target error) bool {
	return target == ErrOverAllocation
}
