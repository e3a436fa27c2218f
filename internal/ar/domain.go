package ar

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReceivableStatus enumerates receivable statuses.
type ReceivableStatus string

const (
	ReceivableOutstanding   ReceivableStatus = "OUTSTANDING"
	ReceivablePartiallyPaid ReceivableStatus = "PARTIALLY_PAID"
	ReceivablePaid          ReceivableStatus = "PAID"
)

// moneyPlaces is the rounding scale of every stored amount.
const moneyPlaces = 2

// Receivable is money a customer owes for one delivery.
type Receivable struct {
	ID          uuid.UUID        `json:"id"`
	DeliveryRef string           `json:"delivery_ref"`
	CustomerID  string           `json:"customer_id"`
	SellerID    string           `json:"seller_id"`
	Total       decimal.Decimal  `json:"total"`
	Paid        decimal.Decimal  `json:"paid"`
	Remaining   decimal.Decimal  `json:"remaining"`
	Status      ReceivableStatus `json:"status"`
	DueAt       time.Time        `json:"due_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// applyPayment adds amount to Paid and recomputes Remaining and Status.
// Remaining never drops below zero.
func (r *Receivable) applyPayment(amount decimal.Decimal) {
	r.Paid = r.Paid.Add(amount).Round(moneyPlaces)
	r.Remaining = decimal.Max(decimal.Zero, r.Total.Sub(r.Paid)).Round(moneyPlaces)
	switch {
	case !r.Remaining.IsPositive():
		r.Status = ReceivablePaid
	case r.Paid.IsPositive():
		r.Status = ReceivablePartiallyPaid
	default:
		r.Status = ReceivableOutstanding
	}
}

// CreateReceivableInput carries a delivery confirmation.
type CreateReceivableInput struct {
	DeliveryRef string          `json:"delivery_ref" validate:"required"`
	CustomerID  string          `json:"customer_id" validate:"required"`
	SellerID    string          `json:"seller_id" validate:"required"`
	Total       decimal.Decimal `json:"total"`
	DueAt       time.Time       `json:"due_at"`
}

// ReceivableFilter narrows receivable listings. Empty fields match all.
type ReceivableFilter struct {
	CustomerID  string
	SellerID    string
	Outstanding bool
	Limit       int
}

// AgingBucket summarises remaining amounts by days past due.
type AgingBucket struct {
	Current   decimal.Decimal `json:"current"`
	Bucket30  decimal.Decimal `json:"bucket_30"`
	Bucket60  decimal.Decimal `json:"bucket_60"`
	Bucket90  decimal.Decimal `json:"bucket_90"`
	Bucket120 decimal.Decimal `json:"bucket_120"`
}

// Total sums every bucket.
func (b AgingBucket) Total() decimal.Decimal {
	return b.Current.Add(b.Bucket30).Add(b.Bucket60).Add(b.Bucket90).Add(b.Bucket120)
}

// ReceiptStatus enumerates payment receipt statuses.
type ReceiptStatus string

const (
	ReceiptDraft     ReceiptStatus = "DRAFT"
	ReceiptSubmitted ReceiptStatus = "SUBMITTED"
	ReceiptApproved  ReceiptStatus = "APPROVED"
	ReceiptCancelled ReceiptStatus = "CANCELLED"
)

// Allocation is the share of a payment applied to one receivable.
type Allocation struct {
	ReceivableID uuid.UUID       `json:"receivable_id"`
	DeliveryRef  string          `json:"delivery_ref,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
}

// Receipt records a customer payment and its allocation breakdown.
type Receipt struct {
	ID          uuid.UUID       `json:"id"`
	Number      string          `json:"number"`
	CustomerID  string          `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method,omitempty"`
	Note        string          `json:"note,omitempty"`
	Allocations []Allocation    `json:"allocations"`
	Status      ReceiptStatus   `json:"status"`
	CreatedBy   int64           `json:"created_by"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CreateReceiptInput selects receivables, in settlement order, for a payment.
type CreateReceiptInput struct {
	CustomerID    string          `json:"customer_id" validate:"required"`
	ReceivableIDs []uuid.UUID     `json:"receivable_ids" validate:"required,min=1"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Note          string          `json:"note"`
	Number        string          `json:"number"`
	ActorID       int64           `json:"-"`
}

// ReceiptFilter narrows receipt listings.
type ReceiptFilter struct {
	CustomerID string
	Status     ReceiptStatus
	Limit      int
}
