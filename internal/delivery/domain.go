package delivery

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NoteStatus represents the lifecycle of a delivery note.
type NoteStatus string

const (
	NoteStatusPending           NoteStatus = "PENDING"
	NoteStatusWarehouseApproved NoteStatus = "WAREHOUSE_APPROVED"
	NoteStatusDelivered         NoteStatus = "DELIVERED"
	NoteStatusCancelled         NoteStatus = "CANCELLED"
)

// DeliveryNote moves goods of an approved sales order from the seller to the
// customer. WorkflowID and ReceivableID mark the completed halves of a
// warehouse approval.
type DeliveryNote struct {
	ID                 uuid.UUID          `json:"id"`
	DocNumber          string             `json:"doc_number"`
	SalesOrderID       uuid.UUID          `json:"sales_order_id"`
	SellerID           string             `json:"seller_id"`
	CustomerID         string             `json:"customer_id"`
	Status             NoteStatus         `json:"status"`
	Notes              string             `json:"notes,omitempty"`
	WorkflowID         *uuid.UUID         `json:"workflow_id,omitempty"`
	ReceivableID       *uuid.UUID         `json:"receivable_id,omitempty"`
	ReversalWorkflowID *uuid.UUID         `json:"reversal_workflow_id,omitempty"`
	CreatedBy          int64              `json:"created_by"`
	ApprovedAt         *time.Time         `json:"approved_at,omitempty"`
	DeliveredAt        *time.Time         `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Lines              []DeliveryNoteLine `json:"lines"`
}

// DeliveryNoteLine is one product shipped by a note.
type DeliveryNoteLine struct {
	LineOrder   int     `json:"line_order"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// LineTotal returns quantity times unit price rounded to cents.
func (l DeliveryNoteLine) LineTotal() decimal.Decimal {
	return decimal.NewFromFloat(l.Quantity).Mul(decimal.NewFromFloat(l.UnitPrice)).Round(2)
}

// Total is the amount billed when the note is approved.
func (n DeliveryNote) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range n.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// approvalStarted reports a pending note whose approval left side effects.
func (n DeliveryNote) approvalStarted() bool {
	return n.Status == NoteStatusPending && (n.WorkflowID != nil || n.ReceivableID != nil)
}

// CreateDeliveryNoteRequest creates a note for an approved order. Without
// lines the whole order is shipped.
type CreateDeliveryNoteRequest struct {
	SalesOrderID uuid.UUID                   `json:"sales_order_id" validate:"required"`
	Notes        string                      `json:"notes" validate:"max=500"`
	Lines        []CreateDeliveryNoteLineReq `json:"lines" validate:"omitempty,dive"`
}

// CreateDeliveryNoteLineReq selects a quantity of an order product.
type CreateDeliveryNoteLineReq struct {
	ProductID string  `json:"product_id" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"gt=0"`
}

// ListFilter narrows note listings. Empty fields match all.
type ListFilter struct {
	SalesOrderID uuid.UUID
	SellerID     string
	CustomerID   string
	Status       NoteStatus
	Limit        int
}
