package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SalesOrderStatus string

const (
	SalesOrderStatusDraft     SalesOrderStatus = "DRAFT"
	SalesOrderStatusSubmitted SalesOrderStatus = "SUBMITTED"
	SalesOrderStatusApproved  SalesOrderStatus = "APPROVED"
	SalesOrderStatusCancelled SalesOrderStatus = "CANCELLED"
)

type SalesOrder struct {
	ID          uuid.UUID        `json:"id"`
	DocNumber   string           `json:"doc_number"`
	SellerID    string           `json:"seller_id"`
	CustomerID  string           `json:"customer_id"`
	OrderDate   time.Time        `json:"order_date"`
	Status      SalesOrderStatus `json:"status"`
	Notes       string           `json:"notes,omitempty"`
	CreatedBy   int64            `json:"created_by"`
	ApprovedAt  *time.Time       `json:"approved_at,omitempty"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Lines       []SalesOrderLine `json:"lines"`
}

type SalesOrderLine struct {
	LineOrder   int     `json:"line_order"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// LineTotal returns quantity times unit price rounded to cents.
func (l SalesOrderLine) LineTotal() decimal.Decimal {
	return decimal.NewFromFloat(l.Quantity).Mul(decimal.NewFromFloat(l.UnitPrice)).Round(2)
}

// Total sums every line total.
func (o SalesOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

type ListFilter struct {
	SellerID   string
	CustomerID string
	Status     SalesOrderStatus
	Limit      int
}
