package movement

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-distribution/internal/inventory"
)

// SystemOwner is the placeholder party on the far side of receipts and
// adjustments. It has no ledger position.
const SystemOwner = "SYSTEM"

// EventType names a business event that moves stock between two owners.
type EventType string

const (
	EventSaleCompleted     EventType = "SALE_COMPLETED"
	EventSaleReverted      EventType = "SALE_REVERTED"
	EventTransferCompleted EventType = "TRANSFER_COMPLETED"
	EventLoanCreated       EventType = "LOAN_CREATED"
	EventLoanReturned      EventType = "LOAN_RETURNED"
	EventConversion        EventType = "CONVERSION"
	EventAdjustment        EventType = "ADJUSTMENT"
	EventReceipt           EventType = "RECEIPT"
)

// LoanEffect tells whether an event opens or closes a loan.
type LoanEffect int

const (
	LoanNone LoanEffect = iota
	LoanOpen
	LoanClose
)

// Rule is one row of the propagation table. From and To of an Event always
// name the forward relationship (seller/buyer, sender/receiver,
// lender/borrower); Reverse swaps the debit side.
type Rule struct {
	Event      EventType
	Reverse    bool
	DebitKind  inventory.MovementKind
	CreditKind inventory.MovementKind
	Loan       LoanEffect
}

var rules = map[EventType]Rule{
	EventSaleCompleted:     {Event: EventSaleCompleted, DebitKind: inventory.KindSale, CreditKind: inventory.KindSale},
	EventSaleReverted:      {Event: EventSaleReverted, Reverse: true, DebitKind: inventory.KindSaleReturn, CreditKind: inventory.KindSaleReturn},
	EventTransferCompleted: {Event: EventTransferCompleted, DebitKind: inventory.KindTransfer, CreditKind: inventory.KindTransfer},
	EventLoanCreated:       {Event: EventLoanCreated, DebitKind: inventory.KindLoan, CreditKind: inventory.KindLoan, Loan: LoanOpen},
	EventLoanReturned:      {Event: EventLoanReturned, Reverse: true, DebitKind: inventory.KindLoanReturn, CreditKind: inventory.KindLoanReturn, Loan: LoanClose},
	EventAdjustment:        {Event: EventAdjustment, DebitKind: inventory.KindAdjustment, CreditKind: inventory.KindAdjustment},
	EventReceipt:           {Event: EventReceipt, DebitKind: inventory.KindReceipt, CreditKind: inventory.KindReceipt},
}

// RuleFor returns the propagation rule of an event type. Conversions are
// same-owner and go through Engine.Convert.
func RuleFor(t EventType) (Rule, error) {
	rule, ok := rules[t]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrUnknownEvent, t)
	}
	return rule, nil
}

// Line is one product of an event.
type Line struct {
	ProductID   string  `json:"product_id" validate:"required"`
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
	// UnitCost values credits whose debit side is SystemOwner.
	UnitCost float64 `json:"unit_cost" validate:"gte=0"`
}

// Event is a request to move stock.
type Event struct {
	Type      EventType `json:"type" validate:"required"`
	From      string    `json:"from" validate:"required"`
	To        string    `json:"to" validate:"required"`
	Lines     []Line    `json:"lines" validate:"required,min=1,dive"`
	Reference string    `json:"reference" validate:"required"`
	ActorID   int64     `json:"-"`
}

// Plan returns the owner debited and the owner credited by an event.
func Plan(ev Event) (debitOwner, creditOwner string, err error) {
	rule, err := RuleFor(ev.Type)
	if err != nil {
		return "", "", err
	}
	if rule.Reverse {
		return ev.To, ev.From, nil
	}
	return ev.From, ev.To, nil
}

// validate checks the event shape and returns lines merged by product in
// first-seen order.
func (ev Event) validate() ([]Line, error) {
	if ev.From == "" || ev.To == "" {
		return nil, fmt.Errorf("%w: from and to owners required", ErrInvalidEvent)
	}
	if ev.From == ev.To {
		return nil, fmt.Errorf("%w: from and to must differ", ErrInvalidEvent)
	}
	if ev.Reference == "" {
		return nil, fmt.Errorf("%w: reference required", ErrInvalidEvent)
	}
	if len(ev.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", ErrInvalidEvent)
	}
	return mergeLines(ev.Lines)
}

func mergeLines(lines []Line) ([]Line, error) {
	index := make(map[string]int, len(lines))
	merged := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, fmt.Errorf("%w: product required", ErrInvalidEvent)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s quantity must be positive", ErrInvalidEvent, l.ProductID)
		}
		if l.UnitPrice < 0 || l.UnitCost < 0 {
			return nil, fmt.Errorf("%w: product %s price and cost must be >= 0", ErrInvalidEvent, l.ProductID)
		}
		if i, ok := index[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	return merged, nil
}
