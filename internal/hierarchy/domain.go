package hierarchy

import (
	"context"
	"errors"
)

var (
	// ErrOwnerNotFound indicates an unknown owner id.
	ErrOwnerNotFound = errors.New("hierarchy: owner not found")
	// ErrHierarchyCycle is returned when a parent chain revisits an owner.
	ErrHierarchyCycle = errors.New("hierarchy: parent chain contains a cycle")
	// ErrHierarchyTooDeep is returned when a parent chain exceeds the depth cap.
	ErrHierarchyTooDeep = errors.New("hierarchy: parent chain exceeds maximum depth")
	// ErrInvalidOwner indicates a malformed owner record.
	ErrInvalidOwner = errors.New("hierarchy: invalid owner")
)

// DefaultMaxDepth caps parent traversal when no limit is configured.
const DefaultMaxDepth = 32

// Owner is a distributor tier. Root owners have an empty ParentID.
type Owner struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// Hierarchy is a parent-pointer map keyed by owner id.
type Hierarchy map[string]Owner

// Bottleneck is the most upstream owner found short before a sufficient one.
type Bottleneck struct {
	OwnerID   string   `json:"owner_id"`
	OwnerName string   `json:"owner_name"`
	ProductID string   `json:"product_id"`
	Needed    float64  `json:"needed"`
	OnHand    float64  `json:"on_hand"`
	Depth     int      `json:"depth"`
	Path      []string `json:"path"`
}

// Shortfall returns the missing quantity at the bottleneck.
func (b Bottleneck) Shortfall() float64 {
	return b.Needed - b.OnHand
}

// Need is one product requested from a start owner.
type Need struct {
	ProductID string  `json:"product_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"gt=0"`
}

// Resolution pairs a need with its bottleneck, nil when the start owner covers it.
type Resolution struct {
	Need       Need        `json:"need"`
	Bottleneck *Bottleneck `json:"bottleneck"`
}

// RepositoryPort loads and stores owners.
type RepositoryPort interface {
	ListOwners(ctx context.Context) ([]Owner, error)
	UpsertOwner(ctx context.Context, owner Owner) error
}

// StockReader reads on-hand quantity.
type StockReader interface {
	OnHand(ctx context.Context, ownerID, productID string) (float64, error)
}
