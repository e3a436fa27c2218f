package movement

import (
	"context"
	"math"
	"sort"

	"github.com/odyssey-erp/odyssey-distribution/internal/inventory"
)

const qtyEpsilon = 0.0001

// StockView is the read side the engine and bundle planning need.
type StockView interface {
	Available(ctx context.Context, ownerID, productID string) (float64, error)
	ListPositions(ctx context.Context, ownerID string) ([]inventory.Position, error)
}

// Replenishment moves Qty of a real product into a placeholder product of the
// same owner before the event is debited.
type Replenishment struct {
	SourceProduct string
	TargetProduct string
	Qty           float64
}

// BundleResolver prepares an event before its debit path runs.
type BundleResolver interface {
	Plan(ctx context.Context, ownerID string, lines []Line, stock StockView) ([]Replenishment, error)
}

// NoBundles leaves every event untouched.
type NoBundles struct{}

// Plan implements BundleResolver.
func (NoBundles) Plan(context.Context, string, []Line, StockView) ([]Replenishment, error) {
	return nil, nil
}

// PlaceholderResolver fills a synthetic bundle product from the largest spare
// real products of the same owner. Spare quantity excludes what the event's
// own lines already request.
type PlaceholderResolver struct {
	ProductID string
}

// Plan implements BundleResolver.
func (r PlaceholderResolver) Plan(ctx context.Context, ownerID string, lines []Line, stock StockView) ([]Replenishment, error) {
	var need float64
	direct := make(map[string]float64, len(lines))
	for _, l := range lines {
		if l.ProductID == r.ProductID {
			need += l.Quantity
			continue
		}
		direct[l.ProductID] += l.Quantity
	}
	if need <= 0 {
		return nil, nil
	}
	have, err := stock.Available(ctx, ownerID, r.ProductID)
	if err != nil {
		return nil, err
	}
	shortfall := need - have
	if shortfall <= qtyEpsilon {
		return nil, nil
	}

	positions, err := stock.ListPositions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	type candidate struct {
		product string
		spare   float64
	}
	var candidates []candidate
	for _, p := range positions {
		if p.ProductID == r.ProductID {
			continue
		}
		avail, err := stock.Available(ctx, ownerID, p.ProductID)
		if err != nil {
			return nil, err
		}
		if spare := avail - direct[p.ProductID]; spare > qtyEpsilon {
			candidates = append(candidates, candidate{product: p.ProductID, spare: spare})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].spare == candidates[j].spare {
			return candidates[i].product < candidates[j].product
		}
		return candidates[i].spare > candidates[j].spare
	})

	var out []Replenishment
	for _, c := range candidates {
		if shortfall <= qtyEpsilon {
			break
		}
		take := math.Min(c.spare, shortfall)
		out = append(out, Replenishment{SourceProduct: c.product, TargetProduct: r.ProductID, Qty: take})
		shortfall -= take
	}
	return out, nil
}
