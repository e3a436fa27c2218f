package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type mapStock struct {
	mu  sync.Mutex
	qty map[string]float64
	err error
}

func (m *mapStock) OnHand(_ context.Context, ownerID, productID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.qty[ownerID+"/"+productID], nil
}

// chain: retailer -> wholesaler -> principal
func chainRepo() *MemoryRepository {
	return NewMemoryRepository(
		Owner{ID: "principal", Name: "Principal"},
		Owner{ID: "wholesaler", Name: "Wholesaler", ParentID: "principal"},
		Owner{ID: "retailer", Name: "Retailer", ParentID: "wholesaler"},
	)
}

func TestFindBottleneckStopsAtFirstSufficient(t *testing.T) {
	stock := &mapStock{qty: map[string]float64{
		"retailer/X":   1,
		"wholesaler/X": 2,
		"principal/X":  50,
	}}
	svc := NewService(chainRepo(), stock, Config{}, nil)

	b, err := svc.FindBottleneck(context.Background(), "retailer", "X", 10)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, "wholesaler", b.OwnerID)
	require.Equal(t, 1, b.Depth)
	require.Equal(t, []string{"retailer", "wholesaler"}, b.Path)
	require.InDelta(t, 8.0, b.Shortfall(), 0.0001)
}

func TestFindBottleneckReturnsRootWhenEveryoneShort(t *testing.T) {
	stock := &mapStock{qty: map[string]float64{"principal/X": 3}}
	svc := NewService(chainRepo(), stock, Config{}, nil)

	b, err := svc.FindBottleneck(context.Background(), "retailer", "X", 10)
	require.NoError(t, err)
	require.Equal(t, "principal", b.OwnerID)
	require.Equal(t, "Principal", b.OwnerName)
}

func TestFindBottleneckNilWhenStartSufficient(t *testing.T) {
	stock := &mapStock{qty: map[string]float64{"retailer/X": 10}}
	svc := NewService(chainRepo(), stock, Config{}, nil)

	b, err := svc.FindBottleneck(context.Background(), "retailer", "X", 10)
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestFindBottleneckDetectsCycle(t *testing.T) {
	repo := NewMemoryRepository(
		Owner{ID: "a", ParentID: "b"},
		Owner{ID: "b", ParentID: "c"},
		Owner{ID: "c", ParentID: "a"},
	)
	svc := NewService(repo, &mapStock{qty: map[string]float64{}}, Config{}, nil)

	_, err := svc.FindBottleneck(context.Background(), "a", "X", 1)
	require.ErrorIs(t, err, ErrHierarchyCycle)
}

func TestFindBottleneckDepthCap(t *testing.T) {
	var owners []Owner
	for i := 0; i < 10; i++ {
		o := Owner{ID: fmt.Sprintf("o%d", i)}
		if i < 9 {
			o.ParentID = fmt.Sprintf("o%d", i+1)
		}
		owners = append(owners, o)
	}
	svc := NewService(NewMemoryRepository(owners...), &mapStock{qty: map[string]float64{}}, Config{MaxDepth: 5}, nil)

	_, err := svc.FindBottleneck(context.Background(), "o0", "X", 1)
	require.ErrorIs(t, err, ErrHierarchyTooDeep)

	_, err = svc.FindBottleneck(context.Background(), "o5", "X", 1)
	require.NoError(t, err)
}

func TestFindBottleneckUnknownOwner(t *testing.T) {
	svc := NewService(chainRepo(), &mapStock{}, Config{}, nil)
	_, err := svc.FindBottleneck(context.Background(), "ghost", "X", 1)
	require.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestResolveShortagesKeepsOrder(t *testing.T) {
	stock := &mapStock{qty: map[string]float64{
		"retailer/X":   5,
		"wholesaler/Y": 1,
		"principal/Y":  9,
		"principal/Z":  1,
	}}
	svc := NewService(chainRepo(), stock, Config{Parallelism: 2}, nil)

	res, err := svc.ResolveShortages(context.Background(), "retailer", []Need{
		{ProductID: "X", Qty: 5},
		{ProductID: "Y", Qty: 4},
		{ProductID: "Z", Qty: 4},
	})
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Nil(t, res[0].Bottleneck)
	require.Equal(t, "wholesaler", res[1].Bottleneck.OwnerID)
	require.Equal(t, "principal", res[2].Bottleneck.OwnerID)
	require.Equal(t, "Z", res[2].Need.ProductID)
}

func TestResolveShortagesPropagatesErrors(t *testing.T) {
	boom := errors.New("stock unavailable")
	svc := NewService(chainRepo(), &mapStock{err: boom}, Config{}, nil)
	_, err := svc.ResolveShortages(context.Background(), "retailer", []Need{{ProductID: "X", Qty: 1}})
	require.ErrorIs(t, err, boom)
}

func TestRegisterOwnerRejectsCycles(t *testing.T) {
	repo := chainRepo()
	svc := NewService(repo, &mapStock{}, Config{}, nil)
	ctx := context.Background()

	err := svc.RegisterOwner(ctx, Owner{ID: "principal", ParentID: "retailer"})
	require.ErrorIs(t, err, ErrHierarchyCycle)

	err = svc.RegisterOwner(ctx, Owner{ID: "shop", ParentID: "nobody"})
	require.ErrorIs(t, err, ErrOwnerNotFound)

	require.NoError(t, svc.RegisterOwner(ctx, Owner{ID: "shop", Name: "Shop", ParentID: "retailer"}))
	chain, err := svc.Ancestors(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, "retailer", chain[0].ID)
	require.Equal(t, "principal", chain[2].ID)
}
