package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeductFIFOOrdersByReceipt(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batches := []Batch{
		{ID: 3, Qty: 5, UnitCost: 30, ReceivedAt: base.Add(2 * time.Hour)},
		{ID: 1, Qty: 2, UnitCost: 10, ReceivedAt: base},
		{ID: 2, Qty: 4, UnitCost: 20, ReceivedAt: base.Add(time.Hour)},
	}

	touched, res := DeductFIFO(batches, 7)
	require.InDelta(t, 7.0, res.Deducted, 0.0001)
	require.InDelta(t, 2*10+4*20+1*30.0, res.CostUsed, 0.0001)
	require.Len(t, touched, 3)
	require.Equal(t, int64(1), touched[0].ID)
	require.Zero(t, touched[0].Qty)
	require.Equal(t, int64(3), touched[2].ID)
	require.InDelta(t, 4.0, touched[2].Qty, 0.0001)

	// input is not mutated
	require.InDelta(t, 5.0, batches[0].Qty, 0.0001)
}

func TestDeductFIFOShortfallReturnsPartial(t *testing.T) {
	batches := []Batch{{ID: 1, Qty: 2, UnitCost: 5}, {ID: 2, Qty: 0, UnitCost: 99}}
	touched, res := DeductFIFO(batches, 10)
	require.InDelta(t, 2.0, res.Deducted, 0.0001)
	require.InDelta(t, 10.0, res.CostUsed, 0.0001)
	require.Len(t, touched, 1)
}

func TestMergeBatches(t *testing.T) {
	all := []Batch{{ID: 1, Qty: 5}, {ID: 2, Qty: 5}}
	merged := mergeBatches(all, []Batch{{ID: 2, Qty: 1}})
	require.InDelta(t, 6.0, SumBatches(merged), 0.0001)
	require.InDelta(t, 10.0, SumBatches(all), 0.0001)
}

func TestCheckDrift(t *testing.T) {
	pos := Position{OwnerID: "A", ProductID: "X", QtyOnHand: 10}
	require.NoError(t, checkDrift(pos, []Batch{{Qty: 4}, {Qty: 6}}))
	require.ErrorIs(t, checkDrift(pos, []Batch{{Qty: 4}}), ErrBatchDrift)
}
