package ar

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Equal(t, money(want).StringFixed(2), got.StringFixed(2))
}

func openReceivables(remaining ...string) []Receivable {
	out := make([]Receivable, 0, len(remaining))
	for _, r := range remaining {
		out = append(out, Receivable{ID: uuid.New(), Total: money(r), Remaining: money(r)})
	}
	return out
}

func TestBuildAllocationsPartial(t *testing.T) {
	selected := openReceivables("30", "50")
	allocs, err := BuildAllocations(selected, money("40"))
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	require.Equal(t, selected[0].ID, allocs[0].ReceivableID)
	requireMoney(t, "30", allocs[0].Amount)
	requireMoney(t, "10", allocs[1].Amount)
}

// The amount is checked against the total remaining before anything is
// allocated, so remainders of 30 and 50 accept at most 80; 90 is rejected
// with an excess of 10 rather than spread over both.
func TestBuildAllocationsExact(t *testing.T) {
	allocs, err := BuildAllocations(openReceivables("30", "50"), money("80"))
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	requireMoney(t, "30", allocs[0].Amount)
	requireMoney(t, "50", allocs[1].Amount)
	requireMoney(t, "80", sumAllocations(allocs))
}

func TestBuildAllocationsOverAllocation(t *testing.T) {
	_, err := BuildAllocations(openReceivables("30", "50"), money("80.01"))
	require.ErrorIs(t, err, ErrOverAllocation)

	_, err = BuildAllocations(openReceivables("30", "50"), money("90"))
	var ninety *OverAllocationError
	require.ErrorAs(t, err, &ninety)
	requireMoney(t, "10", ninety.Excess())

	allocs, err := BuildAllocations(openReceivables("30", "50"), money("90.01"))
	require.Nil(t, allocs)
	require.ErrorIs(t, err, ErrOverAllocation)

	var over *OverAllocationError
	require.ErrorAs(t, err, &over)
	requireMoney(t, "80", over.Outstanding)
	requireMoney(t, "10.01", over.Excess())
	require.Contains(t, err.Error(), "excess 10.01")
}

func TestBuildAllocationsStopsWhenExhausted(t *testing.T) {
	allocs, err := BuildAllocations(openReceivables("30", "50", "20"), money("30"))
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	requireMoney(t, "30", allocs[0].Amount)
}

func TestBuildAllocationsSkipsSettledAndRounds(t *testing.T) {
	selected := openReceivables("0", "12.345")
	selected[1].Remaining = money("12.34")
	allocs, err := BuildAllocations(selected, money("5.005"))
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	require.Equal(t, selected[1].ID, allocs[0].ReceivableID)
	requireMoney(t, "5.01", allocs[0].Amount)
}

func TestBuildAllocationsRejectsNonPositive(t *testing.T) {
	_, err := BuildAllocations(openReceivables("10"), decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidAmount)
}
