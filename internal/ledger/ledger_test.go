package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/sigflow/pkg/types"
)

func TestLedger_ApplyAndViews(t *testing.T) {
	l := New()

	l.Apply("momentum", "NQ", types.SignalBuy, 2, 18500.0)
	l.Apply("momentum", "ES", types.SignalShort, 1, 5300.0)
	l.Apply("meanrev", "NQ", types.SignalBuy, 3, 18510.0)

	flat := l.SizeSnapshot()
	assert.Equal(t, 2, flat[Key{Symbol: "NQ", Strategy: "momentum"}])
	assert.Equal(t, -1, flat[Key{Symbol: "ES", Strategy: "momentum"}])
	assert.Equal(t, 3, flat[Key{Symbol: "NQ", Strategy: "meanrev"}])

	nested := l.ByStrategy()
	require.Contains(t, nested, "momentum")
	assert.Equal(t, 2, nested["momentum"]["NQ"])
	assert.Equal(t, -1, nested["momentum"]["ES"])

	assert.Equal(t, 5, l.BySymbol()["NQ"])
	assert.Equal(t, 6, l.PortfolioTotal())
}

func TestLedger_RealizedAndFlatCleanup(t *testing.T) {
	l := New()

	l.Apply("momentum", "NQ", types.SignalBuy, 2, 100.0)
	res := l.Apply("momentum", "NQ", types.SignalSell, 2, 110.0)
	require.True(t, res.Reduced)
	assert.InDelta(t, 20.0, res.Realized, 1e-9)

	// The leg is flat but keeps its realized history.
	pos := l.Get("momentum", "NQ")
	assert.Equal(t, 0, pos.Size)
	assert.InDelta(t, 20.0, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 20.0, l.DailyRealizedPnL(), 1e-9)

	// A never-profitable leg that goes flat disappears entirely.
	l2 := New()
	l2.Apply("meanrev", "ES", types.SignalBuy, 1, 100.0)
	l2.Apply("meanrev", "ES", types.SignalSell, 1, 100.0)
	assert.Empty(t, l2.SizeSnapshot())
	assert.Equal(t, Position{}, l2.Get("meanrev", "ES"))
}

func TestLedger_UnrealizedPnL(t *testing.T) {
	l := New()
	l.Apply("momentum", "NQ", types.SignalBuy, 1, 18500.0)

	// No market price yet.
	assert.Equal(t, 0.0, l.UnrealizedPnL("momentum", "NQ"))

	l.UpdateMarketPrice("NQ", 18520.0)
	assert.InDelta(t, 20.0, l.UnrealizedPnL("momentum", "NQ"), 1e-9)

	// Short side marks against the move.
	l.Apply("meanrev", "NQ", types.SignalShort, 2, 18510.0)
	assert.InDelta(t, -20.0, l.UnrealizedPnL("meanrev", "NQ"), 1e-9)
}

func TestLedger_Snapshot(t *testing.T) {
	l := New()
	l.Apply("momentum", "NQ", types.SignalBuy, 2, 100.0)
	l.Apply("momentum", "NQ", types.SignalSell, 1, 110.0)
	l.Apply("meanrev", "ES", types.SignalShort, 1, 200.0)
	l.UpdateMarketPrice("NQ", 120.0)
	l.UpdateMarketPrice("ES", 195.0)

	sum := l.Snapshot()
	assert.Equal(t, 2, sum.OpenPositions)
	assert.InDelta(t, 10.0, sum.RealizedPnL, 1e-9)
	// momentum: long 1 @ 100 marked 120 = +20; meanrev: short 1 @ 200 marked 195 = +5
	assert.InDelta(t, 25.0, sum.UnrealizedPnL, 1e-9)
	assert.Equal(t, 1, sum.Strategies["momentum"].OpenPositions)
	assert.InDelta(t, 10.0, sum.Strategies["momentum"].RealizedPnL, 1e-9)
}
