package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/sigflow/internal/ledger"
	"github.com/quantfold/sigflow/pkg/types"
)

func newAggregator(t *testing.T, cfg Config) *Aggregator {
	t.Helper()
	if cfg.DefaultSize == 0 {
		cfg.DefaultSize = 1
	}
	agg, err := New(cfg)
	require.NoError(t, err)
	return agg
}

func sig(st types.SignalType, symbol, strategy string, price float64) types.Signal {
	return types.Signal{
		SignalType:   st,
		Symbol:       symbol,
		StrategyName: strategy,
		ClosePrice:   price,
		Timestamp:    time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Mode: "netting", DefaultSize: 1})
	assert.ErrorContains(t, err, "invalid resolution mode")

	_, err = New(Config{Mode: ModeAdditive})
	assert.ErrorContains(t, err, "default order size")

	_, err = New(Config{Mode: ModeAdditive, DefaultSize: 1, MaxPositionPerSymbol: -2})
	assert.ErrorContains(t, err, "non-negative")
}

func TestProcessSignals_EmptyBatch(t *testing.T) {
	for _, mode := range []ResolutionMode{ModeAdditive, ModePriority, ModeVeto} {
		agg := newAggregator(t, Config{Mode: mode})
		assert.Empty(t, agg.ProcessSignals(nil, nil))
		assert.Empty(t, agg.ProcessSignals([]types.Signal{}, map[ledger.Key]int{}))
	}
}

func TestProcessSignals_Additive(t *testing.T) {
	agg := newAggregator(t, Config{Mode: ModeAdditive, DefaultSize: 2})

	reqs := agg.ProcessSignals([]types.Signal{
		sig(types.SignalBuy, "NQ", "momentum", 18500),
		sig(types.SignalShort, "NQ", "meanrev", 18500),
		sig(types.SignalSell, "ES", "momentum", 5300),
	}, nil)

	require.Len(t, reqs, 3)
	for _, req := range reqs {
		assert.Equal(t, 2, req.Size)
	}
	assert.Equal(t, 18500.0, reqs[0].Price)
	assert.Equal(t, "momentum", reqs[0].StrategyName)
}

func TestProcessSignals_PriorityWinnerPerSymbol(t *testing.T) {
	agg := newAggregator(t, Config{
		Mode:               ModePriority,
		StrategyPriorities: map[string]int{"momentum": 1, "meanrev": 2},
	})

	reqs := agg.ProcessSignals([]types.Signal{
		sig(types.SignalShort, "NQ", "meanrev", 18500),
		sig(types.SignalBuy, "NQ", "momentum", 18500),
		sig(types.SignalBuy, "ES", "meanrev", 5300),
	}, nil)

	require.Len(t, reqs, 2)
	assert.Equal(t, "momentum", reqs[0].StrategyName) // wins NQ
	assert.Equal(t, "meanrev", reqs[1].StrategyName)  // unopposed on ES
}

func TestProcessSignals_PriorityAlphabeticalTie(t *testing.T) {
	// Neither strategy is listed, so both default to 999 and the
	// alphabetically-first name wins.
	agg := newAggregator(t, Config{Mode: ModePriority})

	reqs := agg.ProcessSignals([]types.Signal{
		sig(types.SignalBuy, "NQ", "zeta", 18500),
		sig(types.SignalShort, "NQ", "alpha", 18500),
	}, nil)

	require.Len(t, reqs, 1)
	assert.Equal(t, "alpha", reqs[0].StrategyName)
}

func TestProcessSignals_VetoBlocksBuys(t *testing.T) {
	agg := newAggregator(t, Config{Mode: ModeVeto})

	reqs := agg.ProcessSignals([]types.Signal{
		sig(types.SignalBuy, "NQ", "momentum", 18500),
		sig(types.SignalShort, "NQ", "meanrev", 18500),
		sig(types.SignalSell, "NQ", "swing", 18500),
		sig(types.SignalCover, "NQ", "swing", 18500),
		sig(types.SignalBuy, "ES", "momentum", 5300),
	}, nil)

	require.Len(t, reqs, 4)
	for _, req := range reqs {
		if req.SignalType == types.SignalBuy {
			assert.NotEqual(t, "NQ", req.Symbol, "Buy must not survive for a shorted symbol")
		}
	}
}

func TestProcessSignals_VetoIsBatchScoped(t *testing.T) {
	agg := newAggregator(t, Config{Mode: ModeVeto})

	// An open short from an earlier batch does not veto this Buy.
	positions := map[ledger.Key]int{
		{Symbol: "NQ", Strategy: "meanrev"}: -2,
	}
	reqs := agg.ProcessSignals([]types.Signal{
		sig(types.SignalBuy, "NQ", "momentum", 18500),
	}, positions)

	require.Len(t, reqs, 1)
	assert.Equal(t, types.SignalBuy, reqs[0].SignalType)
}

func TestPositionLimits_ExactBoundary(t *testing.T) {
	agg := newAggregator(t, Config{Mode: ModeAdditive, MaxPositionPerSymbol: 5})

	// Existing exposure of 4: one size-1 entry reaches the cap exactly
	// (allowed); the next is rejected.
	positions := map[ledger.Key]int{
		{Symbol: "NQ", Strategy: "momentum"}: 4,
	}
	reqs := agg.ProcessSignals([]types.Signal{
		sig(types.SignalBuy, "NQ", "meanrev", 18500),
		sig(types.SignalBuy, "NQ", "swing", 18500),
	}, positions)

	require.Len(t, reqs, 1)
	assert.Equal(t, "meanrev", reqs[0].StrategyName)
}

func TestPositionLimits_ExitsAlwaysPass(t *testing.T) {
	agg := newAggregator(t, Config{Mode: ModeAdditive, MaxPortfolioPosition: 1})

	positions := map[ledger.Key]int{
		{Symbol: "NQ", Strategy: "momentum"}: 1,
	}
	reqs := agg.ProcessSignals([]types.Signal{
		sig(types.SignalSell, "NQ", "momentum", 18500),
		sig(types.SignalCover, "ES", "meanrev", 5300),
		sig(types.SignalBuy, "ES", "meanrev", 5300), // over the cap, dropped
	}, positions)

	require.Len(t, reqs, 2)
	assert.True(t, reqs[0].SignalType.IsExit())
	assert.True(t, reqs[1].SignalType.IsExit())
}

func TestPositionLimits_PerStrategyAndRunningTally(t *testing.T) {
	agg := newAggregator(t, Config{Mode: ModeAdditive, MaxPositionPerStrategy: 2})

	// Short positions count as absolute exposure.
	positions := map[ledger.Key]int{
		{Symbol: "NQ", Strategy: "momentum"}: -1,
	}
	reqs := agg.ProcessSignals([]types.Signal{
		sig(types.SignalBuy, "NQ", "momentum", 18500), // 1+1=2, admitted
		sig(types.SignalBuy, "NQ", "momentum", 18500), // 2+1=3, rejected
		sig(types.SignalBuy, "NQ", "meanrev", 18500),  // other strategy, admitted
	}, positions)

	require.Len(t, reqs, 2)
	assert.Equal(t, "momentum", reqs[0].StrategyName)
	assert.Equal(t, "meanrev", reqs[1].StrategyName)
}
