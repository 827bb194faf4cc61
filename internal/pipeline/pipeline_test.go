package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/sigflow/internal/executor"
	"github.com/quantfold/sigflow/internal/portfolio"
	"github.com/quantfold/sigflow/internal/risk"
	"github.com/quantfold/sigflow/pkg/types"
)

func newPipeline(t *testing.T, aggCfg portfolio.Config, limits risk.Limits) (*Pipeline, *executor.SimulatedEngine) {
	t.Helper()

	agg, err := portfolio.New(aggCfg)
	require.NoError(t, err)
	gate, err := risk.NewManager(limits)
	require.NoError(t, err)
	engine, err := executor.NewSimulatedEngine(executor.SimConfig{})
	require.NoError(t, err)
	require.NoError(t, engine.Start())
	t.Cleanup(engine.Stop)

	p, err := New(Options{
		Aggregator: agg,
		RiskGate:   gate,
		Engine:     engine,
	})
	require.NoError(t, err)
	return p, engine
}

func signal(st types.SignalType, symbol, strategy string, price float64) types.Signal {
	return types.Signal{
		SignalType:   st,
		Symbol:       symbol,
		StrategyName: strategy,
		ClosePrice:   price,
		Timestamp:    time.Now(),
	}
}

// drainAll polls DrainResults until n results have arrived.
func drainAll(t *testing.T, p *Pipeline, n int) []types.TradeResult {
	t.Helper()
	var out []types.TradeResult
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n && time.Now().Before(deadline) {
		out = append(out, p.DrainResults()...)
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, out, n)
	return out
}

func TestPipeline_SignalToFillToLedger(t *testing.T) {
	p, _ := newPipeline(t,
		portfolio.Config{Mode: portfolio.ModeAdditive, DefaultSize: 2},
		risk.Limits{})

	submitted := p.RunCycle([]types.Signal{
		signal(types.SignalBuy, "MNQ", "momentum", 18000.0),
	})
	require.Equal(t, 1, submitted)

	results := drainAll(t, p, 1)
	assert.Equal(t, types.TradeStatusFilled, results[0].Status)

	pos := p.Ledger().Get("momentum", "MNQ")
	assert.Equal(t, 2, pos.Size)
	assert.InDelta(t, 18000.0, pos.AvgPrice, 1e-9)
}

func TestPipeline_RealizedPnLFeedsRiskGate(t *testing.T) {
	p, _ := newPipeline(t,
		portfolio.Config{Mode: portfolio.ModeAdditive, DefaultSize: 2},
		risk.Limits{MaxDailyLoss: -500.0})

	p.RunCycle([]types.Signal{signal(types.SignalBuy, "MNQ", "momentum", 18000.0)})
	drainAll(t, p, 1)

	// Close at a loss; 2 contracts dropping 100 points is -200.
	p.RunCycle([]types.Signal{signal(types.SignalSell, "MNQ", "momentum", 17900.0)})
	drainAll(t, p, 1)

	status := p.Status()
	assert.InDelta(t, -200.0, status.Risk.DailyPnL, 1e-9)
	assert.False(t, status.Risk.CircuitBreakerTripped)
	assert.Zero(t, status.Portfolio.OpenPositions)
}

func TestPipeline_RiskRejectionNeverReachesEngine(t *testing.T) {
	p, engine := newPipeline(t,
		portfolio.Config{Mode: portfolio.ModeAdditive, DefaultSize: 1},
		risk.Limits{MaxPositionPerSymbol: 2})

	p.RunCycle([]types.Signal{signal(types.SignalBuy, "MNQ", "momentum", 18000.0)})
	p.RunCycle([]types.Signal{signal(types.SignalBuy, "MNQ", "momentum", 18001.0)})
	drainAll(t, p, 2)

	// At the cap of 2 now; a third entry is rejected before submission.
	submitted := p.RunCycle([]types.Signal{signal(types.SignalBuy, "MNQ", "momentum", 18002.0)})
	assert.Zero(t, submitted)
	assert.Equal(t, 2, engine.Stats().Executed)
}

func TestPipeline_BreakerTripSubmitsFlatten(t *testing.T) {
	agg, err := portfolio.New(portfolio.Config{Mode: portfolio.ModeAdditive, DefaultSize: 1})
	require.NoError(t, err)
	gate, err := risk.NewManager(risk.Limits{MaxDailyLoss: -100.0})
	require.NoError(t, err)
	engine, err := executor.NewSimulatedEngine(executor.SimConfig{})
	require.NoError(t, err)
	require.NoError(t, engine.Start())
	t.Cleanup(engine.Stop)

	p, err := New(Options{
		Aggregator:    agg,
		RiskGate:      gate,
		Engine:        engine,
		FlattenOnTrip: true,
	})
	require.NoError(t, err)

	// Open a long, then realize a loss past the floor.
	p.RunCycle([]types.Signal{signal(types.SignalBuy, "MNQ", "momentum", 18000.0)})
	drainAll(t, p, 1)
	p.RunCycle([]types.Signal{signal(types.SignalBuy, "MES", "meanrev", 5000.0)})
	drainAll(t, p, 1)
	p.RunCycle([]types.Signal{signal(types.SignalSell, "MNQ", "momentum", 17850.0)})
	drainAll(t, p, 1)

	require.True(t, gate.IsTripped(), "-150 breaches the -100 floor")

	// The flatten sentinel closes the remaining MES leg.
	require.Eventually(t, func() bool {
		p.DrainResults()
		return len(engine.Positions()) == 0
	}, 5*time.Second, 20*time.Millisecond)

	// The engine is disabled as part of the flatten.
	assert.False(t, engine.Enabled())

	// And nothing new passes the gate.
	submitted := p.RunCycle([]types.Signal{signal(types.SignalBuy, "MNQ", "momentum", 18000.0)})
	assert.Zero(t, submitted)
}

func TestPipeline_KillSwitchProducesDisabledResults(t *testing.T) {
	p, _ := newPipeline(t,
		portfolio.Config{Mode: portfolio.ModeAdditive, DefaultSize: 1},
		risk.Limits{})

	p.Kill(true)
	p.RunCycle([]types.Signal{signal(types.SignalBuy, "MNQ", "momentum", 18000.0)})
	results := drainAll(t, p, 1)

	assert.Equal(t, types.TradeStatusDisabled, results[0].Status)
	assert.Zero(t, p.Ledger().Get("momentum", "MNQ").Size, "disabled trades never touch the book")
}

func TestPipeline_PriorityModeEndToEnd(t *testing.T) {
	p, engine := newPipeline(t,
		portfolio.Config{
			Mode:               portfolio.ModePriority,
			DefaultSize:        1,
			StrategyPriorities: map[string]int{"momentum": 1, "meanrev": 5},
		},
		risk.Limits{})

	submitted := p.RunCycle([]types.Signal{
		signal(types.SignalBuy, "MNQ", "meanrev", 18000.0),
		signal(types.SignalShort, "MNQ", "momentum", 18000.0),
	})
	require.Equal(t, 1, submitted, "one winner per symbol")

	results := drainAll(t, p, 1)
	assert.Equal(t, "momentum", results[0].Request.StrategyName)
	assert.Equal(t, 1, engine.Stats().Executed)
}

func TestPipeline_HistoryAccumulates(t *testing.T) {
	p, _ := newPipeline(t,
		portfolio.Config{Mode: portfolio.ModeAdditive, DefaultSize: 1},
		risk.Limits{})

	p.RunCycle([]types.Signal{signal(types.SignalBuy, "MNQ", "momentum", 18000.0)})
	drainAll(t, p, 1)
	p.RunCycle([]types.Signal{signal(types.SignalSell, "MNQ", "momentum", 18010.0)})
	drainAll(t, p, 1)

	assert.Len(t, p.History(), 2)
}
