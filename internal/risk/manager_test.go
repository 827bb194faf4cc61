package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/sigflow/pkg/types"
)

func newManager(t *testing.T, limits Limits) *Manager {
	t.Helper()
	m, err := NewManager(limits)
	require.NoError(t, err)
	return m
}

func TestNewManager_RejectsBadLimits(t *testing.T) {
	_, err := NewManager(Limits{MaxPositionPerSymbol: -1})
	assert.Error(t, err)

	_, err = NewManager(Limits{MaxDailyLoss: 500.0})
	assert.Error(t, err, "loss floor must be negative")

	_, err = NewManager(Limits{MaxDailyLoss: -500.0})
	assert.NoError(t, err)
}

func TestCheckTrade_NoLimitsConfigured(t *testing.T) {
	m := newManager(t, Limits{})

	ok, reason := m.CheckTrade(types.SignalBuy, "MNQ", 100, "momentum", nil)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestCheckTrade_PerStrategyLimit(t *testing.T) {
	m := newManager(t, Limits{MaxPositionPerStrategy: 5})

	positions := map[string]map[string]int{
		"momentum": {"MNQ": 2, "MES": -2},
	}

	// 4 held (abs of both legs) + 1 = 5, exactly at the cap.
	ok, _ := m.CheckTrade(types.SignalBuy, "MNQ", 1, "momentum", positions)
	assert.True(t, ok)

	ok, reason := m.CheckTrade(types.SignalBuy, "MNQ", 2, "momentum", positions)
	assert.False(t, ok)
	assert.Contains(t, reason, "position limit")

	// Other strategies are unaffected.
	ok, _ = m.CheckTrade(types.SignalBuy, "MNQ", 2, "meanrev", positions)
	assert.True(t, ok)
}

func TestCheckTrade_PerSymbolLimitAcrossStrategies(t *testing.T) {
	m := newManager(t, Limits{MaxPositionPerSymbol: 4})

	positions := map[string]map[string]int{
		"momentum": {"MNQ": 2},
		"meanrev":  {"MNQ": -1, "MES": 3},
	}

	// MNQ exposure is 3 across strategies; MES does not count.
	ok, _ := m.CheckTrade(types.SignalBuy, "MNQ", 1, "breakout", positions)
	assert.True(t, ok)

	ok, reason := m.CheckTrade(types.SignalShort, "MNQ", 2, "breakout", positions)
	assert.False(t, ok)
	assert.Contains(t, reason, `Symbol "MNQ"`)
}

func TestCheckTrade_PortfolioLimit(t *testing.T) {
	m := newManager(t, Limits{MaxPortfolioPosition: 6})

	positions := map[string]map[string]int{
		"momentum": {"MNQ": 3},
		"meanrev":  {"MES": -2},
	}

	ok, _ := m.CheckTrade(types.SignalBuy, "MGC", 1, "gold", positions)
	assert.True(t, ok)

	ok, reason := m.CheckTrade(types.SignalBuy, "MGC", 2, "gold", positions)
	assert.False(t, ok)
	assert.Contains(t, reason, "Portfolio position limit")
}

func TestCheckTrade_ExitsBypassPositionLimits(t *testing.T) {
	m := newManager(t, Limits{MaxPositionPerSymbol: 1})

	positions := map[string]map[string]int{
		"momentum": {"MNQ": 5},
	}

	ok, _ := m.CheckTrade(types.SignalSell, "MNQ", 5, "momentum", positions)
	assert.True(t, ok)

	ok, _ = m.CheckTrade(types.SignalCover, "MNQ", 5, "momentum", positions)
	assert.True(t, ok)
}

func TestRecordTradePnL_TripsAtFloor(t *testing.T) {
	m := newManager(t, Limits{MaxDailyLoss: -500.0})

	m.RecordTradePnL(-300.0)
	assert.False(t, m.IsTripped())

	m.RecordTradePnL(-250.0)
	assert.True(t, m.IsTripped(), "-550 breaches the -500 floor")

	ok, reason := m.CheckTrade(types.SignalBuy, "MNQ", 1, "momentum", nil)
	assert.False(t, ok)
	assert.Contains(t, reason, "Circuit breaker tripped")

	// Exits are rejected too while tripped.
	ok, _ = m.CheckTrade(types.SignalSell, "MNQ", 1, "momentum", nil)
	assert.False(t, ok)
}

func TestRecordTradePnL_ProfitOffsetsLoss(t *testing.T) {
	m := newManager(t, Limits{MaxDailyLoss: -500.0})

	m.RecordTradePnL(-400.0)
	m.RecordTradePnL(200.0)
	m.RecordTradePnL(-250.0)
	assert.False(t, m.IsTripped(), "net -450 is above the floor")
	assert.InDelta(t, -450.0, m.DailyPnL(), 1e-9)
}

func TestCheckDrawdown(t *testing.T) {
	m := newManager(t, Limits{MaxDailyLoss: -100.0})

	breached, _ := m.CheckDrawdown()
	assert.False(t, breached)

	m.RecordTradePnL(-100.0)
	breached, reason := m.CheckDrawdown()
	assert.True(t, breached)
	assert.Contains(t, reason, "-100.00")
}

func TestResetCircuitBreaker(t *testing.T) {
	m := newManager(t, Limits{MaxDailyLoss: -100.0})

	m.RecordTradePnL(-150.0)
	require.True(t, m.IsTripped())

	m.ResetCircuitBreaker()
	assert.False(t, m.IsTripped())

	// Still below the floor, so the next check re-trips.
	ok, reason := m.CheckTrade(types.SignalBuy, "MNQ", 1, "momentum", nil)
	assert.False(t, ok)
	assert.Contains(t, reason, "Daily loss limit breached")
	assert.True(t, m.IsTripped())
}

func TestDailyRollover_ResetsBreakerAndPnL(t *testing.T) {
	m := newManager(t, Limits{MaxDailyLoss: -100.0})

	current := time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }
	m.dailyDate = current.UTC().Format("2006-01-02")

	m.RecordTradePnL(-200.0)
	require.True(t, m.IsTripped())

	current = current.Add(4 * time.Hour) // past midnight UTC

	ok, _ := m.CheckTrade(types.SignalBuy, "MNQ", 1, "momentum", nil)
	assert.True(t, ok, "new day re-arms the breaker")
	assert.Zero(t, m.DailyPnL())
	assert.False(t, m.IsTripped())
}

func TestTripCallback_Invoked(t *testing.T) {
	m := newManager(t, Limits{MaxDailyLoss: -100.0})

	var got string
	m.SetTripCallback(func(reason string) { got = reason })

	m.RecordTradePnL(-150.0)
	assert.Contains(t, got, "Daily loss limit breached")
}

func TestTripCallback_PanicRecovered(t *testing.T) {
	m := newManager(t, Limits{MaxDailyLoss: -100.0})
	m.SetTripCallback(func(string) { panic("flatten failed") })

	assert.NotPanics(t, func() { m.RecordTradePnL(-150.0) })
	assert.True(t, m.IsTripped())
}

func TestGetStatus(t *testing.T) {
	m := newManager(t, Limits{MaxDailyLoss: -500.0, MaxPositionPerSymbol: 3})

	m.RecordTradePnL(-50.0)
	st := m.GetStatus()
	assert.False(t, st.CircuitBreakerTripped)
	assert.InDelta(t, -50.0, st.DailyPnL, 1e-9)
	assert.Equal(t, 3, st.Limits.MaxPositionPerSymbol)
	assert.NotEmpty(t, st.DailyPnLDate)
}
