// Package risk is the pre-trade gate between signal aggregation and
// order execution. Every trade request passes through Manager.CheckTrade
// before reaching an execution engine. It enforces position limits and a
// daily-loss circuit breaker.
package risk

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/quantfold/sigflow/pkg/types"
)

// Limits holds the risk thresholds. Position caps of 0 mean unlimited.
// MaxDailyLoss is a negative floor (e.g. -500.0); 0 disables it.
type Limits struct {
	MaxPositionPerStrategy int
	MaxPositionPerSymbol   int
	MaxPortfolioPosition   int
	MaxDailyLoss           float64
}

// TripCallback is invoked when the circuit breaker trips. Panics inside
// the callback are recovered and logged, never propagated.
type TripCallback func(reason string)

// Manager is the thread-safe risk gate. One coarse mutex serializes
// every state transition: check, P&L recording, and daily rotation
// never interleave.
//
// Circuit breaker state machine: Armed -> Tripped on a daily-loss
// breach, Tripped -> Armed on manual reset or UTC day rollover. No
// other transitions exist.
type Manager struct {
	mu     sync.Mutex
	limits Limits

	tripped    bool
	trippedWhy string
	dailyPnL   float64
	dailyDate  string // "2006-01-02" in UTC
	onTrip     TripCallback
	now        func() time.Time
}

// NewManager validates the limits and builds a risk gate. A positive
// daily-loss floor is a configuration error.
func NewManager(limits Limits) (*Manager, error) {
	if limits.MaxPositionPerStrategy < 0 || limits.MaxPositionPerSymbol < 0 || limits.MaxPortfolioPosition < 0 {
		return nil, fmt.Errorf("position limits must be non-negative")
	}
	if limits.MaxDailyLoss > 0 {
		return nil, fmt.Errorf("max daily loss must be negative (a loss floor), got %.2f", limits.MaxDailyLoss)
	}

	m := &Manager{
		limits: limits,
		now:    time.Now,
	}
	m.dailyDate = m.now().UTC().Format("2006-01-02")

	log.Printf("RiskManager initialized: max_per_strategy=%d, max_per_symbol=%d, max_portfolio=%d, max_daily_loss=%.2f",
		limits.MaxPositionPerStrategy, limits.MaxPositionPerSymbol, limits.MaxPortfolioPosition, limits.MaxDailyLoss)
	return m, nil
}

// SetTripCallback registers the circuit-breaker observer. Stored once;
// invoked under the manager's lock discipline.
func (m *Manager) SetTripCallback(cb TripCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrip = cb
}

// CheckTrade reports whether a proposed trade is allowed. positions is
// the ledger's nested strategy -> symbol -> signed size view.
//
// Check order: daily rotation, tripped breaker, already-breached loss
// floor, exit bypass, then per-strategy / per-symbol / portfolio caps.
// While the breaker is tripped even exits are rejected.
func (m *Manager) CheckTrade(signalType types.SignalType, symbol string, size int, strategyName string, positions map[string]map[string]int) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotateDailyPnL()

	if m.tripped {
		return false, fmt.Sprintf("Circuit breaker tripped: %s", m.trippedWhy)
	}

	if m.limits.MaxDailyLoss < 0 && m.dailyPnL <= m.limits.MaxDailyLoss {
		m.trip(fmt.Sprintf("Daily loss limit breached: $%.2f <= $%.2f", m.dailyPnL, m.limits.MaxDailyLoss))
		return false, fmt.Sprintf("Circuit breaker tripped: %s", m.trippedWhy)
	}

	if signalType.IsExit() {
		// Reducing exposure is always allowed once the breaker checks pass.
		return true, ""
	}

	if limit := m.limits.MaxPositionPerStrategy; limit > 0 {
		total := 0
		for _, sz := range positions[strategyName] {
			total += absInt(sz)
		}
		if total+size > limit {
			return false, fmt.Sprintf("Strategy %q position limit: %d + %d > %d", strategyName, total, size, limit)
		}
	}

	if limit := m.limits.MaxPositionPerSymbol; limit > 0 {
		total := 0
		for _, syms := range positions {
			total += absInt(syms[symbol])
		}
		if total+size > limit {
			return false, fmt.Sprintf("Symbol %q position limit: %d + %d > %d", symbol, total, size, limit)
		}
	}

	if limit := m.limits.MaxPortfolioPosition; limit > 0 {
		total := 0
		for _, syms := range positions {
			for _, sz := range syms {
				total += absInt(sz)
			}
		}
		if total+size > limit {
			return false, fmt.Sprintf("Portfolio position limit: %d + %d > %d", total, size, limit)
		}
	}

	return true, ""
}

// RecordTradePnL adds a realized trade P&L to the daily total and trips
// the breaker if the loss floor is breached.
func (m *Manager) RecordTradePnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotateDailyPnL()
	m.dailyPnL += pnl
	log.Printf("Daily P&L updated: %.2f (trade: %.2f)", m.dailyPnL, pnl)

	if m.limits.MaxDailyLoss < 0 && m.dailyPnL <= m.limits.MaxDailyLoss {
		m.trip(fmt.Sprintf("Daily loss limit breached: $%.2f <= $%.2f", m.dailyPnL, m.limits.MaxDailyLoss))
	}
}

// CheckDrawdown reports whether the daily loss floor is breached.
func (m *Manager) CheckDrawdown() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotateDailyPnL()
	if m.limits.MaxDailyLoss < 0 && m.dailyPnL <= m.limits.MaxDailyLoss {
		return true, fmt.Sprintf("Daily P&L: $%.2f <= limit $%.2f", m.dailyPnL, m.limits.MaxDailyLoss)
	}
	return false, ""
}

// ResetCircuitBreaker manually re-arms a tripped breaker (operator
// action, e.g. after review).
func (m *Manager) ResetCircuitBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripped = false
	m.trippedWhy = ""
	log.Printf("Circuit breaker manually reset")
}

// IsTripped reports whether the circuit breaker has tripped.
func (m *Manager) IsTripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped
}

// DailyPnL returns today's accumulated realized P&L.
func (m *Manager) DailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateDailyPnL()
	return m.dailyPnL
}

// Status is a read-only snapshot of the risk gate.
type Status struct {
	CircuitBreakerTripped bool    `json:"circuit_breaker_tripped"`
	CircuitBreakerReason  string  `json:"circuit_breaker_reason"`
	DailyPnL              float64 `json:"daily_pnl"`
	DailyPnLDate          string  `json:"daily_pnl_date"`
	Limits                Limits  `json:"limits"`
}

// GetStatus returns the current risk gate state.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateDailyPnL()
	return Status{
		CircuitBreakerTripped: m.tripped,
		CircuitBreakerReason:  m.trippedWhy,
		DailyPnL:              m.dailyPnL,
		DailyPnLDate:          m.dailyDate,
		Limits:                m.limits,
	}
}

// rotateDailyPnL resets the daily window when the UTC date changes and
// auto-clears a tripped breaker. Caller must hold the lock.
func (m *Manager) rotateDailyPnL() {
	today := m.now().UTC().Format("2006-01-02")
	if today == m.dailyDate {
		return
	}
	m.dailyPnL = 0
	m.dailyDate = today
	if m.tripped {
		log.Printf("New trading day - circuit breaker auto-reset")
		m.tripped = false
		m.trippedWhy = ""
	}
}

// trip latches the breaker and notifies the observer. Caller must hold
// the lock.
func (m *Manager) trip(reason string) {
	m.tripped = true
	m.trippedWhy = reason
	log.Printf("CIRCUIT BREAKER TRIPPED: %s", reason)
	if m.onTrip != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Circuit breaker callback panic: %v", r)
				}
			}()
			m.onTrip(reason)
		}()
	}
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
