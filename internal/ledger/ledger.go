package ledger

import (
	"log"
	"sync"
	"time"

	"github.com/quantfold/sigflow/pkg/types"
)

// Key identifies one position leg.
type Key struct {
	Symbol   string
	Strategy string
}

// Position is one open leg: signed size and weighted-average entry price.
type Position struct {
	Size        int
	AvgPrice    float64
	RealizedPnL float64 // accumulated realized P&L for this leg
}

// RealizedEntry is one realized P&L event.
type RealizedEntry struct {
	Time     time.Time
	Strategy string
	Symbol   string
	PnL      float64
}

// Ledger is the authoritative signed-position/avg-price record per
// (symbol, strategy). All methods are safe for concurrent use. The
// ledger does no I/O; fills are applied by the pipeline after an
// execution engine reports them.
type Ledger struct {
	mu           sync.Mutex
	positions    map[Key]*Position
	marketPrices map[string]float64
	realizedLog  []RealizedEntry
}

func New() *Ledger {
	return &Ledger{
		positions:    make(map[Key]*Position),
		marketPrices: make(map[string]float64),
	}
}

// Apply applies a fill to the (symbol, strategy) leg and returns the
// realized P&L of the closed portion, if any.
func (l *Ledger) Apply(strategy, symbol string, signalType types.SignalType, size int, fillPrice float64) FillResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key{Symbol: symbol, Strategy: strategy}
	pos := l.positions[key]
	if pos == nil {
		pos = &Position{}
		l.positions[key] = pos
	}

	res := ApplyFill(pos.Size, pos.AvgPrice, signalType.Direction(), size, fillPrice)
	pos.Size = res.Size
	pos.AvgPrice = res.AvgPrice
	if res.Reduced {
		pos.RealizedPnL += res.Realized
		l.realizedLog = append(l.realizedLog, RealizedEntry{
			Time:     time.Now().UTC(),
			Strategy: strategy,
			Symbol:   symbol,
			PnL:      res.Realized,
		})
	}

	// Flat legs with no realized history drop out of the book entirely.
	if pos.Size == 0 && pos.RealizedPnL == 0 {
		delete(l.positions, key)
	}

	log.Printf("Position updated: %s/%s %s %d @ %.2f -> size=%d avg=%.2f (realized=%.2f)",
		strategy, symbol, signalType, size, fillPrice, res.Size, res.AvgPrice, res.Realized)

	return res
}

// Get returns the current position for a strategy/symbol pair (zero
// value when flat).
func (l *Ledger) Get(strategy, symbol string) Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos := l.positions[Key{Symbol: symbol, Strategy: strategy}]; pos != nil {
		return *pos
	}
	return Position{}
}

// SizeSnapshot returns the flat (symbol, strategy) -> signed size view
// consumed by the portfolio aggregator.
func (l *Ledger) SizeSnapshot() map[Key]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Key]int, len(l.positions))
	for k, pos := range l.positions {
		if pos.Size != 0 {
			out[k] = pos.Size
		}
	}
	return out
}

// ByStrategy returns the nested strategy -> symbol -> signed size view
// consumed by the risk gate.
func (l *Ledger) ByStrategy() map[string]map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]map[string]int)
	for k, pos := range l.positions {
		if pos.Size == 0 {
			continue
		}
		syms := out[k.Strategy]
		if syms == nil {
			syms = make(map[string]int)
			out[k.Strategy] = syms
		}
		syms[k.Symbol] = pos.Size
	}
	return out
}

// BySymbol returns total absolute exposure per symbol across strategies.
func (l *Ledger) BySymbol() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int)
	for k, pos := range l.positions {
		out[k.Symbol] += abs(pos.Size)
	}
	return out
}

// PortfolioTotal returns the total absolute exposure across everything.
func (l *Ledger) PortfolioTotal() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, pos := range l.positions {
		total += abs(pos.Size)
	}
	return total
}

// UpdateMarketPrice records the latest price used for unrealized P&L.
func (l *Ledger) UpdateMarketPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marketPrices[symbol] = price
}

// UnrealizedPnL computes mark-to-market P&L for one leg. Returns 0 when
// flat or when no market price has been seen for the symbol.
func (l *Ledger) UnrealizedPnL(strategy, symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos := l.positions[Key{Symbol: symbol, Strategy: strategy}]
	if pos == nil {
		return 0
	}
	return l.unrealizedLocked(pos, symbol)
}

// Summary is a portfolio-wide snapshot.
type Summary struct {
	OpenPositions int
	UnrealizedPnL float64
	RealizedPnL   float64
	Strategies    map[string]StrategySummary
}

// StrategySummary is the per-strategy breakdown inside a Summary.
type StrategySummary struct {
	OpenPositions int
	UnrealizedPnL float64
	RealizedPnL   float64
}

// Snapshot returns the portfolio summary: open leg count and aggregate
// unrealized/realized P&L, with a per-strategy breakdown.
func (l *Ledger) Snapshot() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := Summary{Strategies: make(map[string]StrategySummary)}
	for k, pos := range l.positions {
		s := sum.Strategies[k.Strategy]
		if pos.Size != 0 {
			s.OpenPositions++
			s.UnrealizedPnL += l.unrealizedLocked(pos, k.Symbol)
		}
		s.RealizedPnL += pos.RealizedPnL
		sum.Strategies[k.Strategy] = s
	}
	for _, s := range sum.Strategies {
		sum.OpenPositions += s.OpenPositions
		sum.UnrealizedPnL += s.UnrealizedPnL
		sum.RealizedPnL += s.RealizedPnL
	}
	return sum
}

// DailyRealizedPnL sums realized entries recorded today (UTC).
func (l *Ledger) DailyRealizedPnL() float64 {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0.0
	for _, e := range l.realizedLog {
		if !e.Time.Before(today) {
			total += e.PnL
		}
	}
	return total
}

func (l *Ledger) unrealizedLocked(pos *Position, symbol string) float64 {
	if pos.Size == 0 || pos.AvgPrice == 0 {
		return 0
	}
	price, ok := l.marketPrices[symbol]
	if !ok {
		return 0
	}
	if pos.Size > 0 {
		return (price - pos.AvgPrice) * float64(pos.Size)
	}
	return (pos.AvgPrice - price) * float64(abs(pos.Size))
}
