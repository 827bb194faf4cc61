package executor

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfold/sigflow/internal/ledger"
	"github.com/quantfold/sigflow/pkg/types"
)

// SimConfig tunes the simulated fill model.
type SimConfig struct {
	// FillDelay is the artificial latency between dequeue and fill.
	FillDelay time.Duration
	// MaxSlippageTicks bounds the uniform adverse slippage applied to
	// every fill. 0 disables slippage.
	MaxSlippageTicks int
	// TickSize is the instrument's minimum price increment.
	TickSize float64
}

// simPosition is one simulated account leg, keyed by symbol.
type simPosition struct {
	size int
	avg  float64
}

// SimStats is a snapshot of the simulated session.
type SimStats struct {
	Executed    int     `json:"executed"`
	Disabled    int     `json:"disabled"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// SimulatedEngine fills every request instantly against a synthetic
// account, with configurable latency and adverse slippage. It keeps
// its own position book so that paper sessions report a P&L without
// any gateway involvement.
type SimulatedEngine struct {
	cfg SimConfig

	queue   *requestQueue
	results *resultBuffer

	killed atomic.Bool
	alive  atomic.Bool
	stopCh chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	positions map[string]*simPosition
	realized  float64
	executed  int
	disabled  int
	nextOrder int64

	rng *rand.Rand
}

// NewSimulatedEngine builds a paper executor. TickSize must be
// positive when slippage is enabled.
func NewSimulatedEngine(cfg SimConfig) (*SimulatedEngine, error) {
	if cfg.MaxSlippageTicks < 0 {
		return nil, fmt.Errorf("max slippage ticks must be non-negative, got %d", cfg.MaxSlippageTicks)
	}
	if cfg.MaxSlippageTicks > 0 && cfg.TickSize <= 0 {
		return nil, fmt.Errorf("tick size must be positive when slippage is enabled")
	}

	return &SimulatedEngine{
		cfg:       cfg,
		queue:     newRequestQueue(),
		results:   &resultBuffer{},
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		positions: make(map[string]*simPosition),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Start launches the worker goroutine. Never fails for the simulator.
func (e *SimulatedEngine) Start() error {
	e.alive.Store(true)
	go e.run()
	log.Printf("Simulated executor started (fill_delay=%s, max_slippage_ticks=%d)",
		e.cfg.FillDelay, e.cfg.MaxSlippageTicks)
	return nil
}

// Stop signals the worker and waits up to five seconds for it to join.
func (e *SimulatedEngine) Stop() {
	close(e.stopCh)
	e.queue.Close()
	select {
	case <-e.done:
	case <-time.After(5 * time.Second):
		log.Printf("Simulated executor worker did not stop in time")
	}
}

// SubmitTrade enqueues a request without blocking. The flatten
// sentinel also engages the kill switch so no further trades execute
// once the close-out is requested.
func (e *SimulatedEngine) SubmitTrade(req types.TradeRequest) {
	flatten := req.Symbol == FlattenSymbol
	if flatten {
		e.killed.Store(true)
		log.Printf("Simulated executor kill switch ON (flatten requested)")
	}
	e.queue.Push(submission{req: req, flatten: flatten})
}

// Results drains all completed results without blocking.
func (e *SimulatedEngine) Results() []types.TradeResult {
	return e.results.Drain()
}

// Kill toggles the kill switch.
func (e *SimulatedEngine) Kill(on bool) {
	e.killed.Store(on)
	if on {
		log.Printf("Simulated executor kill switch ON")
	} else {
		log.Printf("Simulated executor kill switch OFF")
	}
}

// IsAlive reports whether the worker is running.
func (e *SimulatedEngine) IsAlive() bool { return e.alive.Load() }

// Enabled reports whether the kill switch is off.
func (e *SimulatedEngine) Enabled() bool { return !e.killed.Load() }

// Stats returns a snapshot of the simulated session.
func (e *SimulatedEngine) Stats() SimStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SimStats{
		Executed:    e.executed,
		Disabled:    e.disabled,
		RealizedPnL: e.realized,
	}
}

// Positions returns the simulated book as symbol -> signed size.
func (e *SimulatedEngine) Positions() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.positions))
	for sym, p := range e.positions {
		if p.size != 0 {
			out[sym] = p.size
		}
	}
	return out
}

func (e *SimulatedEngine) run() {
	defer close(e.done)
	defer e.alive.Store(false)

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		sub, ok := e.queue.PopWait(time.Second)
		if !ok {
			continue
		}

		// Flatten outranks the kill switch: the close-out must run
		// even when trading is disabled.
		if sub.flatten {
			e.flattenAll()
			continue
		}

		if e.killed.Load() {
			e.results.Append(disabledResult(sub.req))
			e.mu.Lock()
			e.disabled++
			e.mu.Unlock()
			continue
		}

		e.results.Append(e.execute(sub.req))
	}
}

// execute fills a single request against the synthetic book.
func (e *SimulatedEngine) execute(req types.TradeRequest) types.TradeResult {
	started := time.Now()

	if e.cfg.FillDelay > 0 {
		time.Sleep(e.cfg.FillDelay)
	}

	fillPrice := e.slip(req.Price, req.SignalType.Direction())
	orderID := fmt.Sprintf("SIM-%d", atomic.AddInt64(&e.nextOrder, 1))

	e.mu.Lock()
	pos, ok := e.positions[req.Symbol]
	if !ok {
		pos = &simPosition{}
		e.positions[req.Symbol] = pos
	}
	fill := ledger.ApplyFill(pos.size, pos.avg, req.SignalType.Direction(), req.Size, fillPrice)
	pos.size = fill.Size
	pos.avg = fill.AvgPrice
	e.realized += fill.Realized
	e.executed++
	e.mu.Unlock()

	log.Printf("SIM FILL %s %s %d @ %.2f (order %s)", req.SignalType, req.Symbol, req.Size, fillPrice, orderID)

	return types.TradeResult{
		Request:    req,
		Success:    true,
		OrderID:    orderID,
		FillPrice:  fillPrice,
		Status:     types.TradeStatusFilled,
		Elapsed:    time.Since(started),
		ExecutedAt: time.Now(),
	}
}

// flattenAll closes every open simulated leg at its average price.
// Best effort like the live engine: logged, no results emitted.
func (e *SimulatedEngine) flattenAll() {
	e.mu.Lock()
	open := make(map[string]simPosition, len(e.positions))
	for sym, p := range e.positions {
		if p.size != 0 {
			open[sym] = *p
		}
	}
	e.mu.Unlock()

	if len(open) == 0 {
		log.Printf("SIM FLATTEN: no open positions")
		return
	}

	for sym, p := range open {
		st := types.SignalSell
		if p.size < 0 {
			st = types.SignalCover
		}
		size := p.size
		if size < 0 {
			size = -size
		}
		e.execute(types.TradeRequest{
			SignalType:   st,
			Symbol:       sym,
			Size:         size,
			Price:        p.avg,
			StrategyName: "flatten",
			Timestamp:    time.Now(),
		})
	}
	log.Printf("SIM FLATTEN: closed %d positions", len(open))
}

// slip applies uniform adverse slippage rounded to the tick grid.
// Buys and covers fill higher, sells and shorts fill lower.
func (e *SimulatedEngine) slip(price float64, direction int) float64 {
	if e.cfg.MaxSlippageTicks == 0 {
		return price
	}

	e.mu.Lock()
	ticks := e.rng.Intn(e.cfg.MaxSlippageTicks + 1)
	e.mu.Unlock()

	slipped := price + float64(direction*ticks)*e.cfg.TickSize
	return math.Round(slipped/e.cfg.TickSize) * e.cfg.TickSize
}

func disabledResult(req types.TradeRequest) types.TradeResult {
	return types.TradeResult{
		Request:      req,
		Success:      false,
		Status:       types.TradeStatusDisabled,
		ErrorMessage: "executor disabled by kill switch",
		ExecutedAt:   time.Now(),
	}
}
