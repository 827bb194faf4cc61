// Package pipeline wires the signal-to-order flow: signals in, through
// the aggregator and risk gate, into an execution engine, with fills
// folded back into the ledger and the risk gate's daily P&L.
package pipeline

import (
	"fmt"
	"log"
	"sync"

	"github.com/quantfold/sigflow/internal/executor"
	"github.com/quantfold/sigflow/internal/ledger"
	"github.com/quantfold/sigflow/internal/logger"
	"github.com/quantfold/sigflow/internal/monitoring"
	"github.com/quantfold/sigflow/internal/portfolio"
	"github.com/quantfold/sigflow/internal/risk"
	"github.com/quantfold/sigflow/pkg/types"
)

// Options assembles a Pipeline. Aggregator, RiskGate and Engine are
// required; SessionLog and Health are optional.
type Options struct {
	Aggregator *portfolio.Aggregator
	RiskGate   *risk.Manager
	Engine     executor.Engine
	SessionLog *logger.Logger
	Health     *monitoring.HealthChecker
	// FlattenOnTrip submits a close-everything request when the
	// circuit breaker trips.
	FlattenOnTrip bool
}

// Pipeline owns the ledger and coordinates one RunCycle/DrainResults
// loop. Not safe for concurrent RunCycle calls; the engine worker runs
// concurrently by design.
type Pipeline struct {
	agg    *portfolio.Aggregator
	gate   *risk.Manager
	book   *ledger.Ledger
	engine executor.Engine
	slog   *logger.Logger
	health *monitoring.HealthChecker

	mu      sync.Mutex
	history []types.TradeResult
}

// New wires the components and installs the circuit-breaker callback.
func New(opts Options) (*Pipeline, error) {
	if opts.Aggregator == nil || opts.RiskGate == nil || opts.Engine == nil {
		return nil, fmt.Errorf("aggregator, risk gate and engine are required")
	}

	p := &Pipeline{
		agg:    opts.Aggregator,
		gate:   opts.RiskGate,
		book:   ledger.New(),
		engine: opts.Engine,
		slog:   opts.SessionLog,
		health: opts.Health,
	}

	flatten := opts.FlattenOnTrip
	p.gate.SetTripCallback(func(reason string) {
		monitoring.UpdateCircuitBreaker(true)
		if p.health != nil {
			p.health.SetBreakerTripped(true)
		}
		if p.slog != nil {
			p.slog.LogCircuitBreaker(reason)
		}
		if flatten {
			p.engine.SubmitTrade(types.TradeRequest{Symbol: executor.FlattenSymbol})
		}
	})

	return p, nil
}

// Ledger exposes the position book for status surfaces.
func (p *Pipeline) Ledger() *ledger.Ledger { return p.book }

// RunCycle resolves one signal batch and submits the approved requests.
// Returns how many requests reached the engine.
func (p *Pipeline) RunCycle(signals []types.Signal) int {
	if len(signals) == 0 {
		return 0
	}

	for _, sig := range signals {
		monitoring.RecordSignal(sig.StrategyName, string(sig.SignalType))
	}

	requests := p.agg.ProcessSignals(signals, p.book.SizeSnapshot())

	submitted := 0
	for _, req := range requests {
		ok, reason := p.gate.CheckTrade(req.SignalType, req.Symbol, req.Size, req.StrategyName, p.book.ByStrategy())
		if !ok {
			log.Printf("RISK REJECT %s %s %d (%s): %s", req.SignalType, req.Symbol, req.Size, req.StrategyName, reason)
			monitoring.RecordRiskRejection(req.StrategyName)
			if p.slog != nil {
				p.slog.Risk("rejected %s %s %d (%s): %s", req.SignalType, req.Symbol, req.Size, req.StrategyName, reason)
			}
			continue
		}
		p.engine.SubmitTrade(req)
		monitoring.RecordRequest(req.Symbol, string(req.SignalType))
		submitted++
	}
	return submitted
}

// DrainResults folds completed fills into the ledger and the risk
// gate's daily P&L, then returns them.
func (p *Pipeline) DrainResults() []types.TradeResult {
	results := p.engine.Results()
	for _, r := range results {
		monitoring.RecordResult(r.Request.Symbol, string(r.Status), r.Elapsed.Seconds())
		if p.health != nil {
			p.health.RecordResult()
		}

		if r.Success {
			fill := p.book.Apply(r.Request.StrategyName, r.Request.Symbol, r.Request.SignalType, r.Request.Size, r.FillPrice)
			if fill.Reduced && fill.Realized != 0 {
				p.gate.RecordTradePnL(fill.Realized)
			}
			monitoring.UpdatePosition(r.Request.Symbol, p.book.BySymbol()[r.Request.Symbol])
		} else if r.Status == types.TradeStatusError {
			monitoring.RecordError("execution")
			if p.health != nil {
				p.health.RecordError(r.ErrorMessage)
			}
		}

		if p.slog != nil {
			p.slog.LogTradeResult(string(r.Request.SignalType), r.Request.Symbol, r.Request.Size, r.FillPrice, r.OrderID, string(r.Status))
		}
	}

	monitoring.UpdateDailyPnL(p.gate.DailyPnL())
	monitoring.UpdateCircuitBreaker(p.gate.IsTripped())
	if p.health != nil {
		p.health.SetBreakerTripped(p.gate.IsTripped())
		p.health.SetExecutorAlive(p.engine.IsAlive())
	}

	if len(results) > 0 {
		p.mu.Lock()
		p.history = append(p.history, results...)
		p.mu.Unlock()
	}
	return results
}

// Kill toggles the engine's kill switch.
func (p *Pipeline) Kill(on bool) {
	p.engine.Kill(on)
}

// FlattenAll submits the close-everything sentinel. The engine
// disables further trading as part of the request; re-enabling takes
// an explicit Kill(false).
func (p *Pipeline) FlattenAll() {
	p.engine.SubmitTrade(types.TradeRequest{Symbol: executor.FlattenSymbol})
}

// ResetCircuitBreaker re-arms the risk gate.
func (p *Pipeline) ResetCircuitBreaker() {
	p.gate.ResetCircuitBreaker()
	monitoring.UpdateCircuitBreaker(false)
	if p.health != nil {
		p.health.SetBreakerTripped(false)
	}
}

// Status is the combined pipeline snapshot.
type Status struct {
	Portfolio ledger.Summary `json:"portfolio"`
	Risk      risk.Status    `json:"risk"`
	Alive     bool           `json:"executor_alive"`
	Enabled   bool           `json:"executor_enabled"`
}

// Status returns the combined snapshot.
func (p *Pipeline) Status() Status {
	return Status{
		Portfolio: p.book.Snapshot(),
		Risk:      p.gate.GetStatus(),
		Alive:     p.engine.IsAlive(),
		Enabled:   p.engine.Enabled(),
	}
}

// History returns every result drained so far, for session reports.
func (p *Pipeline) History() []types.TradeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.TradeResult, len(p.history))
	copy(out, p.history)
	return out
}
