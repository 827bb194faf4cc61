// Package portfolio reconciles signals from multiple strategy scanners
// into a net list of trade requests.
//
// Resolution modes:
//
//	additive — each strategy trades independently; all signals pass.
//	priority — for each symbol only the highest-priority strategy's
//	           signals are kept (lowest priority value wins; ties break
//	           alphabetically by strategy name).
//	veto     — any Short signal for a symbol blocks all Buy signals for
//	           that symbol in the same batch. Sell and Cover always pass.
package portfolio

import (
	"fmt"
	"log"

	"github.com/quantfold/sigflow/internal/ledger"
	"github.com/quantfold/sigflow/pkg/types"
)

// ResolutionMode selects the cross-strategy conflict policy.
type ResolutionMode string

const (
	ModeAdditive ResolutionMode = "additive"
	ModePriority ResolutionMode = "priority"
	ModeVeto     ResolutionMode = "veto"
)

// defaultPriority applies to strategies absent from the priority map.
const defaultPriority = 999

// Config holds aggregator settings. Position caps of 0 mean unlimited.
type Config struct {
	Mode                   ResolutionMode
	StrategyPriorities     map[string]int
	DefaultSize            int
	MaxPositionPerStrategy int
	MaxPositionPerSymbol   int
	MaxPortfolioPosition   int
}

// Aggregator converts raw signals into conflict-resolved, limit-checked
// trade requests. Stateless between calls; safe to share.
type Aggregator struct {
	cfg Config
}

// New validates the configuration and builds an aggregator. An unknown
// resolution mode or non-positive default size is a configuration error
// and fails here, never at call time.
func New(cfg Config) (*Aggregator, error) {
	switch cfg.Mode {
	case ModeAdditive, ModePriority, ModeVeto:
	default:
		return nil, fmt.Errorf("invalid resolution mode %q: must be additive, priority, or veto", cfg.Mode)
	}
	if cfg.DefaultSize <= 0 {
		return nil, fmt.Errorf("default order size must be positive, got %d", cfg.DefaultSize)
	}
	if cfg.MaxPositionPerStrategy < 0 || cfg.MaxPositionPerSymbol < 0 || cfg.MaxPortfolioPosition < 0 {
		return nil, fmt.Errorf("position caps must be non-negative")
	}

	log.Printf("Aggregator initialized: mode=%s, default_size=%d, max_per_strategy=%d, max_per_symbol=%d, max_portfolio=%d",
		cfg.Mode, cfg.DefaultSize, cfg.MaxPositionPerStrategy, cfg.MaxPositionPerSymbol, cfg.MaxPortfolioPosition)

	return &Aggregator{cfg: cfg}, nil
}

// ProcessSignals resolves conflicts and applies position limits.
// positions is the ledger's (symbol, strategy) -> signed size snapshot.
func (a *Aggregator) ProcessSignals(signals []types.Signal, positions map[ledger.Key]int) []types.TradeRequest {
	if len(signals) == 0 {
		return []types.TradeRequest{}
	}

	var requests []types.TradeRequest
	switch a.cfg.Mode {
	case ModePriority:
		requests = a.resolvePriority(signals)
	case ModeVeto:
		requests = a.resolveVeto(signals)
	default:
		requests = a.resolveAdditive(signals)
	}

	requests = a.applyPositionLimits(requests, positions)

	log.Printf("Aggregation complete: %d signal(s) in -> %d request(s) out", len(signals), len(requests))
	return requests
}

func (a *Aggregator) resolveAdditive(signals []types.Signal) []types.TradeRequest {
	requests := make([]types.TradeRequest, 0, len(signals))
	for _, sig := range signals {
		requests = append(requests, a.toRequest(sig))
	}
	return requests
}

func (a *Aggregator) resolvePriority(signals []types.Signal) []types.TradeRequest {
	// Group signals by symbol, preserving input order within groups.
	bySymbol := make(map[string][]types.Signal)
	var symbols []string
	for _, sig := range signals {
		if _, seen := bySymbol[sig.Symbol]; !seen {
			symbols = append(symbols, sig.Symbol)
		}
		bySymbol[sig.Symbol] = append(bySymbol[sig.Symbol], sig)
	}

	var requests []types.TradeRequest
	for _, symbol := range symbols {
		group := bySymbol[symbol]
		winPrio, winName := a.sortKey(group[0])
		for _, sig := range group[1:] {
			prio, name := a.sortKey(sig)
			if prio < winPrio || (prio == winPrio && name < winName) {
				winPrio, winName = prio, name
			}
		}
		for _, sig := range group {
			prio, name := a.sortKey(sig)
			if prio == winPrio && name == winName {
				requests = append(requests, a.toRequest(sig))
			} else {
				log.Printf("Priority: dropped %s %s from %q (outranked by %q)",
					sig.SignalType, sig.Symbol, sig.StrategyName, winName)
			}
		}
	}
	return requests
}

func (a *Aggregator) resolveVeto(signals []types.Signal) []types.TradeRequest {
	// Batch-scoped: only Shorts in this batch veto Buys; open short
	// positions from earlier batches are deliberately not consulted.
	shorted := make(map[string]bool)
	for _, sig := range signals {
		if sig.SignalType == types.SignalShort {
			shorted[sig.Symbol] = true
		}
	}

	var requests []types.TradeRequest
	for _, sig := range signals {
		if sig.SignalType == types.SignalBuy && shorted[sig.Symbol] {
			log.Printf("Veto: blocked Buy %s from %q (Short signal exists for symbol)",
				sig.Symbol, sig.StrategyName)
			continue
		}
		requests = append(requests, a.toRequest(sig))
	}
	return requests
}

// applyPositionLimits drops entry requests that would breach a cap.
// Tallies start from the ledger snapshot and advance as requests are
// admitted, so earlier requests have priority for scarce capacity.
// Exit requests always pass.
func (a *Aggregator) applyPositionLimits(requests []types.TradeRequest, positions map[ledger.Key]int) []types.TradeRequest {
	perStrategy := make(map[ledger.Key]int)
	perSymbol := make(map[string]int)
	portfolioTotal := 0
	for key, size := range positions {
		perStrategy[key] = absInt(size)
		perSymbol[key.Symbol] += absInt(size)
		portfolioTotal += absInt(size)
	}

	filtered := make([]types.TradeRequest, 0, len(requests))
	for _, req := range requests {
		if req.SignalType.IsExit() {
			filtered = append(filtered, req)
			continue
		}

		key := ledger.Key{Symbol: req.Symbol, Strategy: req.StrategyName}
		newStrategy := perStrategy[key] + req.Size
		newSymbol := perSymbol[req.Symbol] + req.Size
		newPortfolio := portfolioTotal + req.Size

		if a.cfg.MaxPositionPerStrategy > 0 && newStrategy > a.cfg.MaxPositionPerStrategy {
			log.Printf("Limit: blocked %s %s from %q (strategy position %d would exceed max %d)",
				req.SignalType, req.Symbol, req.StrategyName, newStrategy, a.cfg.MaxPositionPerStrategy)
			continue
		}
		if a.cfg.MaxPositionPerSymbol > 0 && newSymbol > a.cfg.MaxPositionPerSymbol {
			log.Printf("Limit: blocked %s %s from %q (symbol position %d would exceed max %d)",
				req.SignalType, req.Symbol, req.StrategyName, newSymbol, a.cfg.MaxPositionPerSymbol)
			continue
		}
		if a.cfg.MaxPortfolioPosition > 0 && newPortfolio > a.cfg.MaxPortfolioPosition {
			log.Printf("Limit: blocked %s %s from %q (portfolio position %d would exceed max %d)",
				req.SignalType, req.Symbol, req.StrategyName, newPortfolio, a.cfg.MaxPortfolioPosition)
			continue
		}

		perStrategy[key] = newStrategy
		perSymbol[req.Symbol] = newSymbol
		portfolioTotal = newPortfolio
		filtered = append(filtered, req)
	}

	if len(filtered) < len(requests) {
		log.Printf("Position limits removed %d request(s)", len(requests)-len(filtered))
	}
	return filtered
}

func (a *Aggregator) sortKey(sig types.Signal) (int, string) {
	prio, ok := a.cfg.StrategyPriorities[sig.StrategyName]
	if !ok {
		prio = defaultPriority
	}
	return prio, sig.StrategyName
}

func (a *Aggregator) toRequest(sig types.Signal) types.TradeRequest {
	return types.TradeRequest{
		SignalType:   sig.SignalType,
		Symbol:       sig.Symbol,
		Size:         a.cfg.DefaultSize,
		Price:        sig.ClosePrice,
		StrategyName: sig.StrategyName,
		Timestamp:    sig.Timestamp,
	}
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
