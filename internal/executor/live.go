package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/quantfold/sigflow/internal/broker"
	"github.com/quantfold/sigflow/pkg/types"
)

// LiveConfig tunes the live executor.
type LiveConfig struct {
	// Symbol is the instrument search query, e.g. "MNQ".
	Symbol string
	// AccountName selects the trading account; empty picks the first
	// tradeable account.
	AccountName string
	// OrderTimeout bounds how long a market order is polled before a
	// best-effort cancel. Defaults to 30s.
	OrderTimeout time.Duration
	// PollInterval is the delay between order status polls. Defaults
	// to 500ms.
	PollInterval time.Duration
}

// LiveEngine trades through a broker gateway. Start authenticates,
// selects the account and resolves the contract once; afterwards a
// single worker goroutine executes queued requests sequentially.
//
// Execution errors never kill the worker. Every failure mode of a
// request, including gateway errors, surfaces as a TradeResult.
type LiveEngine struct {
	cfg    LiveConfig
	broker broker.Broker

	accountID  int64
	contractID string
	tickSize   float64

	queue   *requestQueue
	results *resultBuffer

	killed atomic.Bool
	alive  atomic.Bool
	stopCh chan struct{}
	done   chan struct{}
}

// NewLiveEngine builds a live executor around a gateway connection.
func NewLiveEngine(b broker.Broker, cfg LiveConfig) (*LiveEngine, error) {
	if b == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	return &LiveEngine{
		cfg:     cfg,
		broker:  b,
		queue:   newRequestQueue(),
		results: &resultBuffer{},
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start authenticates, resolves the account and contract, then launches
// the worker. Any failure here is fatal and the worker never starts.
func (e *LiveEngine) Start() error {
	ctx := context.Background()

	if err := e.broker.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	accounts, err := e.broker.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("account lookup failed: %w", err)
	}
	account, err := selectAccount(accounts, e.cfg.AccountName)
	if err != nil {
		return err
	}
	e.accountID = account.ID

	instruments, err := e.broker.SearchInstruments(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("instrument search failed: %w", err)
	}
	if len(instruments) == 0 {
		return fmt.Errorf("no instrument found for %q", e.cfg.Symbol)
	}
	e.contractID = instruments[0].ContractID
	e.tickSize = instruments[0].TickSize

	e.alive.Store(true)
	go e.run()
	log.Printf("Live executor started: account=%s (%d), contract=%s", account.Name, account.ID, e.contractID)
	return nil
}

// Stop signals the worker and waits up to five seconds for it to join.
func (e *LiveEngine) Stop() {
	close(e.stopCh)
	e.queue.Close()
	select {
	case <-e.done:
	case <-time.After(5 * time.Second):
		log.Printf("Live executor worker did not stop in time")
	}
}

// SubmitTrade enqueues a request without blocking. The flatten
// sentinel also engages the kill switch so no further trades execute
// once the close-out is requested.
func (e *LiveEngine) SubmitTrade(req types.TradeRequest) {
	flatten := req.Symbol == FlattenSymbol
	if flatten {
		e.killed.Store(true)
		log.Printf("Live executor kill switch ON (flatten requested)")
	}
	e.queue.Push(submission{req: req, flatten: flatten})
}

// Results drains all completed results without blocking.
func (e *LiveEngine) Results() []types.TradeResult {
	return e.results.Drain()
}

// Kill toggles the kill switch.
func (e *LiveEngine) Kill(on bool) {
	e.killed.Store(on)
	if on {
		log.Printf("Live executor kill switch ON")
	} else {
		log.Printf("Live executor kill switch OFF")
	}
}

// IsAlive reports whether the worker is running.
func (e *LiveEngine) IsAlive() bool { return e.alive.Load() }

// Enabled reports whether the kill switch is off.
func (e *LiveEngine) Enabled() bool { return !e.killed.Load() }

func (e *LiveEngine) run() {
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
			e.FlattenAll()
			continue
		}

		if e.killed.Load() {
			e.results.Append(disabledResult(sub.req))
			continue
		}

		e.results.Append(e.execute(sub.req))
	}
}

// execute places one market order and waits for its terminal state.
func (e *LiveEngine) execute(req types.TradeRequest) types.TradeResult {
	started := time.Now()
	ctx := context.Background()

	before, err := e.positionSnapshot(ctx)
	if err != nil {
		return errorResult(req, started, fmt.Sprintf("position snapshot failed: %v", err))
	}

	side := broker.SideBuy
	if req.SignalType.Direction() < 0 {
		side = broker.SideSell
	}

	// No retry on placement: a resubmitted market order is a second order.
	ack, err := e.broker.PlaceMarketOrder(ctx, broker.OrderTicket{
		AccountID:  e.accountID,
		ContractID: e.contractID,
		Side:       side,
		Size:       req.Size,
	})
	if err != nil {
		return errorResult(req, started, fmt.Sprintf("order placement failed: %v", err))
	}
	if !ack.Success {
		log.Printf("ORDER REJECTED %s %s %d: %s (code %d)", req.SignalType, req.Symbol, req.Size, ack.ErrorMessage, ack.ErrorCode)
		return types.TradeResult{
			Request:      req,
			Success:      false,
			Status:       types.TradeStatusRejected,
			ErrorMessage: fmt.Sprintf("%s (code %d)", ack.ErrorMessage, ack.ErrorCode),
			Elapsed:      time.Since(started),
			ExecutedAt:   time.Now(),
		}
	}

	log.Printf("ORDER PLACED %s %s %d (order %s)", req.SignalType, req.Symbol, req.Size, ack.OrderID)
	return e.awaitFill(ctx, req, ack.OrderID, before, started)
}

// awaitFill polls the order until filled, rejected, cancelled or timed
// out. An order missing from the open-order book is treated as a
// likely fill and confirmed against the position snapshot.
func (e *LiveEngine) awaitFill(ctx context.Context, req types.TradeRequest, orderID string, before map[string]brokerPos, started time.Time) types.TradeResult {
	deadline := time.Now().Add(e.cfg.OrderTimeout)

	for time.Now().Before(deadline) {
		order, err := e.broker.GetOrderByID(ctx, e.accountID, orderID)
		switch {
		case err == nil:
			switch order.Status {
			case broker.OrderStatusFilled:
				log.Printf("ORDER FILLED %s @ %.2f", orderID, order.AveragePrice)
				return filledResult(req, orderID, order.AveragePrice, started)
			case broker.OrderStatusRejected:
				return types.TradeResult{
					Request:      req,
					Success:      false,
					OrderID:      orderID,
					Status:       types.TradeStatusRejected,
					ErrorMessage: "order rejected by gateway",
					Elapsed:      time.Since(started),
					ExecutedAt:   time.Now(),
				}
			case broker.OrderStatusCancelled:
				return types.TradeResult{
					Request:      req,
					Success:      false,
					OrderID:      orderID,
					Status:       types.TradeStatusCancelled,
					ErrorMessage: "order cancelled",
					Elapsed:      time.Since(started),
					ExecutedAt:   time.Now(),
				}
			}
			// Still open; keep polling.
		case errors.Is(err, broker.ErrOrderNotFound):
			// Gone from the open book. Confirm the fill from the
			// position change and back out the fill price from the
			// average-cost move.
			if price, ok := e.confirmImplicitFill(ctx, req, before); ok {
				log.Printf("ORDER FILLED %s @ %.2f (confirmed via position change)", orderID, price)
				return filledResult(req, orderID, price, started)
			}
			// Position not updated yet; keep polling.
		default:
			log.Printf("Order status query failed for %s: %v", orderID, err)
		}

		time.Sleep(e.cfg.PollInterval)
	}

	// Best-effort cancel; the order may already be gone.
	if err := e.broker.CancelOrder(ctx, e.accountID, orderID); err != nil {
		log.Printf("Cancel after timeout failed for %s: %v", orderID, err)
	}
	return types.TradeResult{
		Request:      req,
		Success:      false,
		OrderID:      orderID,
		Status:       types.TradeStatusTimeout,
		ErrorMessage: fmt.Sprintf("no fill within %s", e.cfg.OrderTimeout),
		Elapsed:      time.Since(started),
		ExecutedAt:   time.Now(),
	}
}

type brokerPos struct {
	size int
	avg  float64
}

// positionSnapshot fetches the open positions keyed by contract,
// retrying transient gateway failures.
func (e *LiveEngine) positionSnapshot(ctx context.Context) (map[string]brokerPos, error) {
	var positions []broker.Position
	err := broker.Retry(ctx, func() error {
		var qerr error
		positions, qerr = e.broker.SearchOpenPositions(ctx, e.accountID)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	snap := make(map[string]brokerPos, len(positions))
	for _, p := range positions {
		snap[p.ContractID] = brokerPos{size: p.Size, avg: p.AveragePrice}
	}
	return snap, nil
}

// confirmImplicitFill compares current positions to the pre-order
// snapshot. If the contract's size moved, the fill price is recovered
// from the weighted-average cost change; for reducing fills the new
// average does not move, so the old average is the best estimate.
func (e *LiveEngine) confirmImplicitFill(ctx context.Context, req types.TradeRequest, before map[string]brokerPos) (float64, bool) {
	after, err := e.positionSnapshot(ctx)
	if err != nil {
		log.Printf("Position confirmation query failed: %v", err)
		return 0, false
	}

	prev := before[e.contractID]
	cur := after[e.contractID]
	delta := cur.size - prev.size
	if delta == 0 {
		return 0, false
	}

	// cur.avg*cur.size = prev.avg*prev.size + price*delta for an
	// increasing position.
	expected := req.SignalType.Direction() * req.Size
	if delta == expected && (prev.size == 0 || sameSign(prev.size, delta)) {
		price := (cur.avg*float64(cur.size) - prev.avg*float64(prev.size)) / float64(delta)
		return price, true
	}

	if prev.avg != 0 {
		return prev.avg, true
	}
	return req.Price, true
}

// FlattenAll closes every open position with opposite-side market
// orders and leaves the kill switch engaged. Best effort: failures
// are logged, never returned, and no TradeResult is emitted.
func (e *LiveEngine) FlattenAll() {
	e.killed.Store(true)
	ctx := context.Background()

	positions, err := e.positionSnapshot(ctx)
	if err != nil {
		log.Printf("FLATTEN: position query failed: %v", err)
		return
	}
	if len(positions) == 0 {
		log.Printf("FLATTEN: no open positions")
		return
	}

	for contractID, pos := range positions {
		if pos.size == 0 {
			continue
		}
		side := broker.SideSell
		size := pos.size
		if size < 0 {
			side = broker.SideBuy
			size = -size
		}
		ack, err := e.broker.PlaceMarketOrder(ctx, broker.OrderTicket{
			AccountID:  e.accountID,
			ContractID: contractID,
			Side:       side,
			Size:       size,
		})
		if err != nil {
			log.Printf("FLATTEN: close order for %s failed: %v", contractID, err)
			continue
		}
		if !ack.Success {
			log.Printf("FLATTEN: close order for %s rejected: %s", contractID, ack.ErrorMessage)
			continue
		}
		log.Printf("FLATTEN: closing %s x%d (order %s)", contractID, size, ack.OrderID)
	}

	// Give the gateway a moment, then report what is still open.
	time.Sleep(2 * time.Second)
	remaining, err := e.positionSnapshot(ctx)
	if err != nil {
		log.Printf("FLATTEN: verification query failed: %v", err)
		return
	}
	open := 0
	for _, p := range remaining {
		if p.size != 0 {
			open++
		}
	}
	if open > 0 {
		log.Printf("FLATTEN: %d positions still open after close attempt", open)
	} else {
		log.Printf("FLATTEN: all positions closed")
	}
}

func selectAccount(accounts []broker.Account, name string) (broker.Account, error) {
	if name != "" {
		for _, a := range accounts {
			if a.Name == name {
				return a, nil
			}
		}
		return broker.Account{}, fmt.Errorf("account %q not found", name)
	}
	for _, a := range accounts {
		if a.CanTrade {
			return a, nil
		}
	}
	return broker.Account{}, fmt.Errorf("no tradeable account available")
}

func filledResult(req types.TradeRequest, orderID string, price float64, started time.Time) types.TradeResult {
	return types.TradeResult{
		Request:    req,
		Success:    true,
		OrderID:    orderID,
		FillPrice:  price,
		Status:     types.TradeStatusFilled,
		Elapsed:    time.Since(started),
		ExecutedAt: time.Now(),
	}
}

func errorResult(req types.TradeRequest, started time.Time, msg string) types.TradeResult {
	log.Printf("EXECUTION ERROR %s %s: %s", req.SignalType, req.Symbol, msg)
	return types.TradeResult{
		Request:      req,
		Success:      false,
		Status:       types.TradeStatusError,
		ErrorMessage: msg,
		Elapsed:      time.Since(started),
		ExecutedAt:   time.Now(),
	}
}

func sameSign(a, b int) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
