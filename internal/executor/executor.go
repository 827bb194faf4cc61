// Package executor contains the execution engines that turn approved
// trade requests into fills. Both engines share the same shape: a
// single worker goroutine drains an inbound request queue and pushes
// a TradeResult for every dequeued request onto an outbound buffer.
//
// SubmitTrade never blocks the caller and Results never blocks the
// worker; the pipeline loop stays decoupled from execution latency.
package executor

import (
	"sync"
	"time"

	"github.com/quantfold/sigflow/pkg/types"
)

// FlattenSymbol is the sentinel symbol that tells an engine to close
// every open position instead of placing a directional order.
const FlattenSymbol = "__FLATTEN_ALL__"

// Engine is the common surface of the live and simulated executors.
type Engine interface {
	// Start brings up the worker goroutine. Returns an error only on
	// fatal startup failure (e.g. the gateway rejects authentication).
	Start() error
	// Stop asks the worker to finish the in-flight request and exit,
	// waiting a bounded time for it to join.
	Stop()
	// SubmitTrade enqueues a request. Never blocks. Submitting the
	// flatten sentinel also engages the kill switch.
	SubmitTrade(req types.TradeRequest)
	// Results drains and returns all completed results. Never blocks.
	Results() []types.TradeResult
	// Kill toggles the kill switch. While killed the worker still
	// drains the queue but reports every request as disabled; only
	// the flatten sentinel still executes.
	Kill(on bool)
	// IsAlive reports whether the worker goroutine is running.
	IsAlive() bool
	// Enabled reports whether the kill switch is off.
	Enabled() bool
}

// submission wraps a request on the inbound queue. flatten marks the
// close-everything sentinel.
type submission struct {
	req     types.TradeRequest
	flatten bool
}

// requestQueue is an unbounded FIFO. Unbounded is deliberate: the
// submitter must never block, and upstream risk limits bound how many
// requests can be outstanding in practice.
type requestQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []submission
	closed bool
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *requestQueue) Push(s submission) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, s)
	q.cond.Signal()
}

// PopWait dequeues the oldest submission, waiting up to timeout for
// one to arrive. The second return is false on timeout or close.
func (q *requestQueue) PopWait(timeout time.Duration) (submission, bool) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return submission{}, false
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}
	if len(q.items) == 0 {
		return submission{}, false
	}
	s := q.items[0]
	q.items = q.items[1:]
	return s, true
}

func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// resultBuffer accumulates completed trade results until drained.
type resultBuffer struct {
	mu    sync.Mutex
	items []types.TradeResult
}

func (b *resultBuffer) Append(r types.TradeResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, r)
}

// Drain returns everything accumulated so far and empties the buffer.
func (b *resultBuffer) Drain() []types.TradeResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	b.items = nil
	return out
}
