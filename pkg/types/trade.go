package types

import "time"

// TradeStatus is the terminal status of a trade request.
type TradeStatus string

const (
	TradeStatusFilled    TradeStatus = "filled"
	TradeStatusRejected  TradeStatus = "rejected"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusTimeout   TradeStatus = "timeout"
	TradeStatusDisabled  TradeStatus = "disabled"
	TradeStatusError     TradeStatus = "error"
)

// TradeRequest is an approved, sized order intent ready for execution.
// Built by the portfolio aggregator from a Signal and consumed exactly
// once by an execution engine. Size is always positive; direction comes
// from SignalType.
type TradeRequest struct {
	SignalType   SignalType `json:"signal_type"`
	Symbol       string     `json:"symbol"`
	Size         int        `json:"size"`
	Price        float64    `json:"price"` // signal reference price, not a limit
	StrategyName string     `json:"strategy_name"`
	Timestamp    time.Time  `json:"timestamp"`
}

// TradeResult is the terminal outcome of one TradeRequest. Exactly one
// result is emitted per submitted request.
type TradeResult struct {
	Request      TradeRequest  `json:"request"`
	Success      bool          `json:"success"`
	OrderID      string        `json:"order_id,omitempty"`
	FillPrice    float64       `json:"fill_price,omitempty"`
	Status       TradeStatus   `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	ExecutedAt   time.Time     `json:"executed_at,omitempty"`
}
