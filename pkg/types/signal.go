package types

import "time"

// SignalType is the directional intent of a strategy signal.
type SignalType string

const (
	SignalBuy   SignalType = "Buy"
	SignalSell  SignalType = "Sell"
	SignalShort SignalType = "Short"
	SignalCover SignalType = "Cover"
)

// Valid reports whether the signal type is one of the four known types.
func (s SignalType) Valid() bool {
	switch s {
	case SignalBuy, SignalSell, SignalShort, SignalCover:
		return true
	}
	return false
}

// IsEntry reports whether the signal increases exposure (Buy or Short).
func (s SignalType) IsEntry() bool {
	return s == SignalBuy || s == SignalShort
}

// IsExit reports whether the signal reduces exposure (Sell or Cover).
// Exits bypass position-limit checks.
func (s SignalType) IsExit() bool {
	return s == SignalSell || s == SignalCover
}

// Direction returns the signed position delta per contract:
// +1 for Buy/Cover (more long), -1 for Sell/Short (more short).
func (s SignalType) Direction() int {
	if s == SignalBuy || s == SignalCover {
		return 1
	}
	return -1
}

// Signal is a directional trade indication produced by an external
// strategy scanner. Immutable once created.
type Signal struct {
	SignalType      SignalType         `json:"signal_type"`
	Symbol          string             `json:"symbol"`
	Timestamp       time.Time          `json:"timestamp"`
	ClosePrice      float64            `json:"close_price"`
	StrategyName    string             `json:"strategy_name"`
	IndicatorValues map[string]float64 `json:"indicator_values,omitempty"`
}
