// Package broker defines the gateway abstraction the live execution
// engine trades through, plus the retry and error-classification
// helpers shared by its implementations.
package broker

import "context"

// OrderSide is the direction of an order at the gateway.
type OrderSide int

const (
	SideBuy  OrderSide = 0
	SideSell OrderSide = 1
)

func (s OrderSide) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// Account is a tradeable account at the gateway.
type Account struct {
	ID       int64
	Name     string
	Balance  float64
	CanTrade bool
}

// Instrument is a resolved tradeable contract.
type Instrument struct {
	ContractID string
	Name       string
	TickSize   float64
	TickValue  float64
}

// Position is an open position snapshot as reported by the gateway.
// Size is signed: positive long, negative short.
type Position struct {
	ContractID   string
	Size         int
	AveragePrice float64
}

// OrderTicket is a market order submission.
type OrderTicket struct {
	AccountID  int64
	ContractID string
	Side       OrderSide
	Size       int
}

// OrderAck is the gateway's immediate response to an order submission.
type OrderAck struct {
	Success      bool
	OrderID      string
	ErrorCode    int
	ErrorMessage string
}

// Order status codes as reported by the gateway's order query.
const (
	OrderStatusOpen      = 1
	OrderStatusFilled    = 2
	OrderStatusCancelled = 3
	OrderStatusRejected  = 5
)

// Order is the state of a previously submitted order.
type Order struct {
	OrderID      string
	Status       int
	FilledSize   int
	AveragePrice float64
}

// Broker is the minimal gateway surface the live engine needs. All
// calls are blocking and honor ctx cancellation.
//
// GetOrderByID returns ErrOrderNotFound once an order has left the
// open-order book; callers treat that as a likely fill and confirm
// against the position snapshot.
type Broker interface {
	Authenticate(ctx context.Context) error
	ListAccounts(ctx context.Context) ([]Account, error)
	SearchInstruments(ctx context.Context, query string) ([]Instrument, error)
	SearchOpenPositions(ctx context.Context, accountID int64) ([]Position, error)
	PlaceMarketOrder(ctx context.Context, ticket OrderTicket) (OrderAck, error)
	GetOrderByID(ctx context.Context, accountID int64, orderID string) (Order, error)
	CancelOrder(ctx context.Context, accountID int64, orderID string) error
}
