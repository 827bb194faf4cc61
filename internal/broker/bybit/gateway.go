// Package bybit adapts the Bybit unified trading API to the broker
// gateway interface used by the live execution engine.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/quantfold/sigflow/internal/broker"
)

// Config holds the configuration for the Bybit gateway
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool // Demo trading environment
	// Category is the product category, defaulting to "linear".
	Category string
}

// Gateway implements broker.Broker on the Bybit unified trading API.
// Bybit's unified account model has no sub-account listing, so
// ListAccounts reports the single unified account.
type Gateway struct {
	httpClient *bybit_api.Client
	limiter    *broker.RateLimiter
	category   string
	testnet    bool
	demo       bool
}

// New creates a new Bybit gateway
func New(config Config) *Gateway {
	var baseURL string
	if config.Demo {
		// Demo trading environment (paper trading)
		baseURL = "https://api-demo.bybit.com"
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	category := config.Category
	if category == "" {
		category = "linear"
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &Gateway{
		httpClient: httpClient,
		// Bybit caps trading endpoints at 10 req/s per UID.
		limiter:  broker.NewRateLimiter(10, 10),
		category: category,
		testnet:  config.Testnet,
		demo:     config.Demo,
	}
}

// Environment returns a string describing the current environment
func (g *Gateway) Environment() string {
	if g.demo {
		return "demo"
	} else if g.testnet {
		return "testnet"
	}
	return "mainnet"
}

// Authenticate verifies the credentials with a wallet query.
func (g *Gateway) Authenticate(ctx context.Context) error {
	_, err := g.walletBalance(ctx)
	if err != nil {
		return broker.WrapAPIError("authenticate", err)
	}
	return nil
}

// ListAccounts reports the unified trading account.
func (g *Gateway) ListAccounts(ctx context.Context) ([]broker.Account, error) {
	equity, err := g.walletBalance(ctx)
	if err != nil {
		return nil, broker.WrapAPIError("list accounts", err)
	}
	return []broker.Account{{
		ID:       1,
		Name:     "UNIFIED",
		Balance:  equity,
		CanTrade: true,
	}}, nil
}

// walletBalance fetches the unified account's total equity.
func (g *Gateway) walletBalance(ctx context.Context) (float64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return 0, err
	}

	var walletResult struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	if err := decodeResult(result, &walletResult); err != nil {
		return 0, err
	}
	if len(walletResult.List) == 0 {
		return 0, fmt.Errorf("empty wallet response")
	}
	return parseFloat(walletResult.List[0].TotalEquity), nil
}

// SearchInstruments resolves a symbol to its contract metadata.
func (g *Gateway) SearchInstruments(ctx context.Context, query string) ([]broker.Instrument, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"category": g.category,
		"symbol":   query,
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, broker.WrapAPIError("instrument search", err)
	}

	var instrumentResult struct {
		List []struct {
			Symbol      string `json:"symbol"`
			Status      string `json:"status"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := decodeResult(result, &instrumentResult); err != nil {
		return nil, broker.WrapAPIError("instrument search", err)
	}

	instruments := make([]broker.Instrument, 0, len(instrumentResult.List))
	for _, item := range instrumentResult.List {
		if item.Status != "Trading" {
			continue
		}
		instruments = append(instruments, broker.Instrument{
			ContractID: item.Symbol,
			Name:       item.Symbol,
			TickSize:   parseFloat(item.PriceFilter.TickSize),
		})
	}
	return instruments, nil
}

// SearchOpenPositions returns the open positions with signed sizes.
func (g *Gateway) SearchOpenPositions(ctx context.Context, _ int64) ([]broker.Position, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"category":   g.category,
		"settleCoin": "USDT",
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, broker.WrapAPIError("position search", err)
	}

	var positionResult struct {
		List []struct {
			Symbol   string `json:"symbol"`
			Side     string `json:"side"`
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
		} `json:"list"`
	}
	if err := decodeResult(result, &positionResult); err != nil {
		return nil, broker.WrapAPIError("position search", err)
	}

	positions := make([]broker.Position, 0, len(positionResult.List))
	for _, item := range positionResult.List {
		size := int(parseFloat(item.Size))
		if size == 0 {
			continue
		}
		if item.Side == "Sell" {
			size = -size
		}
		positions = append(positions, broker.Position{
			ContractID:   item.Symbol,
			Size:         size,
			AveragePrice: parseFloat(item.AvgPrice),
		})
	}
	return positions, nil
}

// PlaceMarketOrder submits a market order. Gateway rejections come back
// in the ack rather than as an error.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, ticket broker.OrderTicket) (broker.OrderAck, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return broker.OrderAck{}, err
	}

	side := "Buy"
	if ticket.Side == broker.SideSell {
		side = "Sell"
	}

	params := map[string]interface{}{
		"category":  g.category,
		"symbol":    ticket.ContractID,
		"side":      side,
		"orderType": "Market",
		"qty":       strconv.Itoa(ticket.Size),
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return broker.OrderAck{}, broker.WrapAPIError("place order", err)
	}

	serverResp := result
	if serverResp.RetCode != 0 {
		return broker.OrderAck{
			Success:      false,
			ErrorCode:    serverResp.RetCode,
			ErrorMessage: serverResp.RetMsg,
		}, nil
	}

	var orderResult struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(result, &orderResult); err != nil {
		return broker.OrderAck{}, broker.WrapAPIError("place order", err)
	}

	return broker.OrderAck{Success: true, OrderID: orderResult.OrderID}, nil
}

// GetOrderByID looks the order up in the realtime order book. Orders
// that have already left it yield broker.ErrOrderNotFound.
func (g *Gateway) GetOrderByID(ctx context.Context, _ int64, orderID string) (broker.Order, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return broker.Order{}, err
	}

	params := map[string]interface{}{
		"category": g.category,
		"orderId":  orderID,
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return broker.Order{}, broker.WrapAPIError("order query", err)
	}

	var orderListResult struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
		} `json:"list"`
	}
	if err := decodeResult(result, &orderListResult); err != nil {
		return broker.Order{}, broker.WrapAPIError("order query", err)
	}

	for _, item := range orderListResult.List {
		if item.OrderID != orderID {
			continue
		}
		return broker.Order{
			OrderID:      item.OrderID,
			Status:       mapOrderStatus(item.OrderStatus),
			FilledSize:   int(parseFloat(item.CumExecQty)),
			AveragePrice: parseFloat(item.AvgPrice),
		}, nil
	}

	return broker.Order{}, broker.ErrOrderNotFound
}

// CancelOrder cancels an open order.
func (g *Gateway) CancelOrder(ctx context.Context, _ int64, orderID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	params := map[string]interface{}{
		"category": g.category,
		"orderId":  orderID,
	}

	_, err := g.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return broker.WrapAPIError("cancel order", err)
	}
	return nil
}

func mapOrderStatus(status string) int {
	switch status {
	case "Filled":
		return broker.OrderStatusFilled
	case "Cancelled", "Deactivated":
		return broker.OrderStatusCancelled
	case "Rejected":
		return broker.OrderStatusRejected
	default:
		// New, PartiallyFilled, Untriggered
		return broker.OrderStatusOpen
	}
}

// decodeResult converts a ServerResponse's Result payload into out,
// surfacing non-zero retCodes as gateway errors.
func decodeResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("invalid response type")
	}
	if serverResp.RetCode != 0 {
		return broker.ParseAPIError(serverResp.RetCode, serverResp.RetMsg)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
