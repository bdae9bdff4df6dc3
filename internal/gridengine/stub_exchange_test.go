package gridengine

import (
	"context"

	"market_maker/internal/core"

	"github.com/shopspring/decimal"
)

// stubExchange is a fully in-memory core.IExchange for gridengine unit
// tests. Every behavior is driven by plain fields so a test can set up
// exactly the scenario it needs without a network round trip.
type stubExchange struct {
	supports map[core.Feature]bool

	marketSpec core.MarketSpec

	ticker core.Ticker

	book core.OrderBookTop

	spot    core.Balance
	funding core.Balance

	totalValue    decimal.Decimal
	totalValueErr error

	createOrderResult core.Order
	createOrderErr    error

	fetchOrderResults []core.Order
	fetchOrderCalls   int

	cancelErr error

	transferFundingToSpotCalls []transferCall
	transferSpotToFundingCalls []transferCall
}

type transferCall struct {
	asset  string
	amount decimal.Decimal
}

func (s *stubExchange) GetName() string { return "stub" }

func (s *stubExchange) Supports(f core.Feature) bool { return s.supports[f] }

func (s *stubExchange) LoadMarkets(ctx context.Context) error { return nil }

func (s *stubExchange) SyncTime(ctx context.Context) error { return nil }

func (s *stubExchange) GetMarketSpec(symbol core.SymbolId) (core.MarketSpec, bool) {
	return s.marketSpec, true
}

func (s *stubExchange) FetchTicker(ctx context.Context, symbol core.SymbolId) (core.Ticker, error) {
	return s.ticker, nil
}

func (s *stubExchange) FetchOrderBook(ctx context.Context, symbol core.SymbolId, depth int) (core.OrderBookTop, error) {
	return s.book, nil
}

func (s *stubExchange) FetchOHLCV(ctx context.Context, symbol core.SymbolId, timeframe string, limit int) ([]core.Candle, error) {
	return nil, nil
}

func (s *stubExchange) FetchSpotBalance(ctx context.Context) core.Balance { return s.spot }

func (s *stubExchange) FetchFundingBalance(ctx context.Context) core.Balance { return s.funding }

func (s *stubExchange) CalculateTotalAccountValue(ctx context.Context, quoteAsset string) (decimal.Decimal, error) {
	return s.totalValue, s.totalValueErr
}

func (s *stubExchange) CreateLimitOrder(ctx context.Context, symbol core.SymbolId, side core.OrderSide, amount, price decimal.Decimal) (core.Order, error) {
	return s.createOrderResult, s.createOrderErr
}

func (s *stubExchange) CreateMarketOrder(ctx context.Context, symbol core.SymbolId, side core.OrderSide, amount decimal.Decimal) (core.Order, error) {
	return core.Order{}, nil
}

func (s *stubExchange) CancelOrder(ctx context.Context, symbol core.SymbolId, orderID int64) error {
	return s.cancelErr
}

func (s *stubExchange) FetchOrder(ctx context.Context, symbol core.SymbolId, orderID int64) (core.Order, error) {
	if s.fetchOrderCalls >= len(s.fetchOrderResults) {
		return s.fetchOrderResults[len(s.fetchOrderResults)-1], nil
	}
	res := s.fetchOrderResults[s.fetchOrderCalls]
	s.fetchOrderCalls++
	return res, nil
}

func (s *stubExchange) FetchOpenOrders(ctx context.Context, symbol core.SymbolId) ([]core.Order, error) {
	return nil, nil
}

func (s *stubExchange) FetchMyTrades(ctx context.Context, symbol core.SymbolId, limit int) ([]core.Trade, error) {
	return nil, nil
}

func (s *stubExchange) TransferSpotToFunding(ctx context.Context, asset string, amount decimal.Decimal) error {
	s.transferSpotToFundingCalls = append(s.transferSpotToFundingCalls, transferCall{asset, amount})
	if s.spot.SpotFree != nil {
		s.spot.SpotFree[asset] = s.spot.SpotFree[asset].Sub(amount)
	}
	if s.funding.Funding != nil {
		s.funding.Funding[asset] = s.funding.Funding[asset].Add(amount)
	}
	return nil
}

func (s *stubExchange) TransferFundingToSpot(ctx context.Context, asset string, amount decimal.Decimal) error {
	s.transferFundingToSpotCalls = append(s.transferFundingToSpotCalls, transferCall{asset, amount})
	if s.spot.SpotFree != nil {
		s.spot.SpotFree[asset] = s.spot.SpotFree[asset].Add(amount)
	}
	if s.funding.Funding != nil {
		s.funding.Funding[asset] = s.funding.Funding[asset].Sub(amount)
	}
	return nil
}

var _ core.IExchange = (*stubExchange)(nil)
