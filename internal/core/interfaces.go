package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ILogger is the structured-logging contract every component depends
// on. Implemented by pkg/logging.ZapLogger.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// Feature names an optional venue capability.
type Feature string

const (
	FeatureSpotTrading Feature = "spot_trading"
	FeatureFunding     Feature = "funding"
)

// IExchange is the one contract every venue-specific adapter
// implements. Engines and the scheduler depend on this interface
// only, never on a concrete venue type.
type IExchange interface {
	// Identity and capabilities.
	GetName() string
	Supports(feature Feature) bool

	// Startup.
	LoadMarkets(ctx context.Context) error
	SyncTime(ctx context.Context) error
	GetMarketSpec(symbol SymbolId) (MarketSpec, bool)

	// Market data. Never cached longer than the caller's own tick.
	FetchTicker(ctx context.Context, symbol SymbolId) (Ticker, error)
	FetchOrderBook(ctx context.Context, symbol SymbolId, depth int) (OrderBookTop, error)
	FetchOHLCV(ctx context.Context, symbol SymbolId, timeframe string, limit int) ([]Candle, error)

	// Balances. Soft TTL-cached; never return an error to the caller.
	// An empty-but-shaped Balance is returned on fetch failure instead.
	FetchSpotBalance(ctx context.Context) Balance
	FetchFundingBalance(ctx context.Context) Balance
	CalculateTotalAccountValue(ctx context.Context, quoteAsset string) (decimal.Decimal, error)

	// Orders.
	CreateLimitOrder(ctx context.Context, symbol SymbolId, side OrderSide, amount, price decimal.Decimal) (Order, error)
	CreateMarketOrder(ctx context.Context, symbol SymbolId, side OrderSide, amount decimal.Decimal) (Order, error)
	CancelOrder(ctx context.Context, symbol SymbolId, orderID int64) error
	FetchOrder(ctx context.Context, symbol SymbolId, orderID int64) (Order, error)
	FetchOpenOrders(ctx context.Context, symbol SymbolId) ([]Order, error)
	FetchMyTrades(ctx context.Context, symbol SymbolId, limit int) ([]Trade, error)

	// Savings (funding) transfers. Each sends amount as given, without
	// rounding it to a per-asset precision (callers truncate first where
	// needed), and, on success, invalidates both balance caches.
	TransferSpotToFunding(ctx context.Context, asset string, amount decimal.Decimal) error
	TransferFundingToSpot(ctx context.Context, asset string, amount decimal.Decimal) error
}

// PriceSource is the narrow view a volatility estimator needs. It
// never holds a reference to the engine or the adapter directly.
type PriceSource interface {
	FetchOHLCV(ctx context.Context, symbol SymbolId, timeframe string, limit int) ([]Candle, error)
}

// BalanceSource is the narrow view the risk controller and rebalancer
// need.
type BalanceSource interface {
	FetchSpotBalance(ctx context.Context) Balance
	FetchFundingBalance(ctx context.Context) Balance
}

// OrderExecutor is the narrow view the grid engine needs to act on a
// fired signal, independent of the rest of IExchange.
type OrderExecutor interface {
	FetchOrderBook(ctx context.Context, symbol SymbolId, depth int) (OrderBookTop, error)
	CreateLimitOrder(ctx context.Context, symbol SymbolId, side OrderSide, amount, price decimal.Decimal) (Order, error)
	CancelOrder(ctx context.Context, symbol SymbolId, orderID int64) error
	FetchOrder(ctx context.Context, symbol SymbolId, orderID int64) (Order, error)
}

// Notifier is the out-of-scope notification collaborator's contract:
// fire-and-forget, never blocks trading.
type Notifier interface {
	Notify(title, body string)
}
