// Package core defines the domain types and narrow collaborator
// interfaces shared across the grid trader.
package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolId is a "BASE/QUOTE" pair, parsed once and stable for the
// lifetime of a GridEngine.
type SymbolId struct {
	Base  string
	Quote string
}

// ParseSymbolId parses "BASE/QUOTE" into its two assets.
func ParseSymbolId(raw string) (SymbolId, bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SymbolId{}, false
	}
	return SymbolId{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, true
}

// String renders the pair back as "BASE/QUOTE".
func (s SymbolId) String() string {
	return s.Base + "/" + s.Quote
}

// Venue renders the pair the way most venues expect it on the wire,
// e.g. "BNBUSDT".
func (s SymbolId) Venue() string {
	return s.Base + s.Quote
}

// FileStem is the filesystem-safe "<BASE>_<QUOTE>" form used in
// persisted file names.
func (s SymbolId) FileStem() string {
	return s.Base + "_" + s.Quote
}

// MarketSpec is the venue's market-catalogue entry for one symbol,
// loaded once at startup and treated as immutable for the session.
type MarketSpec struct {
	Symbol          SymbolId
	AmountPrecision int
	PricePrecision  int
	MinAmount       decimal.Decimal
	MinNotional     decimal.Decimal
	MaxAmount       decimal.Decimal
	MaxNotional     decimal.Decimal
}

// DefaultMarketSpec fills in conservative fallbacks for a symbol
// whose catalogue entry is missing precision or limit fields.
func DefaultMarketSpec(symbol SymbolId) MarketSpec {
	return MarketSpec{
		Symbol:          symbol,
		AmountPrecision: 6,
		PricePrecision:  2,
		MinAmount:       decimal.NewFromFloat(1e-4),
		MinNotional:     decimal.NewFromInt(10),
		MaxAmount:       decimal.Zero,
		MaxNotional:     decimal.Zero,
	}
}

// Ticker is freshly fetched before every signal evaluation; never
// cached longer than one loop tick.
type Ticker struct {
	Symbol          SymbolId
	LastPrice       decimal.Decimal
	Bid             decimal.Decimal
	Ask             decimal.Decimal
	High24h         decimal.Decimal
	Low24h          decimal.Decimal
	QuoteVolume24h  decimal.Decimal
	FetchedAt       time.Time
}

// OrderBookTop is the top of book, used to price limit orders at the
// near touch.
type OrderBookTop struct {
	Symbol   SymbolId
	BestBid  decimal.Decimal
	BestAsk  decimal.Decimal
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Balance is the spot wallet's {free, used, total} maps plus the flat
// funding (savings) map. "LD"-prefixed spot entries are the venue's
// own savings receipts and must be excluded from spot sums to avoid
// double-counting against funding.
type Balance struct {
	SpotFree   map[string]decimal.Decimal
	SpotUsed   map[string]decimal.Decimal
	SpotTotal  map[string]decimal.Decimal
	Funding    map[string]decimal.Decimal
	FetchedAt  time.Time
}

// EmptyBalance returns a correctly-shaped, empty Balance. Used by the
// adapter instead of propagating a fetch failure into engine logic.
func EmptyBalance() Balance {
	return Balance{
		SpotFree:  map[string]decimal.Decimal{},
		SpotUsed:  map[string]decimal.Decimal{},
		SpotTotal: map[string]decimal.Decimal{},
		Funding:   map[string]decimal.Decimal{},
	}
}

// IsSavingsReceipt reports whether a spot-wallet asset code is a
// venue savings receipt ("LD"-prefixed) that must be excluded from
// spot sums.
func IsSavingsReceipt(asset string) bool {
	return strings.HasPrefix(asset, "LD")
}

// OrderSide is BUY or SELL.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Order is the venue's record of a placed order.
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        SymbolId
	Side          OrderSide
	Price         decimal.Decimal
	Amount        decimal.Decimal
	FilledAmount  decimal.Decimal
	FilledPrice   decimal.Decimal
	Status        OrderStatus
	CreatedAt     time.Time
}

// OrderStatus mirrors the venue's order lifecycle states the engine
// cares about.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "OPEN"
	OrderClosed   OrderStatus = "CLOSED"
	OrderCanceled OrderStatus = "CANCELED"
)

// Trade is one completed fill, as recorded by the OrderTracker. The
// ledger is append-only; reconciliation at startup deduplicates by
// OrderID.
type Trade struct {
	Timestamp   time.Time       `json:"timestamp"`
	Side        OrderSide       `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	OrderID     int64           `json:"order_id"`
	Profit      decimal.Decimal `json:"profit"`
	StrategyTag string          `json:"strategy_tag"`
}

// RiskState gates the main trade path. Computed per tick; never
// persisted.
type RiskState string

const (
	AllowAll       RiskState = "ALLOW_ALL"
	AllowBuyOnly   RiskState = "ALLOW_BUY_ONLY"
	AllowSellOnly  RiskState = "ALLOW_SELL_ONLY"
)

// PositionLimits is a {min_ratio, max_ratio} pair. Per-symbol limits,
// when configured, fully override global limits.
type PositionLimits struct {
	MinRatio float64
	MaxRatio float64
}

// EngineState is the per-symbol persisted grid state. JSON field
// names are part of the on-disk contract and must not change.
type EngineState struct {
	BasePrice          decimal.Decimal   `json:"base_price"`
	GridSize           float64           `json:"grid_size"`
	Highest            *decimal.Decimal  `json:"highest"`
	Lowest             *decimal.Decimal  `json:"lowest"`
	LastGridAdjustTime int64             `json:"last_grid_adjust_time"`
	LastTradeTime      int64             `json:"last_trade_time"`
	LastTradePrice     decimal.Decimal   `json:"last_trade_price"`
	EWMAVolatility     float64           `json:"ewma_volatility"`
	LastPrice          decimal.Decimal   `json:"last_price"`
	EWMAInitialized    bool              `json:"ewma_initialized"`
	IsMonitoringBuy    bool              `json:"is_monitoring_buy"`
	IsMonitoringSell   bool              `json:"is_monitoring_sell"`
	VolatilityHistory  []float64         `json:"volatility_history"`
}

// Initialized reports whether this state has ever seen a reference
// price: base_price > 0 iff the engine is initialized.
func (s *EngineState) Initialized() bool {
	return s.BasePrice.IsPositive()
}
