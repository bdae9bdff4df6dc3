// Package binance implements core.IExchange against the venue's spot
// and Simple-Earn flexible-savings REST surface. It is the sole
// consumer of the signed HMAC wire protocol; every other package
// depends only on core.IExchange or one of its narrower collaborator
// views.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"market_maker/internal/config"
	"market_maker/internal/core"
	"market_maker/internal/exchange"
	httpclient "market_maker/pkg/http"
	"market_maker/pkg/retry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	spotBaseURL      = "https://api.binance.com"
	testnetBaseURL   = "https://testnet.binance.vision"
	balanceCacheTTL  = 30 * time.Second
	totalValueCache  = 30 * time.Second
	minQuoteValued   = 1.0
	significantDelta = 0.001
)

// Adapter is the venue-specific core.IExchange implementation.
type Adapter struct {
	logger core.ILogger
	client *httpclient.Client
	signer *Signer
	limiter *rate.Limiter

	mu             sync.RWMutex
	serverOffset   time.Duration
	markets        map[string]core.MarketSpec // keyed by SymbolId.String()

	spotCache    *exchange.TTLCache[core.Balance]
	fundingCache *exchange.TTLCache[core.Balance]
	totalValue   *exchange.TTLCache[decimal.Decimal]

	lastFunding map[string]decimal.Decimal
}

// NewAdapter constructs the adapter. cfg.TestnetMode selects the
// sandbox REST host; a non-empty cfg.BaseURL overrides the host.
func NewAdapter(cfg *config.Config, logger core.ILogger) *Adapter {
	a := &Adapter{
		logger:       logger,
		markets:      make(map[string]core.MarketSpec),
		spotCache:    exchange.NewTTLCache[core.Balance](balanceCacheTTL),
		fundingCache: exchange.NewTTLCache[core.Balance](balanceCacheTTL),
		totalValue:   exchange.NewTTLCache[decimal.Decimal](totalValueCache),
		lastFunding:  make(map[string]decimal.Decimal),
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
	}
	a.signer = NewSigner(cfg.APIKey, cfg.APISecret, a.offset)

	base := spotBaseURL
	if cfg.TestnetMode {
		base = testnetBaseURL
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	a.client = httpclient.NewClient(base, 10*time.Second, a.signer)
	return a
}

func (a *Adapter) offset() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.serverOffset
}

// GetName identifies the venue.
func (a *Adapter) GetName() string { return "binance" }

// Supports reports which optional capabilities this venue offers.
func (a *Adapter) Supports(feature core.Feature) bool {
	switch feature {
	case core.FeatureSpotTrading, core.FeatureFunding:
		return true
	default:
		return false
	}
}

func (a *Adapter) await() error {
	return a.limiter.Wait(context.Background())
}

// SyncTime refreshes the signed-request clock offset. A signed call the
// venue rejects for clock skew returns ErrClockSkew; the adapter does
// not resync or retry on it. The offset changes only when SyncTime is
// called.
func (a *Adapter) SyncTime(ctx context.Context) error {
	if err := a.await(); err != nil {
		return err
	}
	body, err := a.client.Get(ctx, "/api/v3/time", nil)
	if err != nil {
		return mapVenueError(err)
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("binance: decode server time: %w", err)
	}
	serverTime := time.UnixMilli(resp.ServerTime)
	a.mu.Lock()
	a.serverOffset = serverTime.Sub(time.Now())
	a.mu.Unlock()
	return nil
}

// LoadMarkets fetches the exchange's market catalogue. Retried up to
// 3 times with backoff, as required at startup.
func (a *Adapter) LoadMarkets(ctx context.Context) error {
	return retry.Do(ctx, retry.RetryPolicy{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}, isTransient, func() error {
		if err := a.await(); err != nil {
			return err
		}
		body, err := a.client.Get(ctx, "/api/v3/exchangeInfo", nil)
		if err != nil {
			return mapVenueError(err)
		}
		var resp struct {
			Symbols []struct {
				Symbol     string `json:"symbol"`
				BaseAsset  string `json:"baseAsset"`
				QuoteAsset string `json:"quoteAsset"`
				Filters    []struct {
					FilterType  string `json:"filterType"`
					StepSize    string `json:"stepSize"`
					TickSize    string `json:"tickSize"`
					MinNotional string `json:"minNotional"`
					MinQty      string `json:"minQty"`
					MaxQty      string `json:"maxQty"`
				} `json:"filters"`
			} `json:"symbols"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("binance: decode exchangeInfo: %w", err)
		}

		markets := make(map[string]core.MarketSpec, len(resp.Symbols))
		for _, s := range resp.Symbols {
			symbol := core.SymbolId{Base: strings.ToUpper(s.BaseAsset), Quote: strings.ToUpper(s.QuoteAsset)}
			spec := core.DefaultMarketSpec(symbol)
			for _, f := range s.Filters {
				switch f.FilterType {
				case "LOT_SIZE":
					spec.AmountPrecision = precisionFromStep(f.StepSize, spec.AmountPrecision)
					if d, err := decimal.NewFromString(f.MinQty); err == nil {
						spec.MinAmount = d
					}
					if d, err := decimal.NewFromString(f.MaxQty); err == nil {
						spec.MaxAmount = d
					}
				case "PRICE_FILTER":
					spec.PricePrecision = precisionFromStep(f.TickSize, spec.PricePrecision)
				case "MIN_NOTIONAL", "NOTIONAL":
					if d, err := decimal.NewFromString(f.MinNotional); err == nil {
						spec.MinNotional = d
					}
				}
			}
			markets[symbol.String()] = spec
		}

		a.mu.Lock()
		a.markets = markets
		a.mu.Unlock()
		return nil
	})
}

func precisionFromStep(step string, fallback int) int {
	d, err := decimal.NewFromString(step)
	if err != nil || d.IsZero() {
		return fallback
	}
	return int(d.Exponent() * -1)
}

// GetMarketSpec returns the cached catalogue entry for a symbol, or
// a conservative default if LoadMarkets has not seen it.
func (a *Adapter) GetMarketSpec(symbol core.SymbolId) (core.MarketSpec, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	spec, ok := a.markets[symbol.String()]
	if !ok {
		return core.DefaultMarketSpec(symbol), false
	}
	return spec, true
}

// FetchTicker returns the current 24h ticker snapshot.
func (a *Adapter) FetchTicker(ctx context.Context, symbol core.SymbolId) (core.Ticker, error) {
	if err := a.await(); err != nil {
		return core.Ticker{}, err
	}
	body, err := a.client.Get(ctx, "/api/v3/ticker/24hr", map[string]string{"symbol": symbol.Venue()})
	if err != nil {
		return core.Ticker{}, mapVenueError(err)
	}
	var resp struct {
		LastPrice   string `json:"lastPrice"`
		BidPrice    string `json:"bidPrice"`
		AskPrice    string `json:"askPrice"`
		HighPrice   string `json:"highPrice"`
		LowPrice    string `json:"lowPrice"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Ticker{}, fmt.Errorf("binance: decode ticker: %w", err)
	}
	return core.Ticker{
		Symbol:         symbol,
		LastPrice:      mustDecimal(resp.LastPrice),
		Bid:            mustDecimal(resp.BidPrice),
		Ask:            mustDecimal(resp.AskPrice),
		High24h:        mustDecimal(resp.HighPrice),
		Low24h:         mustDecimal(resp.LowPrice),
		QuoteVolume24h: mustDecimal(resp.QuoteVolume),
		FetchedAt:      time.Now(),
	}, nil
}

// FetchOrderBook returns the top of book.
func (a *Adapter) FetchOrderBook(ctx context.Context, symbol core.SymbolId, depth int) (core.OrderBookTop, error) {
	if depth <= 0 {
		depth = 5
	}
	if err := a.await(); err != nil {
		return core.OrderBookTop{}, err
	}
	body, err := a.client.Get(ctx, "/api/v3/depth", map[string]string{"symbol": symbol.Venue(), "limit": strconv.Itoa(depth)})
	if err != nil {
		return core.OrderBookTop{}, mapVenueError(err)
	}
	var resp struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderBookTop{}, fmt.Errorf("binance: decode depth: %w", err)
	}
	top := core.OrderBookTop{Symbol: symbol}
	if len(resp.Bids) > 0 {
		top.BestBid = mustDecimal(resp.Bids[0][0])
	}
	if len(resp.Asks) > 0 {
		top.BestAsk = mustDecimal(resp.Asks[0][0])
	}
	return top, nil
}

// FetchOHLCV returns the most recent candles for a timeframe.
func (a *Adapter) FetchOHLCV(ctx context.Context, symbol core.SymbolId, timeframe string, limit int) ([]core.Candle, error) {
	if err := a.await(); err != nil {
		return nil, err
	}
	body, err := a.client.Get(ctx, "/api/v3/klines", map[string]string{
		"symbol":   symbol.Venue(),
		"interval": timeframe,
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, mapVenueError(err)
	}
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}
	candles := make([]core.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTimeMs, _ := k[0].(float64)
		candles = append(candles, core.Candle{
			OpenTime: time.UnixMilli(int64(openTimeMs)),
			Open:     mustDecimal(fmt.Sprint(k[1])),
			High:     mustDecimal(fmt.Sprint(k[2])),
			Low:      mustDecimal(fmt.Sprint(k[3])),
			Close:    mustDecimal(fmt.Sprint(k[4])),
			Volume:   mustDecimal(fmt.Sprint(k[5])),
		})
	}
	return candles, nil
}

// FetchSpotBalance returns the TTL-cached spot wallet snapshot,
// excluding savings receipts from spot sums. Never returns an error:
// a fetch failure yields an empty-but-shaped Balance so callers never
// need a second error path for balances.
func (a *Adapter) FetchSpotBalance(ctx context.Context) core.Balance {
	if cached, ok := a.spotCache.Get(); ok {
		return cached
	}
	if err := a.await(); err != nil {
		return core.EmptyBalance()
	}
	body, err := a.client.Get(ctx, "/api/v3/account", nil)
	if err != nil {
		a.logger.Warn("fetch spot balance failed", "error", mapVenueError(err))
		return core.EmptyBalance()
	}
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		a.logger.Warn("decode spot balance failed", "error", err)
		return core.EmptyBalance()
	}

	bal := core.EmptyBalance()
	bal.FetchedAt = time.Now()
	for _, b := range resp.Balances {
		if core.IsSavingsReceipt(b.Asset) {
			continue
		}
		free := mustDecimal(b.Free)
		locked := mustDecimal(b.Locked)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		bal.SpotFree[b.Asset] = free
		bal.SpotUsed[b.Asset] = locked
		bal.SpotTotal[b.Asset] = free.Add(locked)
	}
	a.spotCache.Set(bal)
	return bal
}

// FetchFundingBalance returns the TTL-cached Simple-Earn flexible
// position snapshot. Logs only on a "significant change" per asset.
func (a *Adapter) FetchFundingBalance(ctx context.Context) core.Balance {
	if cached, ok := a.fundingCache.Get(); ok {
		return cached
	}
	if err := a.await(); err != nil {
		return core.EmptyBalance()
	}
	body, err := a.client.Get(ctx, "/sapi/v1/lending/daily/token/position", nil)
	if err != nil {
		a.logger.Warn("fetch funding balance failed", "error", mapVenueError(err))
		return core.EmptyBalance()
	}
	var positions []struct {
		Asset            string `json:"asset"`
		TotalAmount      string `json:"totalAmount"`
	}
	if err := json.Unmarshal(body, &positions); err != nil {
		a.logger.Warn("decode funding balance failed", "error", err)
		return core.EmptyBalance()
	}

	bal := core.EmptyBalance()
	bal.FetchedAt = time.Now()
	for _, p := range positions {
		bal.Funding[p.Asset] = mustDecimal(p.TotalAmount)
	}

	a.mu.Lock()
	if significantFundingChange(a.lastFunding, bal.Funding) {
		a.logger.Info("funding balance changed", "funding", bal.Funding)
	}
	a.lastFunding = bal.Funding
	a.mu.Unlock()

	a.fundingCache.Set(bal)
	return bal
}

// significantFundingChange implements the "significant change" rule:
// changed iff any asset moves by more than 0.1% relative to its prior
// value (floor 1e-9), or any asset goes from zero to positive.
func significantFundingChange(old, updated map[string]decimal.Decimal) bool {
	floor := decimal.NewFromFloat(1e-9)
	for asset, newVal := range updated {
		oldVal, had := old[asset]
		if !had || oldVal.IsZero() {
			if newVal.IsPositive() {
				return true
			}
			continue
		}
		denom := decimal.Max(oldVal, floor)
		delta := newVal.Sub(oldVal).Abs().Div(denom)
		if delta.GreaterThan(decimal.NewFromFloat(significantDelta)) {
			return true
		}
	}
	return false
}

// CalculateTotalAccountValue combines spot (excluding "LD"-prefixed
// receipts) and funding, priced through the quote asset, ignoring any
// asset whose quote value is below minQuoteValued.
func (a *Adapter) CalculateTotalAccountValue(ctx context.Context, quoteAsset string) (decimal.Decimal, error) {
	if cached, ok := a.totalValue.Get(); ok {
		return cached, nil
	}

	spot := a.FetchSpotBalance(ctx)
	funding := a.FetchFundingBalance(ctx)

	assetTotals := make(map[string]decimal.Decimal)
	for asset, amt := range spot.SpotTotal {
		assetTotals[asset] = assetTotals[asset].Add(amt)
	}
	for asset, amt := range funding.Funding {
		assetTotals[asset] = assetTotals[asset].Add(amt)
	}

	total := decimal.Zero
	for asset, amt := range assetTotals {
		if amt.IsZero() {
			continue
		}
		if asset == quoteAsset {
			total = total.Add(amt)
			continue
		}
		symbol := core.SymbolId{Base: asset, Quote: quoteAsset}
		ticker, err := a.FetchTicker(ctx, symbol)
		if err != nil {
			a.logger.Warn("price lookup failed during total value calc", "asset", asset, "error", err)
			continue
		}
		value := amt.Mul(ticker.LastPrice)
		if value.LessThan(decimal.NewFromFloat(minQuoteValued)) {
			continue
		}
		total = total.Add(value)
	}

	a.totalValue.Set(total)
	return total, nil
}

// newClientOrderID generates a fresh idempotency key for an order
// placement call. A distinct ID per attempt means a retried placement
// can never be mistaken by the venue for a duplicate of a prior one.
func newClientOrderID() string {
	return uuid.NewString()
}

// CreateLimitOrder places a GTC limit order.
func (a *Adapter) CreateLimitOrder(ctx context.Context, symbol core.SymbolId, side core.OrderSide, amount, price decimal.Decimal) (core.Order, error) {
	if err := a.await(); err != nil {
		return core.Order{}, err
	}
	body, err := a.client.PostQuery(ctx, "/api/v3/order", map[string]string{
		"symbol":           symbol.Venue(),
		"side":             string(side),
		"type":             "LIMIT",
		"timeInForce":      "GTC",
		"quantity":         amount.String(),
		"price":            price.String(),
		"newClientOrderId": newClientOrderID(),
	})
	if err != nil {
		return core.Order{}, mapVenueError(err)
	}
	order, err := decodeOrder(body, symbol)
	if err == nil {
		a.spotCache.Invalidate()
	}
	return order, err
}

// CreateMarketOrder places a MARKET order. The grid engine's signal
// execution does not use it; it places limit orders.
func (a *Adapter) CreateMarketOrder(ctx context.Context, symbol core.SymbolId, side core.OrderSide, amount decimal.Decimal) (core.Order, error) {
	if err := a.await(); err != nil {
		return core.Order{}, err
	}
	body, err := a.client.PostQuery(ctx, "/api/v3/order", map[string]string{
		"symbol":           symbol.Venue(),
		"side":             string(side),
		"type":             "MARKET",
		"quantity":         amount.String(),
		"newClientOrderId": newClientOrderID(),
	})
	if err != nil {
		return core.Order{}, mapVenueError(err)
	}
	order, err := decodeOrder(body, symbol)
	if err == nil {
		a.spotCache.Invalidate()
	}
	return order, err
}

// CancelOrder cancels an open order by venue order ID.
func (a *Adapter) CancelOrder(ctx context.Context, symbol core.SymbolId, orderID int64) error {
	if err := a.await(); err != nil {
		return err
	}
	_, err := a.client.Delete(ctx, "/api/v3/order", map[string]string{
		"symbol":  symbol.Venue(),
		"orderId": strconv.FormatInt(orderID, 10),
	})
	if err != nil {
		return mapVenueError(err)
	}
	a.spotCache.Invalidate()
	return nil
}

// FetchOrder returns the current state of a previously placed order.
func (a *Adapter) FetchOrder(ctx context.Context, symbol core.SymbolId, orderID int64) (core.Order, error) {
	if err := a.await(); err != nil {
		return core.Order{}, err
	}
	body, err := a.client.Get(ctx, "/api/v3/order", map[string]string{
		"symbol":  symbol.Venue(),
		"orderId": strconv.FormatInt(orderID, 10),
	})
	if err != nil {
		return core.Order{}, mapVenueError(err)
	}
	return decodeOrder(body, symbol)
}

// FetchOpenOrders returns all currently open orders for a symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol core.SymbolId) ([]core.Order, error) {
	if err := a.await(); err != nil {
		return nil, err
	}
	body, err := a.client.Get(ctx, "/api/v3/openOrders", map[string]string{"symbol": symbol.Venue()})
	if err != nil {
		return nil, mapVenueError(err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode openOrders: %w", err)
	}
	orders := make([]core.Order, 0, len(raw))
	for _, r := range raw {
		o, err := decodeOrder(r, symbol)
		if err != nil {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// FetchMyTrades returns the most recent fills for reconciliation at
// startup.
func (a *Adapter) FetchMyTrades(ctx context.Context, symbol core.SymbolId, limit int) ([]core.Trade, error) {
	if err := a.await(); err != nil {
		return nil, err
	}
	body, err := a.client.Get(ctx, "/api/v3/myTrades", map[string]string{
		"symbol": symbol.Venue(),
		"limit":  strconv.Itoa(limit),
	})
	if err != nil {
		return nil, mapVenueError(err)
	}
	var raw []struct {
		ID        int64  `json:"id"`
		OrderID   int64  `json:"orderId"`
		Price     string `json:"price"`
		Qty       string `json:"qty"`
		IsBuyer   bool   `json:"isBuyer"`
		Time      int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode myTrades: %w", err)
	}
	trades := make([]core.Trade, 0, len(raw))
	for _, t := range raw {
		side := core.SideSell
		if t.IsBuyer {
			side = core.SideBuy
		}
		trades = append(trades, core.Trade{
			Timestamp: time.UnixMilli(t.Time),
			Side:      side,
			Price:     mustDecimal(t.Price),
			Amount:    mustDecimal(t.Qty),
			OrderID:   t.OrderID,
		})
	}
	return trades, nil
}

// TransferSpotToFunding subscribes an amount to Simple-Earn flexible,
// invalidating both balance caches on success.
func (a *Adapter) TransferSpotToFunding(ctx context.Context, asset string, amount decimal.Decimal) error {
	if err := a.await(); err != nil {
		return err
	}
	_, err := a.client.PostQuery(ctx, "/sapi/v1/lending/daily/purchase", map[string]string{
		"productId": asset,
		"amount":    amount.String(),
	})
	if err != nil {
		return mapVenueError(err)
	}
	a.spotCache.Invalidate()
	a.fundingCache.Invalidate()
	return nil
}

// TransferFundingToSpot redeems an amount from Simple-Earn flexible,
// invalidating both balance caches on success.
func (a *Adapter) TransferFundingToSpot(ctx context.Context, asset string, amount decimal.Decimal) error {
	if err := a.await(); err != nil {
		return err
	}
	_, err := a.client.PostQuery(ctx, "/sapi/v1/lending/daily/redeem", map[string]string{
		"productId": asset,
		"amount":    amount.String(),
		"type":      "FAST",
	})
	if err != nil {
		return mapVenueError(err)
	}
	a.spotCache.Invalidate()
	a.fundingCache.Invalidate()
	return nil
}

func decodeOrder(body []byte, symbol core.SymbolId) (core.Order, error) {
	var resp struct {
		OrderID             int64  `json:"orderId"`
		ClientOrderID       string `json:"clientOrderId"`
		Side                string `json:"side"`
		Price               string `json:"price"`
		OrigQty             string `json:"origQty"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Status              string `json:"status"`
		TransactTime        int64  `json:"transactTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("binance: decode order: %w", err)
	}
	executed := mustDecimal(resp.ExecutedQty)
	var avgFillPrice decimal.Decimal
	if executed.IsPositive() {
		avgFillPrice = mustDecimal(resp.CummulativeQuoteQty).Div(executed)
	}
	createdAt := time.Now()
	if resp.TransactTime > 0 {
		createdAt = time.UnixMilli(resp.TransactTime)
	}
	return core.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        symbol,
		Side:          core.OrderSide(resp.Side),
		Price:         mustDecimal(resp.Price),
		Amount:        mustDecimal(resp.OrigQty),
		FilledAmount:  executed,
		FilledPrice:   avgFillPrice,
		Status:        mapOrderStatus(resp.Status),
		CreatedAt:     createdAt,
	}, nil
}

func mapOrderStatus(venueStatus string) core.OrderStatus {
	switch venueStatus {
	case "FILLED":
		return core.OrderClosed
	case "CANCELED", "EXPIRED", "REJECTED":
		return core.OrderCanceled
	default:
		// PARTIALLY_FILLED stays open: the remainder is still resting
		// on the book and the caller's cancel-and-replace path must run.
		return core.OrderOpen
	}
}

func mustDecimal(v interface{}) decimal.Decimal {
	s := fmt.Sprint(v)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ core.IExchange = (*Adapter)(nil)
