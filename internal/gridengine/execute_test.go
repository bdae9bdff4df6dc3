package gridengine

import (
	"context"
	"path/filepath"
	"testing"

	"market_maker/internal/config"
	"market_maker/internal/core"
	"market_maker/internal/ordertracker"
	"market_maker/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNotifier struct {
	notifications []string
}

func (n *stubNotifier) Notify(title, body string) {
	n.notifications = append(n.notifications, title)
}

func testLogger() core.ILogger {
	l, _ := logging.NewZapLogger("ERROR")
	return l
}

func newTestEngine(t *testing.T, xchg *stubExchange, notifier *stubNotifier) *Engine {
	t.Helper()
	dir := t.TempDir()
	tracker, err := ordertracker.New(filepath.Join(dir, "trades.json"), testLogger())
	require.NoError(t, err)

	symbol := core.SymbolId{Base: "BNB", Quote: "USDT"}
	cfg := &config.Config{
		Symbols:                 []core.SymbolId{symbol},
		MinTradeIntervalSeconds: 30,
		SpotFundsTargetRatio:    0.16,
		GridContinuousParams:    config.GridContinuousParams{BaseGrid: 2.5, VolCenter: 0.25, K: 10.0},
		GridParams:              config.GridParams{GridMin: 1.0, GridMax: 4.0, SmoothingSamples: 3},
	}

	e := New(symbol, cfg, testLogger(), xchg, tracker, notifier)
	e.marketSpec = xchg.marketSpec
	e.statePath = filepath.Join(dir, "state.json")
	e.state = &core.EngineState{BasePrice: decimal.NewFromInt(100), GridSize: 2.0}
	return e
}

func baseMarketSpec() core.MarketSpec {
	return core.MarketSpec{
		AmountPrecision: 4,
		PricePrecision:  2,
		MinAmount:       decimal.NewFromFloat(0.001),
		MinNotional:     decimal.NewFromInt(10),
	}
}

func TestExecuteSignal_FillsOnFirstAttempt(t *testing.T) {
	filled := core.Order{OrderID: 1, Status: core.OrderClosed, FilledAmount: decimal.NewFromFloat(0.1), FilledPrice: decimal.NewFromInt(100)}
	xchg := &stubExchange{
		supports:          map[core.Feature]bool{core.FeatureFunding: true},
		marketSpec:        baseMarketSpec(),
		book:              core.OrderBookTop{BestBid: decimal.NewFromInt(99), BestAsk: decimal.NewFromInt(100)},
		totalValue:        decimal.NewFromInt(1000),
		spot:              core.Balance{SpotFree: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(500), "BNB": decimal.NewFromInt(5)}},
		funding:           core.Balance{Funding: map[string]decimal.Decimal{}},
		createOrderResult: core.Order{OrderID: 1, Status: core.OrderOpen},
		fetchOrderResults: []core.Order{filled},
	}
	notifier := &stubNotifier{}
	e := newTestEngine(t, xchg, notifier)

	e.executeSignal(context.Background(), core.SideBuy)

	assert.True(t, e.state.BasePrice.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, notifier.notifications)
	assert.Len(t, e.tracker.GetTradeHistory(), 1)
}

func TestExecuteSignal_RetriesThenGivesUp(t *testing.T) {
	xchg := &stubExchange{
		marketSpec:        baseMarketSpec(),
		book:              core.OrderBookTop{BestBid: decimal.NewFromInt(99), BestAsk: decimal.NewFromInt(100)},
		totalValue:        decimal.NewFromInt(1000),
		spot:              core.Balance{SpotFree: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(500), "BNB": decimal.NewFromInt(5)}},
		funding:           core.Balance{Funding: map[string]decimal.Decimal{}},
		createOrderResult: core.Order{OrderID: 1, Status: core.OrderOpen},
		fetchOrderResults: []core.Order{{OrderID: 1, Status: core.OrderOpen}},
	}
	notifier := &stubNotifier{}
	e := newTestEngine(t, xchg, notifier)

	e.executeSignal(context.Background(), core.SideBuy)

	assert.NotEmpty(t, notifier.notifications)
	assert.Empty(t, e.tracker.GetTradeHistory())
}

func TestEnsureFunds_RedeemsShortfallFromFunding(t *testing.T) {
	xchg := &stubExchange{
		supports: map[core.Feature]bool{core.FeatureFunding: true},
		spot: core.Balance{SpotFree: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(5)}},
	}
	e := newTestEngine(t, xchg, &stubNotifier{})
	e.cfg.MinTradeIntervalSeconds = 0

	err := e.ensureFunds(context.Background(), core.SideBuy, decimal.NewFromFloat(0.1), decimal.NewFromInt(100))

	require.NoError(t, err)
	require.Len(t, xchg.transferFundingToSpotCalls, 1)
	assert.Equal(t, "USDT", xchg.transferFundingToSpotCalls[0].asset)
}

func TestEnsureFunds_InsufficientWithoutFundingSupport(t *testing.T) {
	xchg := &stubExchange{
		spot: core.Balance{SpotFree: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1)}},
	}
	e := newTestEngine(t, xchg, &stubNotifier{})

	err := e.ensureFunds(context.Background(), core.SideBuy, decimal.NewFromFloat(0.1), decimal.NewFromInt(100))

	assert.Error(t, err)
}

func TestSizeOrder_EnforcesMinNotional(t *testing.T) {
	xchg := &stubExchange{
		marketSpec: baseMarketSpec(),
		totalValue: decimal.NewFromInt(10),
	}
	e := newTestEngine(t, xchg, &stubNotifier{})

	amount, err := e.sizeOrder(context.Background(), core.SideBuy, decimal.NewFromInt(100))

	require.NoError(t, err)
	notional := amount.Mul(decimal.NewFromInt(100))
	assert.True(t, notional.GreaterThanOrEqual(xchg.marketSpec.MinNotional), notional.String())
}
