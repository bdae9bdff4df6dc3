package gridengine

import (
	"context"
	"testing"
	"time"

	"market_maker/internal/config"
	"market_maker/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_SeedsFromTickerWhenNoPersistedState(t *testing.T) {
	xchg := &stubExchange{
		marketSpec: baseMarketSpec(),
		ticker:     core.Ticker{LastPrice: decimal.NewFromInt(250)},
		totalValue: decimal.NewFromInt(1000),
	}
	e := newTestEngine(t, xchg, &stubNotifier{})
	e.state = &core.EngineState{}

	require.NoError(t, e.Init(context.Background()))

	assert.True(t, e.state.BasePrice.Equal(decimal.NewFromInt(250)))
}

func TestInit_PreservesPersistedBasePrice(t *testing.T) {
	xchg := &stubExchange{
		marketSpec: baseMarketSpec(),
		ticker:     core.Ticker{LastPrice: decimal.NewFromInt(999)},
		totalValue: decimal.NewFromInt(1000),
	}
	e := newTestEngine(t, xchg, &stubNotifier{})
	require.NoError(t, e.persistLocked())

	require.NoError(t, e.Init(context.Background()))

	assert.True(t, e.state.BasePrice.Equal(decimal.NewFromInt(100)))
}

func TestReloadConfig_PreservesBasePrice(t *testing.T) {
	xchg := &stubExchange{marketSpec: baseMarketSpec()}
	e := newTestEngine(t, xchg, &stubNotifier{})
	originalBase := e.state.BasePrice

	newCfg := &config.Config{
		Symbols: e.cfg.Symbols,
		InitialParams: map[string]config.InitialSymbolParams{
			e.symbol.String(): {InitialGrid: 3.5},
		},
	}
	e.ReloadConfig(newCfg)

	assert.True(t, e.state.BasePrice.Equal(originalBase))
	assert.Equal(t, 3.5, e.state.GridSize)
}

func TestTradeIntervalElapsed_GatesRepeatTrades(t *testing.T) {
	xchg := &stubExchange{marketSpec: baseMarketSpec()}
	e := newTestEngine(t, xchg, &stubNotifier{})

	assert.True(t, e.tradeIntervalElapsed())

	e.cfg.MinTradeIntervalSeconds = 30
	e.state.LastTradeTime = time.Now().UnixMilli()
	assert.False(t, e.tradeIntervalElapsed())
}
