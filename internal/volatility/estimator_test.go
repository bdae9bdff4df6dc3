package volatility

import (
	"context"
	"testing"

	"market_maker/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	candles []core.Candle
	err     error
}

func (s stubSource) FetchOHLCV(ctx context.Context, symbol core.SymbolId, timeframe string, limit int) ([]core.Candle, error) {
	return s.candles, s.err
}

func mkCandle(closePrice, volume float64) core.Candle {
	return core.Candle{
		Close:  decimal.NewFromFloat(closePrice),
		Volume: decimal.NewFromFloat(volume),
	}
}

func TestTraditional_InsufficientData(t *testing.T) {
	e := New(core.SymbolId{Base: "BNB", Quote: "USDT"}, stubSource{candles: []core.Candle{mkCandle(100, 10)}}, Config{})
	vol, err := e.Traditional(context.Background())
	require.NoError(t, err)
	assert.Equal(t, traditionalFallback, vol)
}

func TestTraditional_ComputesStdev(t *testing.T) {
	candles := []core.Candle{
		mkCandle(100, 10), mkCandle(102, 10), mkCandle(99, 10),
		mkCandle(105, 10), mkCandle(101, 10),
	}
	e := New(core.SymbolId{Base: "BNB", Quote: "USDT"}, stubSource{candles: candles}, Config{})
	vol, err := e.Traditional(context.Background())
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)
}

func TestUpdateEWMA_NotReadyOnFirstObservation(t *testing.T) {
	e := New(core.SymbolId{Base: "BNB", Quote: "USDT"}, stubSource{}, Config{})
	state := &core.EngineState{}
	_, ready := e.UpdateEWMA(state, 100.0)
	assert.False(t, ready)
	assert.True(t, state.LastPrice.Equal(decimal.NewFromFloat(100.0)))
}

func TestUpdateEWMA_ReadyAfterSecondObservation(t *testing.T) {
	e := New(core.SymbolId{Base: "BNB", Quote: "USDT"}, stubSource{}, Config{})
	state := &core.EngineState{}
	e.UpdateEWMA(state, 100.0)
	vol, ready := e.UpdateEWMA(state, 102.0)
	assert.True(t, ready)
	assert.Greater(t, vol, 0.0)
	assert.True(t, state.EWMAInitialized)
}

func TestHybrid_FallsBackWhenEWMANotReady(t *testing.T) {
	e := New(core.SymbolId{Base: "BNB", Quote: "USDT"}, stubSource{}, Config{})
	got := e.Hybrid(0.25, 0, false)
	assert.Equal(t, 0.25, got)
}

func TestHybrid_BlendsByWeight(t *testing.T) {
	e := New(core.SymbolId{Base: "BNB", Quote: "USDT"}, stubSource{}, Config{HybridWeight: 0.5})
	got := e.Hybrid(0.20, 0.40, true)
	assert.InDelta(t, 0.30, got, 1e-9)
}

func TestSmooth_NotReadyUntilBufferFull(t *testing.T) {
	e := New(core.SymbolId{Base: "BNB", Quote: "USDT"}, stubSource{}, Config{SmoothingN: 3})
	state := &core.EngineState{}

	_, ready := e.Smooth(state, 0.1)
	assert.False(t, ready)
	_, ready = e.Smooth(state, 0.2)
	assert.False(t, ready)
	mean, ready := e.Smooth(state, 0.3)
	assert.True(t, ready)
	assert.InDelta(t, 0.2, mean, 1e-9)
}

func TestSmooth_BoundedBuffer(t *testing.T) {
	e := New(core.SymbolId{Base: "BNB", Quote: "USDT"}, stubSource{}, Config{SmoothingN: 2})
	state := &core.EngineState{}

	e.Smooth(state, 0.1)
	e.Smooth(state, 0.2)
	e.Smooth(state, 0.3)
	assert.Len(t, state.VolatilityHistory, 2)
	assert.Equal(t, []float64{0.2, 0.3}, state.VolatilityHistory)
}
