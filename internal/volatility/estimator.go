// Package volatility computes the hybrid annualized volatility
// estimate that drives grid resizing and the dynamic check interval.
package volatility

import (
	"context"
	"math"

	"market_maker/internal/core"

	"github.com/shopspring/decimal"
)

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const (
	traditionalWindow   = 42 // up to 42 closes of the 4h timeframe (~7 days)
	traditionalFallback = 0.20
	annualizeTraditional = 365 * 6 // √(365×6) periods/year at 4h granularity
	annualizeEWMA        = 252
	defaultHybridWeight  = 0.7
	defaultEWMALambda    = 0.94
	defaultSmoothingN    = 3
)

// Estimator is a per-symbol hybrid volatility estimator: a rolling
// traditional stdev over 4h closes blended with an EWMA updated on
// every observed tick, then smoothed over a bounded sample buffer.
type Estimator struct {
	symbol          core.SymbolId
	source          core.PriceSource
	lambda          float64
	hybridWeight    float64
	smoothingN      int
	volumeWeighted  bool
}

// Config tunes the estimator; zero values fall back to spec defaults.
type Config struct {
	Lambda         float64
	HybridWeight   float64
	SmoothingN     int
	VolumeWeighted bool
}

// New constructs an Estimator for one symbol.
func New(symbol core.SymbolId, source core.PriceSource, cfg Config) *Estimator {
	e := &Estimator{
		symbol:       symbol,
		source:       source,
		lambda:       cfg.Lambda,
		hybridWeight: cfg.HybridWeight,
		smoothingN:   cfg.SmoothingN,
		volumeWeighted: cfg.VolumeWeighted,
	}
	if e.lambda <= 0 {
		e.lambda = defaultEWMALambda
	}
	if e.hybridWeight <= 0 {
		e.hybridWeight = defaultHybridWeight
	}
	if e.smoothingN <= 0 {
		e.smoothingN = defaultSmoothingN
	}
	return e
}

// UpdateEWMA advances the EWMA component on one freshly observed
// price, mutating state.LastPrice/EWMAVolatility/EWMAInitialized.
// Returns (annualizedVolatility, ready); state.EWMAVolatility keeps the
// raw per-period variance.
func (e *Estimator) UpdateEWMA(state *core.EngineState, price float64) (float64, bool) {
	if !state.EWMAInitialized && state.LastPrice.IsZero() {
		state.LastPrice = decimalFromFloat(price)
		state.EWMAInitialized = false
		return 0, false
	}
	lastPrice, _ := state.LastPrice.Float64()
	if lastPrice <= 0 {
		state.LastPrice = decimalFromFloat(price)
		return 0, false
	}

	logReturn := math.Log(price / lastPrice)
	r2 := logReturn * logReturn
	state.LastPrice = decimalFromFloat(price)

	if !state.EWMAInitialized {
		state.EWMAVolatility = r2
		state.EWMAInitialized = true
	} else {
		state.EWMAVolatility = e.lambda*state.EWMAVolatility + (1-e.lambda)*r2
	}

	annualized := math.Sqrt(state.EWMAVolatility * annualizeEWMA)
	return annualized, true
}

// Traditional computes the rolling-window volatility from up to 42
// 4h closes, optionally volume-weighted, annualized. Returns the
// spec-mandated 20% fallback when too little data is available.
func (e *Estimator) Traditional(ctx context.Context) (float64, error) {
	candles, err := e.source.FetchOHLCV(ctx, e.symbol, "4h", traditionalWindow+1)
	if err != nil {
		return traditionalFallback, err
	}
	if len(candles) < 3 {
		return traditionalFallback, nil
	}

	returns := make([]float64, 0, len(candles)-1)
	meanVolume := 0.0
	for _, c := range candles {
		v, _ := c.Volume.Float64()
		meanVolume += v
	}
	meanVolume /= float64(len(candles))

	for i := 1; i < len(candles); i++ {
		prevClose, _ := candles[i-1].Close.Float64()
		close, _ := candles[i].Close.Float64()
		if prevClose <= 0 || close <= 0 {
			continue
		}
		r := math.Log(close / prevClose)
		if e.volumeWeighted && meanVolume > 0 {
			v, _ := candles[i].Volume.Float64()
			r *= v / meanVolume
		}
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return traditionalFallback, nil
	}

	stdev := sampleStdev(returns)
	return stdev * math.Sqrt(float64(annualizeTraditional)), nil
}

// Hybrid blends the traditional and EWMA estimates per the configured
// weight; falls back to pure traditional when the EWMA isn't ready
// yet.
func (e *Estimator) Hybrid(traditional, ewma float64, ewmaReady bool) float64 {
	if !ewmaReady {
		return traditional
	}
	return e.hybridWeight*ewma + (1-e.hybridWeight)*traditional
}

// Smooth appends a hybrid sample to state.VolatilityHistory (bounded
// to smoothingN) and returns (mean, ready). Until the buffer fills,
// ready is false and the caller must not resize the grid.
func (e *Estimator) Smooth(state *core.EngineState, hybridSample float64) (float64, bool) {
	state.VolatilityHistory = append(state.VolatilityHistory, hybridSample)
	if len(state.VolatilityHistory) > e.smoothingN {
		state.VolatilityHistory = state.VolatilityHistory[len(state.VolatilityHistory)-e.smoothingN:]
	}
	if len(state.VolatilityHistory) < e.smoothingN {
		return 0, false
	}
	sum := 0.0
	for _, v := range state.VolatilityHistory {
		sum += v
	}
	return sum / float64(len(state.VolatilityHistory)), true
}

func sampleStdev(xs []float64) float64 {
	n := float64(len(xs))
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= n
	sumSq := 0.0
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / (n - 1))
}
