// Package gridengine implements the per-symbol mean-reversion state
// machine: band monitoring, signal firing, bounded retry/replace
// execution, and periodic savings/spot rebalancing.
package gridengine

import (
	"context"
	"sync"
	"time"

	"market_maker/internal/config"
	"market_maker/internal/core"
	"market_maker/internal/ordertracker"
	"market_maker/internal/risk"
	"market_maker/internal/volatility"

	"github.com/shopspring/decimal"
)

const (
	tickInterval        = 5 * time.Second
	postOrderWait        = 3 * time.Second
	postTransferWait      = 5 * time.Second
	maxOrderRetries       = 10
	targetNotionalFraction = 0.10
	reconciliationLimit   = 50
	redeemBuffer          = 1.05
	workingCapitalDefault = 0.16
)

// Engine is one symbol's grid-trading state machine. Its mutable state
// is guarded by mu: the loop goroutine holds it for each tick, and
// Snapshot and ReloadConfig take it when called from other goroutines.
type Engine struct {
	symbol   core.SymbolId
	cfg      *config.Config
	logger   core.ILogger
	exchange core.IExchange

	vol       *volatility.Estimator
	riskCtl   *risk.Controller
	tracker   *ordertracker.Tracker
	marketSpec core.MarketSpec

	statePath string
	state     *core.EngineState

	mu sync.Mutex

	notifier core.Notifier

	lastPrice     decimal.Decimal
	lastRiskState core.RiskState
}

// New constructs an Engine for one symbol. It does not start the main
// loop; call Init then Run.
func New(symbol core.SymbolId, cfg *config.Config, logger core.ILogger, xchg core.IExchange, tracker *ordertracker.Tracker, notifier core.Notifier) *Engine {
	lggr := logger.WithField("symbol", symbol.String())
	limits := cfg.PositionLimitsFor(symbol)
	e := &Engine{
		symbol:    symbol,
		cfg:       cfg,
		logger:    lggr,
		exchange:  xchg,
		riskCtl:   risk.NewController(lggr, symbol, limits),
		tracker:   tracker,
		statePath: ordertracker.StatePath(cfg.StateDir, symbol.FileStem()),
		notifier:  notifier,
	}
	e.vol = volatility.New(symbol, xchg, volatility.Config{
		Lambda:         cfg.VolatilityEWMALambda,
		HybridWeight:   cfg.VolatilityHybridWeight,
		SmoothingN:     cfg.GridParams.SmoothingSamples,
		VolumeWeighted: cfg.EnableVolumeWeighting,
	})
	return e
}

// Init runs the startup sequence: load or seed state, resolve the
// market spec, reconcile recent fills, and perform the initial
// savings/spot rebalance.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := &core.EngineState{}
	found, err := ordertracker.ReadJSON(e.statePath, state)
	if err != nil {
		e.logger.Warn("failed to load persisted state, starting fresh", "error", err)
		found = false
	}
	if !found {
		state = e.seedState()
	}
	e.state = state

	spec, ok := e.exchange.GetMarketSpec(e.symbol)
	if !ok {
		e.logger.Info("market spec not found in catalogue, using defaults")
	}
	e.marketSpec = spec

	if !e.state.Initialized() {
		ticker, err := e.exchange.FetchTicker(ctx, e.symbol)
		if err != nil {
			return err
		}
		e.state.BasePrice = ticker.LastPrice
	}

	if err := e.tracker.ReconcileFromVenue(ctx, e.symbol, e.exchange, reconciliationLimit); err != nil {
		e.logger.Warn("startup trade reconciliation failed", "error", err)
	}

	if e.exchange.Supports(core.FeatureFunding) {
		e.rebalance(ctx)
	}

	return e.persistLocked()
}

// seedState builds the initial EngineState from configured seed
// parameters (INITIAL_PARAMS_JSON / INITIAL_GRID), falling back to
// zero values that Init will then complete from a live ticker.
func (e *Engine) seedState() *core.EngineState {
	gridSize := e.cfg.InitialGrid
	basePrice := decimal.Zero
	if params, ok := e.cfg.InitialParams[e.symbol.String()]; ok {
		basePrice = params.InitialBasePrice
		if params.InitialGrid > 0 {
			gridSize = params.InitialGrid
		}
	}
	return &core.EngineState{
		BasePrice: basePrice,
		GridSize:  gridSize,
	}
}

// Run executes the main loop until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tickInterval):
		}
	}
}

// tick runs one main-loop iteration: refresh price and balances,
// maybe resize the grid, evaluate risk, then check sell and buy
// signals in that order.
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ticker, err := e.exchange.FetchTicker(ctx, e.symbol)
	if err != nil {
		e.logger.Warn("ticker fetch failed, will retry next tick", "error", err)
		return
	}
	currentPrice := ticker.LastPrice

	spot := e.exchange.FetchSpotBalance(ctx)
	funding := e.exchange.FetchFundingBalance(ctx)

	e.maybeResizeGrid(ctx, currentPrice)

	state := e.riskCtl.EvaluateSafe
	riskState, _ := state(spot, funding, currentPrice)

	e.lastPrice = currentPrice
	e.lastRiskState = riskState

	if !e.tradeIntervalElapsed() {
		return
	}

	upper, lower, retraceFraction := bandLevels(e.state.BasePrice, e.state.GridSize)

	if riskState != core.AllowBuyOnly {
		if sig := evaluateSell(e.state, currentPrice, upper, retraceFraction); sig.fired {
			e.executeSignal(ctx, sig.side)
			return
		}
	}
	if riskState != core.AllowSellOnly {
		if sig := evaluateBuy(e.state, currentPrice, lower, retraceFraction); sig.fired {
			e.executeSignal(ctx, sig.side)
		}
	}
}

// maybeResizeGrid recomputes volatility and resizes the grid once
// enough time has elapsed since the last adjustment, per the dynamic
// check interval.
func (e *Engine) maybeResizeGrid(ctx context.Context, currentPrice decimal.Decimal) {
	lastAdjust := time.UnixMilli(e.state.LastGridAdjustTime)
	ewmaVol, ewmaReady := e.vol.UpdateEWMA(e.state, mustFloat(currentPrice))

	interval := volatility.CheckInterval(ewmaVol, ewmaReady)
	if e.state.LastGridAdjustTime != 0 && time.Since(lastAdjust) < interval {
		return
	}

	traditional, err := e.vol.Traditional(ctx)
	if err != nil {
		e.logger.Warn("traditional volatility fetch failed, using fallback", "error", err)
	}
	hybrid := e.vol.Hybrid(traditional, ewmaVol, ewmaReady)
	smoothed, ready := e.vol.Smooth(e.state, hybrid)
	if !ready {
		e.state.LastGridAdjustTime = time.Now().UnixMilli()
		return
	}

	params := volatility.GridParams{
		BaseGrid:  e.cfg.GridContinuousParams.BaseGrid,
		VolCenter: e.cfg.GridContinuousParams.VolCenter,
		K:         e.cfg.GridContinuousParams.K,
		GridMin:   e.cfg.GridParams.GridMin,
		GridMax:   e.cfg.GridParams.GridMax,
	}
	newGrid, changed := volatility.ResizeGrid(params, e.state.GridSize, smoothed)
	e.state.LastGridAdjustTime = time.Now().UnixMilli()
	if changed {
		e.state.GridSize = newGrid
		if err := e.persistLocked(); err != nil {
			e.logger.Error("persist after grid resize failed", "error", err)
		}
	}
}

// tradeIntervalElapsed enforces MIN_TRADE_INTERVAL: a symbol may fire
// at most one main trade per configured interval, regardless of how
// often bands are touched in between.
func (e *Engine) tradeIntervalElapsed() bool {
	if e.state.LastTradeTime == 0 {
		return true
	}
	minInterval := time.Duration(e.cfg.MinTradeIntervalSeconds) * time.Second
	return time.Since(time.UnixMilli(e.state.LastTradeTime)) >= minInterval
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// persistLocked writes the current state atomically. Caller must hold
// e.mu.
func (e *Engine) persistLocked() error {
	if err := ordertracker.AtomicWriteJSON(e.statePath, e.state); err != nil {
		e.logger.Error("persistence failed, keeping in-memory state", "error", err)
		return err
	}
	return nil
}

// ReloadConfig hot-swaps tuning parameters without touching base
// price or credentials.
func (e *Engine) ReloadConfig(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	if params, ok := cfg.InitialParams[e.symbol.String()]; ok && params.InitialGrid > 0 {
		e.state.GridSize = params.InitialGrid
	}
}

// Snapshot returns a read-only view of engine state for the
// observability sink. Never mutates.
func (e *Engine) Snapshot() EngineView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineView{
		Symbol:         e.symbol.String(),
		BasePrice:      e.state.BasePrice,
		GridSize:       e.state.GridSize,
		CurrentPrice:   e.lastPrice,
		LastTradeTime:  e.state.LastTradeTime,
		LastTradePrice: e.state.LastTradePrice,
		RiskState:      e.lastRiskState,
		Volatility:     e.state.EWMAVolatility,
	}
}

// EngineView is the read-only observability snapshot of one engine.
type EngineView struct {
	Symbol         string          `json:"symbol"`
	BasePrice      decimal.Decimal `json:"base_price"`
	GridSize       float64         `json:"grid_size"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	LastTradeTime  int64           `json:"last_trade_time"`
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	RiskState      core.RiskState  `json:"risk_state"`
	Volatility     float64         `json:"volatility"`
}
