// Package risk gates the grid engine's trade path on a coarse
// position-ratio computation.
package risk

import (
	"sync"

	"market_maker/internal/core"

	"github.com/shopspring/decimal"
)

// Controller is a per-symbol position-ratio gate. It is the refinement
// layer on top of the venue's own risk rules, never a substitute for
// them. Any computation error fails open to AllowAll.
type Controller struct {
	logger core.ILogger
	symbol core.SymbolId
	limits core.PositionLimits

	mu               sync.Mutex
	minBreachLogged  bool
	maxBreachLogged  bool
	lastLoggedRatio  float64
	hasLoggedRatio   bool
}

// NewController builds a Controller for one symbol with its
// effective (possibly per-symbol-overridden) limits.
func NewController(logger core.ILogger, symbol core.SymbolId, limits core.PositionLimits) *Controller {
	return &Controller{logger: logger, symbol: symbol, limits: limits}
}

// Evaluate computes the position ratio from a balance snapshot and the
// current price, and returns the gating RiskState plus the ratio.
// Maintains the logging-transition discipline: a WARNING only on entry
// into a non-ALLOW_ALL state, an INFO only on recovery, and a
// quantitative INFO line only when the ratio has moved by more than
// 0.1 percentage-point since the last print.
func (c *Controller) Evaluate(spot, funding core.Balance, currentPrice decimal.Decimal) (core.RiskState, float64) {
	base := c.symbol.Base
	quote := c.symbol.Quote

	baseUnits := spot.SpotFree[base].Add(spot.SpotUsed[base]).Add(funding.Funding[base])
	quoteUnits := spot.SpotFree[quote].Add(spot.SpotUsed[quote]).Add(funding.Funding[quote])

	baseValue := baseUnits.Mul(currentPrice)
	quoteValue := quoteUnits

	denominator := baseValue.Add(quoteValue)
	ratio := 0.0
	if denominator.IsPositive() {
		r, _ := baseValue.Div(denominator).Float64()
		ratio = r
	}

	state := core.AllowAll
	switch {
	case ratio > c.limits.MaxRatio:
		state = core.AllowSellOnly
	case ratio < c.limits.MinRatio:
		state = core.AllowBuyOnly
	}

	c.logTransition(state, ratio)
	return state, ratio
}

func (c *Controller) logTransition(state core.RiskState, ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch state {
	case core.AllowBuyOnly:
		if !c.minBreachLogged {
			c.logger.Warn("position ratio breached minimum, buy-only", "symbol", c.symbol.String(), "ratio", ratio)
			c.minBreachLogged = true
		}
		c.maxBreachLogged = false
	case core.AllowSellOnly:
		if !c.maxBreachLogged {
			c.logger.Warn("position ratio breached maximum, sell-only", "symbol", c.symbol.String(), "ratio", ratio)
			c.maxBreachLogged = true
		}
		c.minBreachLogged = false
	default:
		if c.minBreachLogged || c.maxBreachLogged {
			c.logger.Info("position ratio recovered to normal", "symbol", c.symbol.String(), "ratio", ratio)
		}
		c.minBreachLogged = false
		c.maxBreachLogged = false
	}

	if !c.hasLoggedRatio || absFloat(ratio-c.lastLoggedRatio) > 0.001 {
		c.logger.Info("position ratio", "symbol", c.symbol.String(), "ratio", ratio)
		c.lastLoggedRatio = ratio
		c.hasLoggedRatio = true
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// EvaluateSafe runs Evaluate and recovers from any panic during
// computation, failing open to ALLOW_ALL so a risk-evaluation bug
// never blocks trading outright.
func (c *Controller) EvaluateSafe(spot, funding core.Balance, currentPrice decimal.Decimal) (state core.RiskState, ratio float64) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("risk evaluation panicked, failing open", "symbol", c.symbol.String(), "recover", r)
			state = core.AllowAll
			ratio = 0
		}
	}()
	return c.Evaluate(spot, funding, currentPrice)
}
