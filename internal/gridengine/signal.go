package gridengine

import (
	"market_maker/internal/core"

	"github.com/shopspring/decimal"
)

// signal is the outcome of one band-monitoring evaluation.
type signal struct {
	fired bool
	side  core.OrderSide
}

// bandLevels derives the upper/lower watch bands and the retrace
// threshold fraction from the current base price and grid size.
func bandLevels(basePrice decimal.Decimal, gridSizePct float64) (upper, lower decimal.Decimal, retraceFraction float64) {
	factor := decimal.NewFromFloat(gridSizePct / 100)
	upper = basePrice.Mul(decimal.NewFromInt(1).Add(factor))
	lower = basePrice.Mul(decimal.NewFromInt(1).Sub(factor))
	retraceFraction = (gridSizePct / 5) / 100
	return upper, lower, retraceFraction
}

// evaluateBuy applies the BUY band-monitoring rule in place on state,
// returning a fired signal when the price has rebounded far enough off
// a latched local low.
func evaluateBuy(state *core.EngineState, currentPrice, lower decimal.Decimal, retraceFraction float64) signal {
	if currentPrice.LessThanOrEqual(lower) {
		state.IsMonitoringBuy = true
		if state.Lowest == nil || currentPrice.LessThan(*state.Lowest) {
			low := currentPrice
			state.Lowest = &low
		}
		if state.Lowest != nil {
			reboundTarget := state.Lowest.Mul(decimal.NewFromFloat(1 + retraceFraction))
			if currentPrice.GreaterThanOrEqual(reboundTarget) {
				state.IsMonitoringBuy = false
				return signal{fired: true, side: core.SideBuy}
			}
		}
		return signal{}
	}
	if state.IsMonitoringBuy {
		state.IsMonitoringBuy = false
		state.Lowest = nil
	}
	return signal{}
}

// evaluateSell is the mirror of evaluateBuy: latches on an upper-band
// touch, tracks the running high monotonically upward, fires on a
// downward retrace.
func evaluateSell(state *core.EngineState, currentPrice, upper decimal.Decimal, retraceFraction float64) signal {
	if currentPrice.GreaterThanOrEqual(upper) {
		state.IsMonitoringSell = true
		if state.Highest == nil || currentPrice.GreaterThan(*state.Highest) {
			high := currentPrice
			state.Highest = &high
		}
		if state.Highest != nil {
			retraceTarget := state.Highest.Mul(decimal.NewFromFloat(1 - retraceFraction))
			if currentPrice.LessThanOrEqual(retraceTarget) {
				state.IsMonitoringSell = false
				return signal{fired: true, side: core.SideSell}
			}
		}
		return signal{}
	}
	if state.IsMonitoringSell {
		state.IsMonitoringSell = false
		state.Highest = nil
	}
	return signal{}
}
