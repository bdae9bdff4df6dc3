package risk

import (
	"testing"

	"market_maker/internal/core"
	"market_maker/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testSymbol() core.SymbolId {
	return core.SymbolId{Base: "BNB", Quote: "USDT"}
}

func testLogger() core.ILogger {
	l, _ := logging.NewZapLogger("ERROR")
	return l
}

func balanceWith(baseFree, quoteFree string) core.Balance {
	b := core.EmptyBalance()
	b.SpotFree["BNB"] = decimal.RequireFromString(baseFree)
	b.SpotFree["USDT"] = decimal.RequireFromString(quoteFree)
	return b
}

func TestEvaluate_AllowAllWithinBounds(t *testing.T) {
	c := NewController(testLogger(), testSymbol(), core.PositionLimits{MinRatio: 0.1, MaxRatio: 0.9})
	state, ratio := c.Evaluate(balanceWith("1", "1"), core.EmptyBalance(), decimal.NewFromInt(1))
	assert.Equal(t, core.AllowAll, state)
	assert.InDelta(t, 0.5, ratio, 1e-9)
}

func TestEvaluate_AllowBuyOnlyBelowMin(t *testing.T) {
	c := NewController(testLogger(), testSymbol(), core.PositionLimits{MinRatio: 0.1, MaxRatio: 0.9})
	state, _ := c.Evaluate(balanceWith("0", "100"), core.EmptyBalance(), decimal.NewFromInt(1))
	assert.Equal(t, core.AllowBuyOnly, state)
}

func TestEvaluate_AllowSellOnlyAboveMax(t *testing.T) {
	c := NewController(testLogger(), testSymbol(), core.PositionLimits{MinRatio: 0.1, MaxRatio: 0.9})
	state, _ := c.Evaluate(balanceWith("100", "0"), core.EmptyBalance(), decimal.NewFromInt(1))
	assert.Equal(t, core.AllowSellOnly, state)
}

func TestEvaluate_ZeroDenominatorIsZeroRatio(t *testing.T) {
	c := NewController(testLogger(), testSymbol(), core.PositionLimits{MinRatio: 0.1, MaxRatio: 0.9})
	state, ratio := c.Evaluate(core.EmptyBalance(), core.EmptyBalance(), decimal.NewFromInt(1))
	assert.Equal(t, core.AllowBuyOnly, state)
	assert.Equal(t, 0.0, ratio)
}

func TestLogTransition_OnlyLogsOnce(t *testing.T) {
	c := NewController(testLogger(), testSymbol(), core.PositionLimits{MinRatio: 0.1, MaxRatio: 0.9})
	c.Evaluate(balanceWith("0", "100"), core.EmptyBalance(), decimal.NewFromInt(1))
	assert.True(t, c.minBreachLogged)
	c.Evaluate(balanceWith("0", "100"), core.EmptyBalance(), decimal.NewFromInt(1))
	assert.True(t, c.minBreachLogged)
}

func TestLogTransition_RecoversClearsFlags(t *testing.T) {
	c := NewController(testLogger(), testSymbol(), core.PositionLimits{MinRatio: 0.1, MaxRatio: 0.9})
	c.Evaluate(balanceWith("0", "100"), core.EmptyBalance(), decimal.NewFromInt(1))
	assert.True(t, c.minBreachLogged)
	c.Evaluate(balanceWith("1", "1"), core.EmptyBalance(), decimal.NewFromInt(1))
	assert.False(t, c.minBreachLogged)
}

// transitionPanicLogger panics on Warn and Info, which Evaluate calls
// while logging a transition, but not on Error, which EvaluateSafe
// uses to report the recovered panic.
type transitionPanicLogger struct{}

func (transitionPanicLogger) Debug(msg string, fields ...interface{}) {}
func (transitionPanicLogger) Info(msg string, fields ...interface{})  { panic("info: " + msg) }
func (transitionPanicLogger) Warn(msg string, fields ...interface{})  { panic("warn: " + msg) }
func (transitionPanicLogger) Error(msg string, fields ...interface{}) {}
func (transitionPanicLogger) Fatal(msg string, fields ...interface{}) {}
func (l transitionPanicLogger) WithField(key string, value interface{}) core.ILogger {
	return l
}
func (l transitionPanicLogger) WithFields(fields map[string]interface{}) core.ILogger {
	return l
}

func TestEvaluateSafe_RecoversFromPanic(t *testing.T) {
	// Nil balance maps read as zero, so the ratio is 0 and Evaluate
	// enters ALLOW_BUY_ONLY; the panic comes from the logger on that
	// transition.
	c := NewController(transitionPanicLogger{}, testSymbol(), core.PositionLimits{MinRatio: 0.1, MaxRatio: 0.9})
	var nilBalance core.Balance
	state, ratio := c.EvaluateSafe(nilBalance, nilBalance, decimal.NewFromInt(1))
	assert.Equal(t, core.AllowAll, state)
	assert.Equal(t, 0.0, ratio)
}
