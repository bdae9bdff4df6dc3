package gridengine

import (
	"context"

	"market_maker/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// perAssetMinTransfer is the fallback minimum subscribe/redeem amount
// for an asset with no configured savings precision entry.
const perAssetMinTransfer = 0.01

// rebalance implements the savings/spot working-capital policy: keep
// roughly cfg.SpotFundsTargetRatio (workingCapitalDefault when zero) of
// total account value, per side, in spot; sweep any excess into funding and redeem any shortfall back
// out. Caller must hold e.mu.
func (e *Engine) rebalance(ctx context.Context) {
	total, err := e.exchange.CalculateTotalAccountValue(ctx, e.symbol.Quote)
	if err != nil {
		e.logger.Warn("rebalance skipped, total value fetch failed", "error", err)
		return
	}
	if !e.state.Initialized() || e.state.BasePrice.IsZero() {
		return
	}

	ratio := decimal.NewFromFloat(e.cfg.SpotFundsTargetRatio)
	if ratio.IsZero() {
		ratio = decimal.NewFromFloat(workingCapitalDefault)
	}
	targetHoldQuote := total.Mul(ratio)
	targetHoldBase := targetHoldQuote.Div(e.state.BasePrice)

	spot := e.exchange.FetchSpotBalance(ctx)
	funding := e.exchange.FetchFundingBalance(ctx)

	quotePrecision := e.cfg.SavingsPrecisionFor(e.symbol.Quote, true)
	basePrecision := e.cfg.SavingsPrecisionFor(e.symbol.Base, false)

	e.rebalanceAsset(ctx, e.symbol.Quote, spot.SpotFree[e.symbol.Quote], funding.Funding[e.symbol.Quote], targetHoldQuote, decimal.NewFromInt(1), quotePrecision)
	e.rebalanceAsset(ctx, e.symbol.Base, spot.SpotFree[e.symbol.Base], funding.Funding[e.symbol.Base], targetHoldBase, decimal.NewFromFloat(e.savingsMinFor(e.symbol.Base)), basePrecision)
}

// rebalanceAsset sweeps one asset's free-spot balance toward its
// target hold, subscribing excess to funding or redeeming shortfall
// from it, subject to a minimum transfer size. Transfer amounts are
// truncated to the asset's savings precision so a transfer request
// never exceeds what is actually available.
func (e *Engine) rebalanceAsset(ctx context.Context, asset string, free, held, target, minTransfer decimal.Decimal, precision int32) {
	if free.GreaterThan(target) {
		excess := tradingutils.FormatForTransfer(free.Sub(target), precision)
		if excess.GreaterThanOrEqual(minTransfer) {
			if err := e.exchange.TransferSpotToFunding(ctx, asset, excess); err != nil {
				e.logger.Warn("subscribe to funding failed", "asset", asset, "amount", excess, "error", err)
			} else {
				e.logger.Info("subscribed excess spot to funding", "asset", asset, "amount", excess)
			}
		}
		return
	}

	if free.LessThan(target) && held.IsPositive() {
		deficit := target.Sub(free)
		redeemAmount := tradingutils.FormatForTransfer(decimal.Min(deficit, held), precision)
		if redeemAmount.GreaterThanOrEqual(minTransfer) {
			if err := e.exchange.TransferFundingToSpot(ctx, asset, redeemAmount); err != nil {
				e.logger.Warn("redeem from funding failed", "asset", asset, "amount", redeemAmount, "error", err)
			} else {
				e.logger.Info("redeemed funding shortfall to spot", "asset", asset, "amount", redeemAmount)
			}
		}
	}
}

// savingsMinFor returns the configured minimum transfer size for an
// asset, falling back to perAssetMinTransfer.
func (e *Engine) savingsMinFor(asset string) float64 {
	if precision, ok := e.cfg.SavingsPrecisions[asset]; ok && precision >= 0 {
		min := decimal.New(1, -int32(precision))
		f, _ := min.Float64()
		if f > 0 {
			return f
		}
	}
	return perAssetMinTransfer
}
