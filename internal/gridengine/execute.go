package gridengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market_maker/internal/core"
	apperrors "market_maker/pkg/errors"
	"market_maker/pkg/retry"
	"market_maker/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

var placementRetryPolicy = retry.RetryPolicy{
	MaxAttempts:    2,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     1 * time.Second,
}

func isTransientPlacementError(err error) bool {
	return errors.Is(err, apperrors.ErrNetwork) ||
		errors.Is(err, apperrors.ErrRateLimitExceeded) ||
		errors.Is(err, apperrors.ErrSystemOverload)
}

// executeSignal runs the full execution pipeline for one fired
// signal: size the order, ensure funds, place with bounded
// retry/replace, and on a confirmed fill update state and rebalance.
// Caller must hold e.mu.
func (e *Engine) executeSignal(ctx context.Context, side core.OrderSide) {
	for attempt := 0; attempt < maxOrderRetries; attempt++ {
		book, err := e.exchange.FetchOrderBook(ctx, e.symbol, 5)
		if err != nil {
			e.logger.Warn("order book fetch failed, aborting signal", "side", side, "error", err)
			return
		}
		price := book.BestAsk
		if side == core.SideSell {
			price = book.BestBid
		}
		if price.IsZero() {
			e.logger.Warn("no liquidity at top of book, aborting signal", "side", side)
			return
		}
		price = price.Round(int32(e.marketSpec.PricePrecision))

		amount, err := e.sizeOrder(ctx, side, price)
		if err != nil {
			e.logger.Warn("order sizing failed, aborting signal", "side", side, "error", err)
			return
		}

		if err := e.ensureFunds(ctx, side, amount, price); err != nil {
			e.logger.Warn("insufficient total funds, aborting signal", "side", side, "error", err)
			e.notify("insufficient funds", fmt.Sprintf("%s %s aborted: %v", e.symbol, side, err))
			return
		}

		var order core.Order
		err = retry.Do(ctx, placementRetryPolicy, isTransientPlacementError, func() error {
			var placeErr error
			order, placeErr = e.exchange.CreateLimitOrder(ctx, e.symbol, side, amount, price)
			return placeErr
		})
		if err != nil {
			e.logger.Warn("order placement failed", "side", side, "error", err, "attempt", attempt)
			continue
		}

		time.Sleep(postOrderWait)

		filled, ok := e.awaitFill(ctx, order)
		if ok {
			e.onFill(ctx, filled)
			return
		}
		// Not filled: awaitFill has already re-checked and cancelled the
		// order, so the next attempt re-prices from a fresh book.
	}

	e.logger.Warn("execution retries exhausted, giving up for this tick", "side", side)
	e.notify("execution failed", fmt.Sprintf("%s %s retries exhausted", e.symbol, side))
}

// awaitFill polls the order once, cancels it if still open (re-checking
// first in case of a fill race), and returns (order, true) only on a
// confirmed close.
func (e *Engine) awaitFill(ctx context.Context, order core.Order) (core.Order, bool) {
	fresh, err := e.exchange.FetchOrder(ctx, e.symbol, order.OrderID)
	if err != nil {
		e.logger.Warn("order status fetch failed", "order_id", order.OrderID, "error", err)
		return core.Order{}, false
	}
	if fresh.Status == core.OrderClosed {
		return fresh, true
	}

	if err := e.exchange.CancelOrder(ctx, e.symbol, order.OrderID); err != nil {
		e.logger.Warn("cancel failed, re-checking for a fill race", "order_id", order.OrderID, "error", err)
	}
	refreshed, err := e.exchange.FetchOrder(ctx, e.symbol, order.OrderID)
	if err == nil && refreshed.Status == core.OrderClosed {
		return refreshed, true
	}
	return core.Order{}, false
}

// sizeOrder computes the base-asset amount for a 10%-of-total-value
// notional, rounded down to the market's amount precision, then
// nudged up to satisfy min_amount/min_notional.
func (e *Engine) sizeOrder(ctx context.Context, side core.OrderSide, price decimal.Decimal) (decimal.Decimal, error) {
	total, err := e.exchange.CalculateTotalAccountValue(ctx, e.symbol.Quote)
	if err != nil {
		return decimal.Zero, err
	}
	notional := total.Mul(decimal.NewFromFloat(targetNotionalFraction))
	amount := tradingutils.RoundDownQuantity(notional.Div(price), e.marketSpec.AmountPrecision)

	if amount.LessThan(e.marketSpec.MinAmount) {
		amount = e.marketSpec.MinAmount
	}
	minNotionalAmount := e.marketSpec.MinNotional.Div(price)
	if amount.Mul(price).LessThan(e.marketSpec.MinNotional) {
		amount = minNotionalAmount.Round(int32(e.marketSpec.AmountPrecision))
		if amount.Mul(price).LessThan(e.marketSpec.MinNotional) {
			amount = amount.Add(decimal.New(1, -int32(e.marketSpec.AmountPrecision)))
		}
	}
	return amount, nil
}

// ensureFunds runs the pre-placement funds check: use free spot
// balance if sufficient, else redeem a buffered shortfall from
// funding and re-verify.
func (e *Engine) ensureFunds(ctx context.Context, side core.OrderSide, amount, price decimal.Decimal) error {
	asset := e.symbol.Quote
	required := amount.Mul(price)
	if side == core.SideSell {
		asset = e.symbol.Base
		required = amount
	}

	spot := e.exchange.FetchSpotBalance(ctx)
	free := spot.SpotFree[asset]
	if free.GreaterThanOrEqual(required) {
		return nil
	}

	if !e.exchange.Supports(core.FeatureFunding) {
		return fmt.Errorf("insufficient %s: have %s need %s, savings unsupported", asset, free, required)
	}

	shortfall := required.Sub(free).Mul(decimal.NewFromFloat(redeemBuffer))
	if err := e.exchange.TransferFundingToSpot(ctx, asset, shortfall); err != nil {
		return fmt.Errorf("redeem from funding failed: %w", err)
	}
	time.Sleep(postTransferWait)

	spot = e.exchange.FetchSpotBalance(ctx)
	free = spot.SpotFree[asset]
	if free.LessThan(required) {
		return fmt.Errorf("insufficient %s after redeem: have %s need %s", asset, free, required)
	}
	return nil
}

// onFill applies the post-fill state transition: reset reference
// price and extrema, record the trade, persist, and rebalance if
// funding is supported.
func (e *Engine) onFill(ctx context.Context, order core.Order) {
	fillPrice := order.FilledPrice
	if fillPrice.IsZero() {
		fillPrice = order.Price
	}

	e.state.BasePrice = fillPrice
	e.state.Highest = nil
	e.state.Lowest = nil
	e.state.IsMonitoringBuy = false
	e.state.IsMonitoringSell = false
	e.state.LastTradeTime = time.Now().UnixMilli()
	e.state.LastTradePrice = fillPrice

	trade := core.Trade{
		Timestamp:   time.Now(),
		Side:        order.Side,
		Price:       fillPrice,
		Amount:      order.FilledAmount,
		OrderID:     order.OrderID,
		StrategyTag: "grid",
	}
	if err := e.tracker.AddTrade(trade); err != nil {
		e.logger.Error("failed to append fill to trade ledger", "error", err)
	}

	if err := e.persistLocked(); err != nil {
		e.logger.Error("failed to persist state after fill", "error", err)
	}

	if e.exchange.Supports(core.FeatureFunding) {
		e.rebalance(ctx)
	}
}

func (e *Engine) notify(title, body string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(title, body)
}
