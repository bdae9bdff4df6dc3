package gridengine

import (
	"context"
	"testing"

	"market_maker/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebalance_SweepsExcessSpotToFunding(t *testing.T) {
	xchg := &stubExchange{
		supports:   map[core.Feature]bool{core.FeatureFunding: true},
		marketSpec: baseMarketSpec(),
		totalValue: decimal.NewFromInt(1000),
		spot: core.Balance{SpotFree: map[string]decimal.Decimal{
			"USDT": decimal.NewFromInt(900),
			"BNB":  decimal.NewFromInt(1),
		}},
		funding: core.Balance{Funding: map[string]decimal.Decimal{}},
	}
	e := newTestEngine(t, xchg, &stubNotifier{})
	e.state.BasePrice = decimal.NewFromInt(100)

	e.rebalance(context.Background())

	require.Len(t, xchg.transferSpotToFundingCalls, 1)
	assert.Equal(t, "USDT", xchg.transferSpotToFundingCalls[0].asset)
	// target hold = 0.16*1000 = 160, free 900 -> excess 740
	assert.True(t, xchg.transferSpotToFundingCalls[0].amount.Equal(decimal.NewFromInt(740)))
}

func TestRebalance_RedeemsShortfallFromFunding(t *testing.T) {
	xchg := &stubExchange{
		supports:   map[core.Feature]bool{core.FeatureFunding: true},
		marketSpec: baseMarketSpec(),
		totalValue: decimal.NewFromInt(1000),
		spot: core.Balance{SpotFree: map[string]decimal.Decimal{
			"USDT": decimal.NewFromInt(10),
			"BNB":  decimal.NewFromInt(5),
		}},
		funding: core.Balance{Funding: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(500)}},
	}
	e := newTestEngine(t, xchg, &stubNotifier{})
	e.state.BasePrice = decimal.NewFromInt(100)

	e.rebalance(context.Background())

	require.Len(t, xchg.transferFundingToSpotCalls, 1)
	assert.Equal(t, "USDT", xchg.transferFundingToSpotCalls[0].asset)
	// target hold = 160, free 10 -> deficit 150, funding has 500 -> redeem 150
	assert.True(t, xchg.transferFundingToSpotCalls[0].amount.Equal(decimal.NewFromInt(150)))
}

func TestRebalance_SkipsUninitializedEngine(t *testing.T) {
	xchg := &stubExchange{supports: map[core.Feature]bool{core.FeatureFunding: true}, marketSpec: baseMarketSpec()}
	e := newTestEngine(t, xchg, &stubNotifier{})
	e.state.BasePrice = decimal.Zero

	e.rebalance(context.Background())

	assert.Empty(t, xchg.transferSpotToFundingCalls)
	assert.Empty(t, xchg.transferFundingToSpotCalls)
}
