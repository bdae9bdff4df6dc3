package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPositionRatio      = "market_maker_position_ratio"
	MetricGridSize           = "market_maker_grid_size_pct"
	MetricVolatility         = "market_maker_volatility_annualized"
	MetricTotalAccountValue  = "market_maker_total_account_value"
	MetricOrdersPlacedTotal  = "market_maker_orders_placed_total"
	MetricOrdersFilledTotal  = "market_maker_orders_filled_total"
	MetricVolumeTotal        = "market_maker_volume_total"
	MetricRiskState          = "market_maker_risk_state"
	MetricRiskTransitions    = "market_maker_risk_state_transitions_total"
	MetricLatencyExchange    = "market_maker_latency_exchange_ms"
	MetricLatencyTickToTrade = "market_maker_latency_tick_to_trade_ms"
	MetricCheckIntervalSec   = "market_maker_check_interval_seconds"
)

// MetricsHolder holds initialized instruments for the grid trader. All
// per-symbol observable gauges are backed by a map guarded by mu and
// published through an observer callback registered at InitMetrics
// time.
type MetricsHolder struct {
	PositionRatio      metric.Float64ObservableGauge
	GridSize           metric.Float64ObservableGauge
	Volatility         metric.Float64ObservableGauge
	TotalAccountValue  metric.Float64ObservableGauge
	CheckIntervalSec   metric.Float64ObservableGauge
	RiskState          metric.Int64ObservableGauge
	OrdersPlacedTotal  metric.Int64Counter
	OrdersFilledTotal  metric.Int64Counter
	VolumeTotal        metric.Float64Counter
	RiskTransitions    metric.Int64Counter
	LatencyExchange    metric.Float64Histogram
	LatencyTickToTrade metric.Float64Histogram

	mu                sync.RWMutex
	positionRatioMap  map[string]float64
	gridSizeMap       map[string]float64
	volatilityMap     map[string]float64
	totalValueMap     map[string]float64
	checkIntervalMap  map[string]float64
	riskStateMap      map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			positionRatioMap: make(map[string]float64),
			gridSizeMap:      make(map[string]float64),
			volatilityMap:    make(map[string]float64),
			totalValueMap:    make(map[string]float64),
			checkIntervalMap: make(map[string]float64),
			riskStateMap:     make(map[string]int64),
		}
	})
	return globalMetrics
}

// riskStateCode maps a core.RiskState string to a stable numeric code
// for the gauge (0=ALLOW_ALL, 1=ALLOW_BUY_ONLY, 2=ALLOW_SELL_ONLY).
func riskStateCode(state string) int64 {
	switch state {
	case "ALLOW_BUY_ONLY":
		return 1
	case "ALLOW_SELL_ONLY":
		return 2
	default:
		return 0
	}
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders filled"))
	if err != nil {
		return err
	}

	m.VolumeTotal, err = meter.Float64Counter(MetricVolumeTotal, metric.WithDescription("Total trading volume in base asset"))
	if err != nil {
		return err
	}

	m.RiskTransitions, err = meter.Int64Counter(MetricRiskTransitions, metric.WithDescription("Total risk-state transitions"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LatencyTickToTrade, err = meter.Float64Histogram(MetricLatencyTickToTrade, metric.WithDescription("Time from price update to order action"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.PositionRatio, err = meter.Float64ObservableGauge(MetricPositionRatio, metric.WithDescription("Current base-asset position ratio of total account value"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionRatioMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.GridSize, err = meter.Float64ObservableGauge(MetricGridSize, metric.WithDescription("Current grid size as a percentage of reference price"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.gridSizeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.Volatility, err = meter.Float64ObservableGauge(MetricVolatility, metric.WithDescription("Current annualized hybrid volatility estimate"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.volatilityMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.TotalAccountValue, err = meter.Float64ObservableGauge(MetricTotalAccountValue, metric.WithDescription("Total account value across spot and funding wallets, in quote asset"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for quote, val := range m.totalValueMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("quote", quote)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CheckIntervalSec, err = meter.Float64ObservableGauge(MetricCheckIntervalSec, metric.WithDescription("Current dynamic check interval"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.checkIntervalMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RiskState, err = meter.Int64ObservableGauge(MetricRiskState, metric.WithDescription("Current risk state (0=ALLOW_ALL, 1=ALLOW_BUY_ONLY, 2=ALLOW_SELL_ONLY)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.riskStateMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state.

func (m *MetricsHolder) SetPositionRatio(symbol string, ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionRatioMap[symbol] = ratio
}

func (m *MetricsHolder) SetGridSize(symbol string, pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gridSizeMap[symbol] = pct
}

func (m *MetricsHolder) SetVolatility(symbol string, annualized float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volatilityMap[symbol] = annualized
}

func (m *MetricsHolder) SetTotalAccountValue(quoteAsset string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalValueMap[quoteAsset] = value
}

func (m *MetricsHolder) SetCheckInterval(symbol string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkIntervalMap[symbol] = seconds
}

// SetRiskState records the current state and, if it differs from the
// prior observation, increments RiskTransitions.
func (m *MetricsHolder) SetRiskState(ctx context.Context, symbol string, state string) {
	code := riskStateCode(state)
	m.mu.Lock()
	prev, had := m.riskStateMap[symbol]
	m.riskStateMap[symbol] = code
	m.mu.Unlock()

	if had && prev != code {
		m.RiskTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
	}
}

func (m *MetricsHolder) GetPositionRatio() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.positionRatioMap))
	for k, v := range m.positionRatioMap {
		res[k] = v
	}
	return res
}
