package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"market_maker/internal/config"
	"market_maker/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func testAdapter(t *testing.T, serverURL string) *Adapter {
	t.Helper()
	cfg := &config.Config{
		BaseURL:   serverURL,
		APIKey:    "test",
		APISecret: "test",
	}
	return NewAdapter(cfg, &mockLogger{})
}

func TestAdapter_FetchOrder_FilledMapsToClosed(t *testing.T) {
	rawOrder := `{
		"orderId": 123456,
		"clientOrderId": "test_cid",
		"symbol": "BTCUSDT",
		"side": "SELL",
		"status": "FILLED",
		"price": "50000.00",
		"origQty": "2.000",
		"executedQty": "2.000",
		"cummulativeQuoteQty": "100000.00",
		"transactTime": 1568879465650
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(rawOrder))
	}))
	defer server.Close()

	a := testAdapter(t, server.URL)
	symbol := core.SymbolId{Base: "BTC", Quote: "USDT"}
	order, err := a.FetchOrder(context.Background(), symbol, 123456)
	require.NoError(t, err)

	assert.Equal(t, int64(123456), order.OrderID)
	assert.Equal(t, "test_cid", order.ClientOrderID)
	assert.Equal(t, core.OrderClosed, order.Status)
	assert.Equal(t, "2", order.FilledAmount.String())
	assert.Equal(t, "50000", order.FilledPrice.String())
}

// TestAdapter_FetchOrder_PartiallyFilledStaysOpen guards the
// cancel-and-replace path: a resting remainder must never be mistaken
// for a closed order.
func TestAdapter_FetchOrder_PartiallyFilledStaysOpen(t *testing.T) {
	rawOrder := `{
		"orderId": 7,
		"symbol": "BTCUSDT",
		"side": "BUY",
		"status": "PARTIALLY_FILLED",
		"price": "50000.00",
		"origQty": "2.000",
		"executedQty": "0.500",
		"cummulativeQuoteQty": "25000.00",
		"transactTime": 1568879465650
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(rawOrder))
	}))
	defer server.Close()

	a := testAdapter(t, server.URL)
	symbol := core.SymbolId{Base: "BTC", Quote: "USDT"}
	order, err := a.FetchOrder(context.Background(), symbol, 7)
	require.NoError(t, err)

	assert.Equal(t, core.OrderOpen, order.Status)
	assert.Equal(t, "0.5", order.FilledAmount.String())
}

func TestMapOrderStatus(t *testing.T) {
	cases := []struct {
		venueStatus string
		want        core.OrderStatus
	}{
		{"FILLED", core.OrderClosed},
		{"PARTIALLY_FILLED", core.OrderOpen},
		{"NEW", core.OrderOpen},
		{"CANCELED", core.OrderCanceled},
		{"EXPIRED", core.OrderCanceled},
		{"REJECTED", core.OrderCanceled},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, mapOrderStatus(c.venueStatus), "venue status %q", c.venueStatus)
	}
}

func TestDecodeOrder_ZeroExecutedQtyLeavesFillPriceZero(t *testing.T) {
	rawOrder := `{
		"orderId": 1,
		"symbol": "BTCUSDT",
		"side": "BUY",
		"status": "NEW",
		"price": "50000.00",
		"origQty": "1.000",
		"executedQty": "0",
		"cummulativeQuoteQty": "0"
	}`
	order, err := decodeOrder([]byte(rawOrder), core.SymbolId{Base: "BTC", Quote: "USDT"})
	require.NoError(t, err)
	assert.True(t, order.FilledPrice.IsZero())
	assert.Equal(t, core.OrderOpen, order.Status)
}
