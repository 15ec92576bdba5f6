// FILE: broker_live_test.go

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveBrokerForTest(t *testing.T, handler http.Handler) *AlpacaBroker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := defaultConfig()
	cfg.BrokerBaseURL = srv.URL
	cfg.BrokerDataURL = srv.URL
	cfg.BrokerAPIKey = "key"
	cfg.BrokerSecretKey = "secret"
	cfg.OrdersPerMinute = 6000
	return newAlpacaBroker(cfg)
}

func TestAlpacaGetAccount(t *testing.T) {
	broker := liveBrokerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		json.NewEncoder(w).Encode(map[string]string{"cash": "900.50", "equity": "1010.25"})
	}))

	account, err := broker.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 900.50, account.Cash)
	assert.Equal(t, 1010.25, account.Equity)
}

func TestAlpacaSubmitOrderCarriesClientTag(t *testing.T) {
	broker := liveBrokerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/orders", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "run-1-1-AAPL", body["client_order_id"])
		assert.Equal(t, "buy", body["side"])
		json.NewEncoder(w).Encode(map[string]string{
			"id": "ord-1", "client_order_id": body["client_order_id"],
			"symbol": "AAPL", "side": "buy", "qty": "2", "status": "new",
		})
	}))

	receipt, err := broker.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: SideBuy, Qty: 2, OrderType: "market", ClientTag: "run-1-1-AAPL",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", receipt.OrderID)
	assert.Equal(t, StatusAcknowledged, receipt.Status)
	assert.Equal(t, 2.0, receipt.Qty)
}

func TestAlpacaOrderLookup404(t *testing.T) {
	broker := liveBrokerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := broker.GetOrderByClientTag(context.Background(), "missing-tag")
	assert.ErrorIs(t, err, errOrderNotFound)
}

func TestAlpacaErrorClassification(t *testing.T) {
	status := http.StatusTooManyRequests
	broker := liveBrokerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	_, err := broker.GetAccount(context.Background())
	var berr *BrokerError
	require.ErrorAs(t, err, &berr)
	assert.True(t, berr.Retryable, "429 must be retryable")

	status = http.StatusForbidden
	_, err = broker.GetAccount(context.Background())
	require.ErrorAs(t, err, &berr)
	assert.False(t, berr.Retryable, "4xx auth failures are not retryable")
}

func TestAlpacaBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cfg := defaultConfig()
	cfg.BrokerBaseURL = srv.URL
	cfg.BrokerDataURL = srv.URL
	cfg.BrokerAPIKey = "key"
	cfg.BrokerSecretKey = "secret"
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldownS = 60
	broker := newAlpacaBroker(cfg)

	for i := 0; i < 5; i++ {
		_, err := broker.GetAccount(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, 2, calls, "the open breaker must stop hitting the venue")
}

func TestAlpacaStatusMapping(t *testing.T) {
	cases := map[string]OrderStatus{
		"new":              StatusAcknowledged,
		"accepted":         StatusAcknowledged,
		"partially_filled": StatusPartiallyFilled,
		"filled":           StatusFilled,
		"canceled":         StatusCanceled,
		"expired":          StatusCanceled,
		"rejected":         StatusRejected,
		"weird_unknown":    StatusSubmitted,
	}
	for venue, want := range cases {
		assert.Equal(t, want, mapOrderStatus(venue), venue)
	}
}

func TestAlpacaGetRecentBars(t *testing.T) {
	broker := liveBrokerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/AAPL/bars", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"bars": []map[string]any{
				{"t": "2024-01-01T00:00:00Z", "o": 1.0, "h": 2.0, "l": 0.5, "c": 1.5, "v": 100.0},
				{"t": "2024-01-01T00:01:00Z", "o": 1.5, "h": 2.5, "l": 1.0, "c": 2.0, "v": 200.0},
			},
		})
	}))

	bars, err := broker.GetRecentBars(context.Background(), "AAPL", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.5, bars[0].Close)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.True(t, bars[1].Time.After(bars[0].Time))
}
