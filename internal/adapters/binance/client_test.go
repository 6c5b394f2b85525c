package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandles_ParsesKlines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))

		// [openTimeMs, open, high, low, close, volume, closeTimeMs, ...]
		payload := [][]any{
			{int64(1000000000), "100.1", "101.0", "99.5", "100.8", "12.5", int64(1000059999)},
			{int64(1000060000), "100.8", "102.0", "100.2", "101.5", "8.1", int64(1000119999)},
		}
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	candles, err := c.Candles(context.Background(), "BTC", "1m", 1000000, 1000120)
	require.NoError(t, err)

	require.Len(t, candles, 2)
	assert.Equal(t, int64(1000000), candles[0].TS, "open time en segundos")
	assert.InDelta(t, 100.1, candles[0].Open, 1e-9)
	assert.InDelta(t, 101.0, candles[0].High, 1e-9)
	assert.InDelta(t, 99.5, candles[0].Low, 1e-9)
	assert.InDelta(t, 100.8, candles[0].Close, 1e-9)
	assert.InDelta(t, 12.5, candles[0].Volume, 1e-9)
	assert.Equal(t, int64(1000060), candles[1].TS)
}

func TestCandles_UnknownAssetDefaultsToUSDT(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SOLUSDT", r.URL.Query().Get("symbol"))
		json.NewEncoder(w).Encode([][]any{})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	candles, err := c.Candles(context.Background(), "SOL", "5m", 0, 100)
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestCandles_ClientErrorIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.Candles(context.Background(), "BTC", "1m", 0, 100)
	assert.Error(t, err, "4xx no se reintenta")
}
