// Package binance obtiene velas spot 1m/5m para el contexto TA.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/ports"
	"golang.org/x/time/rate"
)

const (
	defaultBase = "https://api.binance.com"

	// /api/v3/klines pesa 2 weight; el límite es 6000 weight/min. 20 req/s
	// deja margen de sobra.
	klinesRatePerSec = 20
	maxKlinesPerPage = 1000

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// symbolMap traduce assets a pares spot.
var symbolMap = map[string]string{
	"BTC": "BTCUSDT",
	"ETH": "ETHUSDT",
}

// Client es el cliente de klines de Binance con rate limiting y retries.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

var _ ports.CandleProvider = (*Client)(nil)

// NewClient crea el cliente; con base vacía usa producción.
func NewClient(base string) *Client {
	if base == "" {
		base = defaultBase
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    base,
		limiter: rate.NewLimiter(klinesRatePerSec, 5),
	}
}

// Candles devuelve las velas del intervalo en [fromTS, toTS], paginando si la
// ventana supera el máximo por request.
func (c *Client) Candles(ctx context.Context, asset, interval string, fromTS, toTS int64) ([]domain.Candle, error) {
	symbol, ok := symbolMap[asset]
	if !ok {
		symbol = asset + "USDT"
	}

	var all []domain.Candle
	cursor := fromTS

	for cursor < toTS {
		page, err := c.fetchPage(ctx, symbol, interval, cursor, toTS)
		if err != nil {
			return nil, fmt.Errorf("binance.Candles: %s %s: %w", symbol, interval, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		last := page[len(page)-1].TS
		if last <= cursor {
			break
		}
		cursor = last + 1
		if len(page) < maxKlinesPerPage {
			break
		}
	}

	slog.Debug("candles fetched",
		"symbol", symbol,
		"interval", interval,
		"count", len(all),
	)
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, symbol, interval string, fromTS, toTS int64) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(fromTS*1000, 10))
	params.Set("endTime", strconv.FormatInt(toTS*1000, 10))
	params.Set("limit", strconv.Itoa(maxKlinesPerPage))

	// Cada kline llega como array heterogéneo:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var raw [][]json.RawMessage
	if err := c.get(ctx, c.base+"/api/v3/klines?"+params.Encode(), &raw); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		candle, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("parse kline: %w", err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKline(k []json.RawMessage) (domain.Candle, error) {
	var openMs int64
	if err := json.Unmarshal(k[0], &openMs); err != nil {
		return domain.Candle{}, err
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(k[i], &s); err != nil {
			return domain.Candle{}, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, err
		}
		fields[i-1] = v
	}

	return domain.Candle{
		TS:     openMs / 1000,
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}

// get hace un GET con rate limiting y backoff exponencial.
func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("status %d after %d retries", resp.StatusCode, maxRetries)
			}
			slog.Warn("binance request retried", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
