package ports

import (
	"context"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// CandleProvider obtiene velas OHLCV de la fuente de precios spot.
type CandleProvider interface {
	// Candles devuelve las velas del intervalo ("1m" | "5m") en [fromTS, toTS],
	// ordenadas por timestamp ascendente.
	Candles(ctx context.Context, asset, interval string, fromTS, toTS int64) ([]domain.Candle, error)
}
