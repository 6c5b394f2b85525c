package ports

import (
	"context"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// BookProvider lee el historial de precios del order book de un token.
type BookProvider interface {
	// PriceTicks devuelve los ticks (ts, price) del token en [fromTS, toTS],
	// ordenados por timestamp ascendente.
	PriceTicks(ctx context.Context, tokenID string, fromTS, toTS int64) ([]domain.Tick, error)
}

// OrderPlacer places and monitors limit orders on the book (live mode only).
type OrderPlacer interface {
	// PlaceLimitOrder submits a BUY limit order and returns the book order id.
	PlaceLimitOrder(ctx context.Context, tokenID string, price, size float64) (string, error)

	// OrderStatus reports the current fill state of an order.
	OrderStatus(ctx context.Context, orderID string) (domain.FillStatus, float64, error)
}
