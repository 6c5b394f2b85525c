package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/metrics"
	"github.com/evgenss79/MARTIN/internal/ports"
)

const (
	statusPollInterval = 5 * time.Second
	statusPollTimeout  = 60 * time.Second
)

// Live coloca órdenes reales en el book y sondea el fill con un timeout
// acotado. PARTIAL se reporta tal cual; el orchestrator lo trata como FILLED
// a efectos de rachas.
type Live struct {
	book       ports.OrderPlacer
	limitPrice float64
}

// NewLive crea el ejecutor live. limitPrice es el precio límite de compra
// (el price_cap validado por el CAP check).
func NewLive(book ports.OrderPlacer, limitPrice float64) *Live {
	return &Live{book: book, limitPrice: limitPrice}
}

var _ Executor = (*Live)(nil)

// Place implementa Executor.
func (l *Live) Place(ctx context.Context, trade domain.Trade, signal domain.Signal, window domain.MarketWindow, stake float64) (Placement, error) {
	if trade.OrderID != "" {
		return Placement{
			OrderID:    trade.OrderID,
			TokenID:    trade.TokenID,
			FillPrice:  trade.FillPrice,
			FillStatus: trade.FillStatus,
		}, nil
	}

	tokenID := window.TokenFor(signal.Direction)
	size := stake / l.limitPrice // número de contratos

	slog.Info("placing live order",
		"trade_id", trade.ID,
		"direction", signal.Direction,
		"price", l.limitPrice,
		"size", size,
		"stake", stake,
	)

	orderID, err := l.book.PlaceLimitOrder(ctx, tokenID, l.limitPrice, size)
	if err != nil {
		return Placement{}, fmt.Errorf("execution.Live.Place: trade %d: %w", trade.ID, err)
	}
	metrics.OrdersPlaced.WithLabelValues(string(ModeLive)).Inc()

	status, fillPrice, err := l.pollFill(ctx, orderID)
	if err != nil {
		return Placement{}, fmt.Errorf("execution.Live.Place: poll order %s: %w", orderID, err)
	}
	if fillPrice <= 0 {
		fillPrice = l.limitPrice
	}

	return Placement{
		OrderID:    orderID,
		TokenID:    tokenID,
		FillPrice:  fillPrice,
		FillStatus: status,
	}, nil
}

// pollFill sondea el estado de la orden hasta fill, rechazo o timeout. Al
// agotar el timeout devuelve el último estado observado.
func (l *Live) pollFill(ctx context.Context, orderID string) (domain.FillStatus, float64, error) {
	deadline := time.NewTimer(statusPollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	lastStatus := domain.FillPending
	lastPrice := 0.0

	for {
		status, price, err := l.book.OrderStatus(ctx, orderID)
		if err != nil {
			return lastStatus, lastPrice, err
		}
		lastStatus, lastPrice = status, price

		switch status {
		case domain.FillFilled, domain.FillPartial, domain.FillRejected, domain.FillCancelled:
			return status, price, nil
		}

		select {
		case <-ctx.Done():
			return lastStatus, lastPrice, ctx.Err()
		case <-deadline.C:
			slog.Warn("order status poll timed out", "order_id", orderID, "last_status", lastStatus)
			return lastStatus, lastPrice, nil
		case <-ticker.C:
		}
	}
}
