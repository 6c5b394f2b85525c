package execution

import (
	"context"
	"log/slog"
	"strings"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/metrics"
	"github.com/google/uuid"
)

// Paper simula fills sin I/O de red: la orden llena inmediatamente al
// price_cap configurado.
type Paper struct {
	fillPrice float64
}

// NewPaper crea el ejecutor paper con el precio simulado de fill.
func NewPaper(fillPrice float64) *Paper {
	return &Paper{fillPrice: fillPrice}
}

var _ Executor = (*Paper)(nil)

// Place implementa Executor.
func (p *Paper) Place(_ context.Context, trade domain.Trade, signal domain.Signal, window domain.MarketWindow, stake float64) (Placement, error) {
	tokenID := window.TokenFor(signal.Direction)

	if trade.OrderID != "" {
		// Idempotencia: la orden ya existe, devolver el estado registrado.
		return Placement{
			OrderID:    trade.OrderID,
			TokenID:    trade.TokenID,
			FillPrice:  trade.FillPrice,
			FillStatus: trade.FillStatus,
		}, nil
	}

	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	orderID := "PAPER_" + strings.ToUpper(hex[:12])

	slog.Info("paper order placed",
		"trade_id", trade.ID,
		"order_id", orderID,
		"direction", signal.Direction,
		"stake", stake,
		"fill_price", p.fillPrice,
	)
	metrics.OrdersPlaced.WithLabelValues(string(ModePaper)).Inc()

	return Placement{
		OrderID:    orderID,
		TokenID:    tokenID,
		FillPrice:  p.fillPrice,
		FillStatus: domain.FillFilled,
	}, nil
}
