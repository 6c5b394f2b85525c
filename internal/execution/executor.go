// Package execution coloca órdenes en modo paper o live y calcula la
// liquidación. place es idempotente por trade: una segunda llamada para un
// trade que ya tiene order_id devuelve el resultado existente.
package execution

import (
	"context"
	"fmt"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// Mode selecciona el ejecutor.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Placement es el resultado de colocar (o simular) una orden.
type Placement struct {
	OrderID    string
	TokenID    string
	FillPrice  float64
	FillStatus domain.FillStatus
}

// Executor places one BUY limit order per approved trade.
type Executor interface {
	// Place submits (or simulates) the order for the trade. Keyed by
	// trade.ID: if the trade already carries an order id, the existing
	// placement is returned unchanged.
	Place(ctx context.Context, trade domain.Trade, signal domain.Signal, window domain.MarketWindow, stake float64) (Placement, error)
}

// Settlement es el resultado económico de un trade resuelto.
type Settlement struct {
	IsWin bool
	PnL   float64
}

// Settle computes the outcome of a filled trade once the window resolved.
// Win pays stake*(1/fill_price - 1); a loss forfeits the stake.
func Settle(trade domain.Trade, window domain.MarketWindow, signal domain.Signal) (Settlement, error) {
	if window.Outcome == "" {
		return Settlement{}, fmt.Errorf("execution.Settle: window %d has no outcome yet", window.ID)
	}

	isWin := string(signal.Direction) == window.Outcome

	var pnl float64
	if isWin {
		fillPrice := trade.FillPrice
		if fillPrice <= 0 {
			return Settlement{}, fmt.Errorf("execution.Settle: trade %d has no fill price", trade.ID)
		}
		pnl = trade.StakeAmount * (1/fillPrice - 1)
	} else {
		pnl = -trade.StakeAmount
	}

	return Settlement{IsWin: isWin, PnL: pnl}, nil
}
