package orchestrator

import (
	"context"
	"log/slog"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/execution"
	"github.com/evgenss79/MARTIN/internal/metrics"
)

// sweepSettlements resuelve outcomes y liquida los trades ORDER_PLACED. La
// actualización de stats entra en la misma transacción que la fila del trade.
// Una ventana sin outcome se reintenta cada ciclo hasta el timeout duro, que
// congela el trade en ERROR. trades es la lista capturada al inicio del
// ciclo: lo que entró a ORDER_PLACED en este mismo ciclo espera al próximo.
func (o *Orchestrator) sweepSettlements(ctx context.Context, trades []domain.Trade, nowTS int64, cycleID int64) {
	for _, trade := range trades {
		if trade.Status != domain.StatusOrderPlaced {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		trade := trade
		o.withTradeLock(trade.ID, func() {
			if err := o.settleOne(ctx, trade, nowTS, cycleID); err != nil {
				slog.Error("settlement failed",
					"cycle_id", cycleID,
					"trade_id", trade.ID,
					"err", err,
				)
			}
		})
	}
}

func (o *Orchestrator) settleOne(ctx context.Context, trade domain.Trade, nowTS int64, cycleID int64) error {
	// Releer bajo el lock: una decisión concurrente pudo haber avanzado.
	trade, err := o.ledger.TradeByID(ctx, trade.ID)
	if err != nil {
		return err
	}
	if trade.Status != domain.StatusOrderPlaced {
		return nil
	}

	// Un rechazo del ejecutor congela el trade en ERROR.
	if trade.FillStatus == domain.FillRejected || trade.FillStatus == domain.FillCancelled {
		_, err := o.ledger.Transition(ctx, trade.ID, domain.StatusError, "order rejected", nil)
		return err
	}

	window, err := o.ledger.WindowByID(ctx, trade.WindowID)
	if err != nil {
		return err
	}

	if window.Outcome == "" {
		if nowTS < window.EndTS {
			return nil // la ventana sigue abierta
		}

		outcome, err := o.markets.ResolvedOutcome(ctx, window.Slug)
		if err != nil {
			slog.Warn("outcome fetch failed", "cycle_id", cycleID, "slug", window.Slug, "err", err)
			outcome = ""
		}
		if outcome == "" {
			// Ambigüedad de settlement: reintentar hasta el timeout duro.
			if nowTS >= window.EndTS+int64(o.cfg.SettlementTimeout.Seconds()) {
				slog.Error("settlement timed out, freezing trade",
					"cycle_id", cycleID,
					"trade_id", trade.ID,
					"slug", window.Slug,
				)
				_, terr := o.ledger.Transition(ctx, trade.ID, domain.StatusError, "settlement timeout", nil)
				return terr
			}
			return nil
		}

		if err := o.ledger.SetWindowOutcome(ctx, window.ID, outcome); err != nil {
			return err
		}
		window.Outcome = outcome
		slog.Info("window resolved",
			"cycle_id", cycleID,
			"window_id", window.ID,
			"slug", window.Slug,
			"outcome", outcome,
		)
	}

	signal, err := o.ledger.SignalByID(ctx, trade.SignalID)
	if err != nil {
		return err
	}

	settlement, err := execution.Settle(trade, window, signal)
	if err != nil {
		return err
	}

	settled, err := o.ledger.SettleTrade(ctx, trade.ID,
		func(t *domain.Trade) {
			isWin := settlement.IsWin
			t.IsWin = &isWin
			t.PnL = settlement.PnL
		},
		func(st *domain.Stats) {
			o.stats.ApplySettlement(st, trade, settlement.IsWin)
		},
	)
	if err != nil {
		return err
	}
	o.locks.forget(trade.ID)

	result := "untaken"
	if trade.CountsForStreak() {
		if settlement.IsWin {
			result = "win"
		} else {
			result = "loss"
		}
	}
	metrics.Settlements.WithLabelValues(result).Inc()

	slog.Info("trade settled",
		"cycle_id", cycleID,
		"trade_id", trade.ID,
		"direction", signal.Direction,
		"outcome", window.Outcome,
		"is_win", settlement.IsWin,
		"pnl", settlement.PnL,
	)

	if o.notifier != nil {
		if nerr := o.notifier.NotifySettled(ctx, settled, window); nerr != nil {
			slog.Warn("notifier error", "trade_id", trade.ID, "err", nerr)
		}
	}
	return nil
}
