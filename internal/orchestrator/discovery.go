package orchestrator

import (
	"context"
	"log/slog"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/statemachine"
)

// discover consulta el catálogo de mercados y crea el trade NEW de cada
// ventana sin trade no terminal, aplicando start_search en el acto. Es el
// único camino de creación de trades; redescubrir una ventana ya trackeada
// es un no-op.
func (o *Orchestrator) discover(ctx context.Context, nowTS int64, mode domain.TimeMode, st domain.Stats, cycleID int64) {
	windows, err := o.markets.DiscoverHourlyWindows(ctx, o.cfg.Assets, nowTS)
	if err != nil {
		// Fallo transitorio: el próximo ciclo reintenta.
		slog.Warn("discovery failed", "cycle_id", cycleID, "err", err)
		return
	}

	slog.Info("discovery complete",
		"cycle_id", cycleID,
		"windows", len(windows),
		"assets", o.cfg.Assets,
	)

	for _, w := range windows {
		if ctx.Err() != nil {
			return
		}
		if w.IsExpired(nowTS) {
			continue
		}

		// De noche sin autotrade no se crean trades nuevos.
		if mode == domain.TimeModeNight && !o.cfg.NightAutotradeEnabled {
			slog.Debug("night trading disabled, not creating trade",
				"cycle_id", cycleID, "slug", w.Slug)
			continue
		}

		saved, err := o.ledger.UpsertWindow(ctx, w)
		if err != nil {
			slog.Error("cannot persist window", "cycle_id", cycleID, "slug", w.Slug, "err", err)
			continue
		}

		trade, created, err := o.ledger.ClaimWindow(ctx, saved.ID, domain.Trade{
			TimeMode:         mode,
			PolicyMode:       st.PolicyMode,
			TradeLevelStreak: st.TradeLevelStreak,
			NightStreak:      st.NightStreak,
		})
		if err != nil {
			slog.Error("cannot claim window", "cycle_id", cycleID, "window_id", saved.ID, "err", err)
			continue
		}
		if !created {
			slog.Debug("trade already tracked",
				"cycle_id", cycleID, "window_id", saved.ID, "trade_id", trade.ID)
			continue
		}

		// NEW -> SEARCHING_SIGNAL inmediato.
		if _, err := o.ledger.Transition(ctx, trade.ID, domain.StatusSearchingSignal, "start_search", nil); err != nil {
			slog.Error("cannot start signal search", "cycle_id", cycleID, "trade_id", trade.ID, "err", err)
			continue
		}

		slog.Info("trade created",
			"cycle_id", cycleID,
			"trade_id", trade.ID,
			"window_id", saved.ID,
			"asset", saved.Asset,
			"slug", saved.Slug,
			"time_mode", mode,
		)
	}
}

// cancel aplica un evento de cancelación resolviendo (status, evento) contra
// la tabla pura y persistiendo vía ledger.
func (o *Orchestrator) cancel(ctx context.Context, trade domain.Trade, ev statemachine.Event, decision domain.Decision, note string) error {
	out, err := statemachine.Next(trade.Status, ev)
	if err != nil {
		return err
	}
	updated, err := o.ledger.Transition(ctx, trade.ID, out.Next, note, func(t *domain.Trade) {
		t.CancelReason = out.Reason
		if decision != "" && t.Decision == domain.DecisionPending {
			t.Decision = decision
		}
	})
	if err != nil {
		return err
	}
	o.locks.forget(trade.ID)
	o.approvals.forget(trade.ID)
	if o.notifier != nil {
		if nerr := o.notifier.NotifyCancelled(ctx, updated, out.Reason); nerr != nil {
			slog.Warn("notifier error", "trade_id", trade.ID, "err", nerr)
		}
	}
	return nil
}
