package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/statemachine"
)

// Confirm registra la decisión del usuario sobre un trade READY (modo día).
// Se resuelve contra el mismo lock advisory que usa el ciclo, así la
// decisión y el procesamiento nunca emiten dos transiciones en carrera.
// OK deja el trade READY con decision=OK (el próximo tick ejecuta); SKIP
// cancela en el acto.
func (o *Orchestrator) Confirm(ctx context.Context, tradeID int64, ok bool) error {
	var result error
	o.withTradeLock(tradeID, func() {
		trade, err := o.ledger.TradeByID(ctx, tradeID)
		if err != nil {
			result = err
			return
		}
		if trade.Status != domain.StatusReady {
			result = fmt.Errorf("orchestrator.Confirm: trade %d is %s, not READY", tradeID, trade.Status)
			return
		}
		if trade.Decision != domain.DecisionPending {
			result = fmt.Errorf("orchestrator.Confirm: trade %d already decided (%s)", tradeID, trade.Decision)
			return
		}

		if ok {
			_, err = o.ledger.MutateTrade(ctx, tradeID, func(t *domain.Trade) {
				t.Decision = domain.DecisionOK
			})
			if err != nil {
				result = err
				return
			}
			slog.Info("user confirmed trade", "trade_id", tradeID)
			return
		}

		result = o.cancel(ctx, trade, statemachine.EventUserSkip, domain.DecisionSkip, "user skipped")
		if result == nil {
			slog.Info("user skipped trade", "trade_id", tradeID)
		}
	})
	return result
}

// Pause inhibe los ciclos: no se crean trades nuevos ni se emiten
// transiciones hasta Resume. Los trades en vuelo quedan como están.
func (o *Orchestrator) Pause(ctx context.Context) error {
	_, err := o.ledger.UpdateStats(ctx, func(st *domain.Stats) { st.IsPaused = true })
	if err == nil {
		slog.Info("orchestrator paused")
	}
	return err
}

// Resume reactiva los ciclos.
func (o *Orchestrator) Resume(ctx context.Context) error {
	_, err := o.ledger.UpdateStats(ctx, func(st *domain.Stats) { st.IsPaused = false })
	if err == nil {
		slog.Info("orchestrator resumed")
	}
	return err
}

// SetDayOnly restringe la operación al modo día (excluye night-only).
func (o *Orchestrator) SetDayOnly(ctx context.Context, enabled bool) error {
	_, err := o.ledger.UpdateStats(ctx, func(st *domain.Stats) {
		st.DayOnly = enabled
		if enabled {
			st.NightOnly = false
		}
	})
	return err
}

// SetNightOnly restringe la operación al modo noche (excluye day-only).
func (o *Orchestrator) SetNightOnly(ctx context.Context, enabled bool) error {
	_, err := o.ledger.UpdateStats(ctx, func(st *domain.Stats) {
		st.NightOnly = enabled
		if enabled {
			st.DayOnly = false
		}
	})
	return err
}

// UpdateSetting registra una override de configuración en runtime. Tiene
// efecto en el próximo arranque (la config efectiva resuelve settings >
// entorno > archivo).
func (o *Orchestrator) UpdateSetting(ctx context.Context, key, value string) error {
	if err := o.ledger.SetSetting(ctx, key, value); err != nil {
		return err
	}
	slog.Info("setting updated", "key", key, "value", value)
	return nil
}

// Status es la vista operacional del daemon.
type Status struct {
	CycleID int64
	Stats   domain.Stats
	Active  []domain.Trade
}

// Snapshot devuelve stats y trades vivos para /status y /report.
func (o *Orchestrator) Snapshot(ctx context.Context) (Status, error) {
	st, err := o.ledger.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	active, err := o.ledger.NonTerminalTrades(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{CycleID: o.cycleID, Stats: st, Active: active}, nil
}
