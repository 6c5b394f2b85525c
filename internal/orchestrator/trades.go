package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evgenss79/MARTIN/internal/capcheck"
	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/metrics"
	"github.com/evgenss79/MARTIN/internal/statemachine"
)

// processTrade avanza un trade según su status. Las ausencias de datos
// (velas, ticks) dejan el trade donde está; los errores se devuelven para
// log sin abortar el ciclo.
func (o *Orchestrator) processTrade(ctx context.Context, trade domain.Trade, nowTS int64, mode domain.TimeMode, cycleID int64) error {
	// Releer bajo el lock: una decisión de usuario pudo llegar entre la
	// captura de la lista y la adquisición del lock.
	trade, err := o.ledger.TradeByID(ctx, trade.ID)
	if err != nil {
		return err
	}
	if trade.IsTerminal() {
		return nil
	}

	window, err := o.ledger.WindowByID(ctx, trade.WindowID)
	if err != nil {
		return fmt.Errorf("load window %d: %w", trade.WindowID, err)
	}

	switch trade.Status {
	case domain.StatusNew:
		// Un NEW rezagado (proceso reiniciado entre claim y start_search).
		if window.IsExpired(nowTS) {
			return o.cancel(ctx, trade, statemachine.EventWindowExpired, domain.DecisionAutoSkip, "window expired")
		}
		_, err := o.ledger.Transition(ctx, trade.ID, domain.StatusSearchingSignal, "start_search", nil)
		return err

	case domain.StatusSearchingSignal:
		return o.processSearching(ctx, trade, window, nowTS, mode, cycleID)

	case domain.StatusSignalled:
		return o.processSignalled(ctx, trade, window, nowTS, mode, cycleID)

	case domain.StatusWaitingConfirm:
		return o.processWaitingConfirm(ctx, trade, window, nowTS)

	case domain.StatusWaitingCap:
		return o.processWaitingCap(ctx, trade, window, nowTS, cycleID)

	case domain.StatusReady:
		return o.processReady(ctx, trade, window, nowTS, mode, cycleID)
	}
	return nil
}

// processSearching reevalúa TA cada tick hasta encontrar una señal que
// califique o hasta que la ventana expire.
func (o *Orchestrator) processSearching(ctx context.Context, trade domain.Trade, window domain.MarketWindow, nowTS int64, mode domain.TimeMode, cycleID int64) error {
	if window.IsExpired(nowTS) {
		return o.cancel(ctx, trade, statemachine.EventWindowExpired, domain.DecisionAutoSkip, "no qualifying signal")
	}

	candles1m, candles5m, ok := o.snapshots.Fresh(ctx, window.Asset, nowTS)
	if !ok {
		// Sin velas todavía: no es un error, reintenta el próximo tick.
		slog.Debug("no snapshot yet", "cycle_id", cycleID, "trade_id", trade.ID, "asset", window.Asset)
		return nil
	}

	result := o.oracle.Evaluate(candles1m, candles5m, window, nowTS)
	if result == nil {
		slog.Debug("no signal this tick", "cycle_id", cycleID, "trade_id", trade.ID)
		return nil
	}

	st, err := o.ledger.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}
	threshold := o.stats.Threshold(st, mode)
	if result.Quality < threshold {
		// Una señal mejor puede aparecer dentro de la misma ventana.
		slog.Info("signal below threshold, still searching",
			"cycle_id", cycleID,
			"trade_id", trade.ID,
			"quality", result.Quality,
			"threshold", threshold,
		)
		return nil
	}

	confirmTS := result.SignalTS + o.cfg.ConfirmDelaySeconds
	signal, err := o.ledger.CreateSignal(ctx, domain.Signal{
		WindowID:    window.ID,
		Direction:   result.Direction,
		SignalTS:    result.SignalTS,
		ConfirmTS:   confirmTS,
		Quality:     result.Quality,
		Breakdown:   result.Breakdown,
		AnchorBarTS: result.AnchorBarTS,
	})
	if err != nil {
		return fmt.Errorf("persist signal: %w", err)
	}

	updated, err := o.ledger.Transition(ctx, trade.ID, domain.StatusSignalled, "signal accepted", func(t *domain.Trade) {
		t.SignalID = signal.ID
	})
	if err != nil {
		return err
	}

	slog.Info("signal accepted",
		"cycle_id", cycleID,
		"trade_id", trade.ID,
		"signal_id", signal.ID,
		"direction", signal.Direction,
		"quality", signal.Quality,
		"threshold", threshold,
		"confirm_ts", confirmTS,
	)

	if o.notifier != nil {
		if nerr := o.notifier.NotifySignal(ctx, updated, signal, window); nerr != nil {
			slog.Warn("notifier error", "trade_id", trade.ID, "err", nerr)
		}
	}
	return nil
}

// processSignalled espera confirm_ts. Cuando ambos guards ya se cumplen
// aplica el colapso SIGNALLED -> WAITING_CONFIRM -> WAITING_CAP en el mismo
// ciclo; cada arista se valida individualmente.
func (o *Orchestrator) processSignalled(ctx context.Context, trade domain.Trade, window domain.MarketWindow, nowTS int64, mode domain.TimeMode, cycleID int64) error {
	signal, err := o.ledger.SignalByID(ctx, trade.SignalID)
	if err != nil {
		return fmt.Errorf("load signal %d: %w", trade.SignalID, err)
	}

	if signal.ConfirmTS >= window.EndTS {
		return o.cancel(ctx, trade, statemachine.EventLate, domain.DecisionAutoSkip, "confirm_ts past window end")
	}

	// STRICT pudo subir el umbral entre la aceptación y la confirmación.
	st, err := o.ledger.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}
	if threshold := o.stats.Threshold(st, mode); signal.Quality < threshold {
		slog.Info("signal fell below strict threshold",
			"cycle_id", cycleID,
			"trade_id", trade.ID,
			"quality", signal.Quality,
			"threshold", threshold,
		)
		return o.cancel(ctx, trade, statemachine.EventLowQuality, domain.DecisionAutoSkip, "below strict threshold")
	}

	if nowTS < signal.ConfirmTS {
		return nil
	}

	if _, err := o.ledger.Transition(ctx, trade.ID, domain.StatusWaitingConfirm, "confirm_ts reached", nil); err != nil {
		return err
	}
	// Guard ya satisfecho: colapso inmediato a WAITING_CAP.
	return o.enterWaitingCap(ctx, trade.ID, signal, window)
}

func (o *Orchestrator) processWaitingConfirm(ctx context.Context, trade domain.Trade, window domain.MarketWindow, nowTS int64) error {
	if window.IsExpired(nowTS) {
		return o.cancel(ctx, trade, statemachine.EventWindowExpired, domain.DecisionAutoSkip, "window expired")
	}

	signal, err := o.ledger.SignalByID(ctx, trade.SignalID)
	if err != nil {
		return fmt.Errorf("load signal %d: %w", trade.SignalID, err)
	}
	if nowTS < signal.ConfirmTS {
		return nil
	}
	return o.enterWaitingCap(ctx, trade.ID, signal, window)
}

// enterWaitingCap transiciona a WAITING_CAP fijando el token del outcome y
// asegura el registro de cap check (idempotente sobre trade_id).
func (o *Orchestrator) enterWaitingCap(ctx context.Context, tradeID int64, signal domain.Signal, window domain.MarketWindow) error {
	tokenID := window.TokenFor(signal.Direction)

	if _, err := o.ledger.Transition(ctx, tradeID, domain.StatusWaitingCap, "cap check started", func(t *domain.Trade) {
		t.TokenID = tokenID
	}); err != nil {
		return err
	}

	status := domain.CapPending
	if signal.ConfirmTS >= window.EndTS {
		status = domain.CapLate
	}
	_, err := o.ledger.EnsureCapCheck(ctx, domain.CapCheck{
		TradeID:   tradeID,
		TokenID:   tokenID,
		ConfirmTS: signal.ConfirmTS,
		EndTS:     window.EndTS,
		Status:    status,
	})
	return err
}

// processWaitingCap evalúa el CAP con los ticks del book en
// [confirm_ts, min(now, end_ts)].
func (o *Orchestrator) processWaitingCap(ctx context.Context, trade domain.Trade, window domain.MarketWindow, nowTS int64, cycleID int64) error {
	check, ok, err := o.ledger.CapCheckByTradeID(ctx, trade.ID)
	if err != nil {
		return fmt.Errorf("load cap check: %w", err)
	}
	if !ok {
		// Creado perezosamente si el proceso murió entre transición y alta.
		signal, err := o.ledger.SignalByID(ctx, trade.SignalID)
		if err != nil {
			return fmt.Errorf("load signal %d: %w", trade.SignalID, err)
		}
		check, err = o.ledger.EnsureCapCheck(ctx, domain.CapCheck{
			TradeID:   trade.ID,
			TokenID:   trade.TokenID,
			ConfirmTS: signal.ConfirmTS,
			EndTS:     window.EndTS,
			Status:    domain.CapPending,
		})
		if err != nil {
			return err
		}
	}

	switch check.Status {
	case domain.CapLate:
		return o.cancel(ctx, trade, statemachine.EventLate, domain.DecisionAutoSkip, "cap check late")
	case domain.CapFail:
		return o.cancel(ctx, trade, statemachine.EventCapFail, domain.DecisionAutoSkip, "cap check failed")
	case domain.CapPass:
		_, err := o.ledger.Transition(ctx, trade.ID, domain.StatusReady, "cap pass", nil)
		return err
	}

	toTS := nowTS
	if window.EndTS < toTS {
		toTS = window.EndTS
	}
	ticks, err := o.books.PriceTicks(ctx, check.TokenID, check.ConfirmTS, toTS)
	if err != nil {
		// Transitorio: se reintenta el próximo tick salvo que la ventana muera.
		slog.Warn("cannot fetch book ticks", "cycle_id", cycleID, "trade_id", trade.ID, "err", err)
		if nowTS >= window.EndTS {
			return o.cancel(ctx, trade, statemachine.EventWindowExpired, domain.DecisionAutoSkip, "window ended without cap pass")
		}
		return nil
	}

	result := capcheck.Evaluate(ticks, capcheck.Params{
		ConfirmTS:   check.ConfirmTS,
		EndTS:       check.EndTS,
		PriceCap:    o.cfg.PriceCap,
		CapMinTicks: o.cfg.CapMinTicks,
	}, nowTS)

	check.Status = result.Status
	check.ConsecutiveTicks = result.ConsecutiveTicks
	check.FirstPassTS = result.FirstPassTS
	check.PriceAtPass = result.PriceAtPass
	if err := o.ledger.UpdateCapCheck(ctx, check); err != nil {
		return err
	}
	metrics.CapChecks.WithLabelValues(string(result.Status)).Inc()

	slog.Info("cap check evaluated",
		"cycle_id", cycleID,
		"trade_id", trade.ID,
		"status", result.Status,
		"consecutive_ticks", result.ConsecutiveTicks,
		"ticks", len(ticks),
	)

	switch result.Status {
	case domain.CapPass:
		_, err := o.ledger.Transition(ctx, trade.ID, domain.StatusReady, "cap pass", nil)
		return err
	case domain.CapFail:
		return o.cancel(ctx, trade, statemachine.EventCapFail, domain.DecisionAutoSkip, "cap check failed")
	case domain.CapLate:
		return o.cancel(ctx, trade, statemachine.EventLate, domain.DecisionAutoSkip, "cap check late")
	}
	return nil // PENDING: seguir esperando
}

// processReady gestiona la aprobación (día) o el auto-OK (noche) y dispara
// la ejecución.
func (o *Orchestrator) processReady(ctx context.Context, trade domain.Trade, window domain.MarketWindow, nowTS int64, mode domain.TimeMode, cycleID int64) error {
	if window.IsExpired(nowTS) {
		return o.cancel(ctx, trade, statemachine.EventWindowExpired, domain.DecisionAutoSkip, "window expired in ready")
	}

	signal, err := o.ledger.SignalByID(ctx, trade.SignalID)
	if err != nil {
		return fmt.Errorf("load signal %d: %w", trade.SignalID, err)
	}

	if mode == domain.TimeModeDay {
		switch trade.Decision {
		case domain.DecisionPending:
			emittedAt, emitted := o.approvals.emittedAt(trade.ID)
			if !emitted {
				if o.notifier != nil {
					if nerr := o.notifier.EmitApproval(ctx, trade, signal, window); nerr != nil {
						slog.Warn("approval emission failed", "trade_id", trade.ID, "err", nerr)
						return nil // reintentar el próximo tick sin arrancar el timer
					}
				}
				o.approvals.record(trade.ID, nowTS)
				slog.Info("approval requested", "cycle_id", cycleID, "trade_id", trade.ID)
				return nil
			}
			if nowTS-emittedAt >= o.cfg.MaxResponseSeconds {
				slog.Info("approval timed out",
					"cycle_id", cycleID,
					"trade_id", trade.ID,
					"waited", nowTS-emittedAt,
				)
				return o.cancel(ctx, trade, statemachine.EventTimeout, domain.DecisionAutoSkip, "no response from user")
			}
			return nil // seguir esperando la decisión
		case domain.DecisionOK:
			return o.execute(ctx, trade, signal, window, statemachine.EventUserOK, cycleID)
		default:
			// SKIP se transiciona en Confirm; nada que hacer acá.
			return nil
		}
	}

	// Noche.
	if !o.cfg.NightAutotradeEnabled {
		return o.cancel(ctx, trade, statemachine.EventNightDisabled, domain.DecisionAutoSkip, "night autotrade disabled")
	}

	st, err := o.ledger.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}
	if st.NightStreak >= o.cfg.NightMaxWinStreak {
		if _, err := o.stats.ApplyNightReset(ctx); err != nil {
			return fmt.Errorf("night reset: %w", err)
		}
		return o.cancel(ctx, trade, statemachine.EventNightDisabled, domain.DecisionAutoSkip, "night session limit reached")
	}

	if trade.Decision == domain.DecisionPending {
		updated, err := o.ledger.MutateTrade(ctx, trade.ID, func(t *domain.Trade) {
			t.Decision = domain.DecisionAutoOK
		})
		if err != nil {
			return err
		}
		trade = updated
		slog.Info("auto-confirmed (night mode)", "cycle_id", cycleID, "trade_id", trade.ID)
	}
	return o.execute(ctx, trade, signal, window, statemachine.EventAutoOK, cycleID)
}

// execute coloca (o simula) la orden y transiciona READY -> ORDER_PLACED con
// los datos del placement en la misma transacción.
func (o *Orchestrator) execute(ctx context.Context, trade domain.Trade, signal domain.Signal, window domain.MarketWindow, ev statemachine.Event, cycleID int64) error {
	placement, err := o.executor.Place(ctx, trade, signal, window, o.cfg.StakeAmount)
	if err != nil {
		// Transitorio (timeout, red): el trade sigue READY y se reintenta.
		slog.Warn("order placement failed", "cycle_id", cycleID, "trade_id", trade.ID, "err", err)
		return nil
	}

	out, err := statemachine.Next(trade.Status, ev)
	if err != nil {
		return err
	}
	_, err = o.ledger.Transition(ctx, trade.ID, out.Next, "order placed", func(t *domain.Trade) {
		t.OrderID = placement.OrderID
		t.TokenID = placement.TokenID
		t.FillPrice = placement.FillPrice
		t.FillStatus = placement.FillStatus
		t.StakeAmount = o.cfg.StakeAmount
	})
	if err != nil {
		return err
	}
	o.approvals.forget(trade.ID)

	slog.Info("order placed",
		"cycle_id", cycleID,
		"trade_id", trade.ID,
		"order_id", placement.OrderID,
		"fill_status", placement.FillStatus,
		"fill_price", placement.FillPrice,
		"stake", o.cfg.StakeAmount,
	)
	return nil
}
