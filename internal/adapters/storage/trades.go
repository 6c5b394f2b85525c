package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/metrics"
	"github.com/evgenss79/MARTIN/internal/statemachine"
)

// ErrTradeNotFound marca un trade inexistente.
var ErrTradeNotFound = errors.New("trade not found")

// ClaimWindow crea el trade NEW de una ventana salvo que ya exista uno no
// terminal para ella. Es el único camino de creación de trades; el dedupe por
// window_id se resuelve dentro de la transacción.
func (s *Store) ClaimWindow(ctx context.Context, windowID int64, seed domain.Trade) (domain.Trade, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("storage.ClaimWindow: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, tradeSelect+`
		WHERE window_id = ? AND status NOT IN ('SETTLED', 'CANCELLED', 'ERROR')`, windowID)
	existing, err := scanTrade(row)
	if err == nil {
		return existing, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, false, fmt.Errorf("storage.ClaimWindow: lookup window %d: %w", windowID, err)
	}

	now := nowUnix()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO trades
			(window_id, status, time_mode, policy_mode, decision, fill_status,
			 trade_level_streak, night_streak, created_at, updated_at)
		VALUES (?, 'NEW', ?, ?, 'PENDING', 'PENDING', ?, ?, ?, ?)`,
		windowID, string(seed.TimeMode), string(seed.PolicyMode),
		seed.TradeLevelStreak, seed.NightStreak, now, now,
	)
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("storage.ClaimWindow: insert window %d: %w", windowID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("storage.ClaimWindow: last id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Trade{}, false, fmt.Errorf("storage.ClaimWindow: commit: %w", err)
	}

	seed.ID = id
	seed.WindowID = windowID
	seed.Status = domain.StatusNew
	seed.Decision = domain.DecisionPending
	seed.FillStatus = domain.FillPending
	seed.CreatedAt = time.Unix(now, 0).UTC()
	seed.UpdatedAt = seed.CreatedAt
	return seed, true, nil
}

// TradeByID devuelve el trade por id.
func (s *Store) TradeByID(ctx context.Context, id int64) (domain.Trade, error) {
	row := s.db.QueryRowContext(ctx, tradeSelect+` WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("storage.TradeByID: %d: %w", id, ErrTradeNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.TradeByID: %d: %w", id, err)
	}
	return t, nil
}

// NonTerminalTrades devuelve todos los trades vivos, los más viejos primero.
func (s *Store) NonTerminalTrades(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, tradeSelect+`
		WHERE status NOT IN ('SETTLED', 'CANCELLED', 'ERROR')
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.NonTerminalTrades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.NonTerminalTrades: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Transition aplica una transición de estado de forma atómica: relee el
// trade, valida la arista, aplica mutate y escribe. Una arista ilegal
// devuelve statemachine.ErrInvalidTransition sin tocar la fila.
func (s *Store) Transition(ctx context.Context, tradeID int64, to domain.TradeStatus, reason string, mutate func(*domain.Trade)) (domain.Trade, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.Transition: begin: %w", err)
	}
	defer tx.Rollback()

	trade, err := tradeByIDTx(ctx, tx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.Transition: %w", err)
	}

	from := trade.Status
	if err := statemachine.Check(from, to); err != nil {
		return trade, fmt.Errorf("storage.Transition: trade %d: %w", tradeID, err)
	}

	if mutate != nil {
		mutate(&trade)
	}
	trade.Status = to
	trade.UpdatedAt = time.Unix(nowUnix(), 0).UTC()

	if err := updateTradeTx(ctx, tx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("storage.Transition: update trade %d: %w", tradeID, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Trade{}, fmt.Errorf("storage.Transition: commit: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	slog.Info("trade status changed",
		"trade_id", trade.ID,
		"from", from,
		"to", to,
		"reason", reason,
	)
	return trade, nil
}

// MutateTrade actualiza campos no-status (decision, order, fill) bajo la
// misma serialización que Transition. El status no puede cambiar por aquí.
func (s *Store) MutateTrade(ctx context.Context, tradeID int64, mutate func(*domain.Trade)) (domain.Trade, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.MutateTrade: begin: %w", err)
	}
	defer tx.Rollback()

	trade, err := tradeByIDTx(ctx, tx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.MutateTrade: %w", err)
	}

	status := trade.Status
	mutate(&trade)
	trade.Status = status
	trade.UpdatedAt = time.Unix(nowUnix(), 0).UTC()

	if err := updateTradeTx(ctx, tx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("storage.MutateTrade: update trade %d: %w", tradeID, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Trade{}, fmt.Errorf("storage.MutateTrade: commit: %w", err)
	}
	return trade, nil
}

// SettleTrade transiciona ORDER_PLACED -> SETTLED y aplica la mutación de
// stats en la misma transacción: la fila del trade y el singleton de stats
// son consistentes o no se escribe nada.
func (s *Store) SettleTrade(ctx context.Context, tradeID int64, mutate func(*domain.Trade), statsMutate func(*domain.Stats)) (domain.Trade, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.SettleTrade: begin: %w", err)
	}
	defer tx.Rollback()

	trade, err := tradeByIDTx(ctx, tx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.SettleTrade: %w", err)
	}

	from := trade.Status
	if err := statemachine.Check(from, domain.StatusSettled); err != nil {
		return trade, fmt.Errorf("storage.SettleTrade: trade %d: %w", tradeID, err)
	}

	if mutate != nil {
		mutate(&trade)
	}
	trade.Status = domain.StatusSettled
	trade.UpdatedAt = time.Unix(nowUnix(), 0).UTC()

	if err := updateTradeTx(ctx, tx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("storage.SettleTrade: update trade %d: %w", tradeID, err)
	}

	if statsMutate != nil {
		st, err := statsTx(ctx, tx)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("storage.SettleTrade: read stats: %w", err)
		}
		statsMutate(&st)
		st.UpdatedAt = trade.UpdatedAt
		if err := updateStatsTx(ctx, tx, st); err != nil {
			return domain.Trade{}, fmt.Errorf("storage.SettleTrade: update stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Trade{}, fmt.Errorf("storage.SettleTrade: commit: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(from), string(domain.StatusSettled)).Inc()
	slog.Info("trade settled", "trade_id", trade.ID, "is_win", trade.IsWin != nil && *trade.IsWin, "pnl", trade.PnL)
	return trade, nil
}

// --- helpers ---

const tradeSelect = `
	SELECT id, window_id, signal_id, status, time_mode, policy_mode, decision,
	       cancel_reason, token_id, order_id, fill_status, fill_price,
	       stake_amount, pnl, is_win, trade_level_streak, night_streak,
	       created_at, updated_at
	FROM trades`

func tradeByIDTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Trade, error) {
	row := tx.QueryRowContext(ctx, tradeSelect+` WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("trade %d: %w", id, ErrTradeNotFound)
	}
	return t, err
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var t domain.Trade
	var signalID sql.NullInt64
	var timeMode, cancelReason, tokenID, orderID sql.NullString
	var fillPrice, pnl sql.NullFloat64
	var isWin sql.NullInt64
	var status, policyMode, decision, fillStatus string
	var createdAt, updatedAt int64

	err := row.Scan(
		&t.ID, &t.WindowID, &signalID, &status, &timeMode, &policyMode,
		&decision, &cancelReason, &tokenID, &orderID, &fillStatus, &fillPrice,
		&t.StakeAmount, &pnl, &isWin, &t.TradeLevelStreak, &t.NightStreak,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}

	t.SignalID = signalID.Int64
	t.Status = domain.TradeStatus(status)
	t.TimeMode = domain.TimeMode(timeMode.String)
	t.PolicyMode = domain.PolicyMode(policyMode)
	t.Decision = domain.Decision(decision)
	t.CancelReason = domain.CancelReason(cancelReason.String)
	t.TokenID = tokenID.String
	t.OrderID = orderID.String
	t.FillStatus = domain.FillStatus(fillStatus)
	t.FillPrice = fillPrice.Float64
	t.PnL = pnl.Float64
	if isWin.Valid {
		win := isWin.Int64 == 1
		t.IsWin = &win
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return t, nil
}

func updateTradeTx(ctx context.Context, tx *sql.Tx, t domain.Trade) error {
	var isWin any
	var pnl any
	if t.IsWin != nil {
		v := int64(0)
		if *t.IsWin {
			v = 1
		}
		isWin = v
		pnl = t.PnL
	}

	var fillPrice any
	if t.FillPrice > 0 {
		fillPrice = t.FillPrice
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE trades SET
			signal_id     = ?,
			status        = ?,
			time_mode     = ?,
			policy_mode   = ?,
			decision      = ?,
			cancel_reason = ?,
			token_id      = ?,
			order_id      = ?,
			fill_status   = ?,
			fill_price    = ?,
			stake_amount  = ?,
			pnl           = ?,
			is_win        = ?,
			updated_at    = ?
		WHERE id = ?`,
		nullInt64(t.SignalID), string(t.Status), nullString(string(t.TimeMode)),
		string(t.PolicyMode), string(t.Decision), nullString(string(t.CancelReason)),
		nullString(t.TokenID), nullString(t.OrderID), string(t.FillStatus),
		fillPrice, t.StakeAmount, pnl, isWin, t.UpdatedAt.Unix(), t.ID,
	)
	return err
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
