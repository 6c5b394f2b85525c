package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// EnsureCapCheck crea el cap check de un trade si aún no existe (idempotente
// sobre trade_id, garantizado además por la UNIQUE constraint).
func (s *Store) EnsureCapCheck(ctx context.Context, c domain.CapCheck) (domain.CapCheck, error) {
	existing, ok, err := s.CapCheckByTradeID(ctx, c.TradeID)
	if err != nil {
		return domain.CapCheck{}, err
	}
	if ok {
		return existing, nil
	}

	now := nowUnix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cap_checks
			(trade_id, token_id, confirm_ts, end_ts, status, consecutive_ticks,
			 first_pass_ts, price_at_pass, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TradeID, c.TokenID, c.ConfirmTS, c.EndTS, string(c.Status),
		c.ConsecutiveTicks, nullInt64(c.FirstPassTS), nullFloat(c.PriceAtPass), now,
	)
	if err != nil {
		return domain.CapCheck{}, fmt.Errorf("storage.EnsureCapCheck: trade %d: %w", c.TradeID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.CapCheck{}, fmt.Errorf("storage.EnsureCapCheck: last id: %w", err)
	}
	c.ID = id
	c.CreatedAt = time.Unix(now, 0).UTC()
	return c, nil
}

// CapCheckByTradeID devuelve el cap check del trade, si existe.
func (s *Store) CapCheckByTradeID(ctx context.Context, tradeID int64) (domain.CapCheck, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trade_id, token_id, confirm_ts, end_ts, status,
		       consecutive_ticks, first_pass_ts, price_at_pass, created_at
		FROM cap_checks WHERE trade_id = ?`, tradeID)

	var c domain.CapCheck
	var status string
	var firstPassTS sql.NullInt64
	var priceAtPass sql.NullFloat64
	var createdAt int64

	err := row.Scan(
		&c.ID, &c.TradeID, &c.TokenID, &c.ConfirmTS, &c.EndTS, &status,
		&c.ConsecutiveTicks, &firstPassTS, &priceAtPass, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CapCheck{}, false, nil
	}
	if err != nil {
		return domain.CapCheck{}, false, fmt.Errorf("storage.CapCheckByTradeID: %d: %w", tradeID, err)
	}

	c.Status = domain.CapStatus(status)
	c.FirstPassTS = firstPassTS.Int64
	c.PriceAtPass = priceAtPass.Float64
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return c, true, nil
}

// UpdateCapCheck reescribe el estado de un cap check. PASS exige
// first_pass_ts: el invariante se rechaza acá, antes de llegar a la fila.
func (s *Store) UpdateCapCheck(ctx context.Context, c domain.CapCheck) error {
	if c.Status == domain.CapPass && c.FirstPassTS == 0 {
		return fmt.Errorf("storage.UpdateCapCheck: trade %d: PASS without first_pass_ts", c.TradeID)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE cap_checks SET
			status            = ?,
			consecutive_ticks = ?,
			first_pass_ts     = ?,
			price_at_pass     = ?
		WHERE id = ?`,
		string(c.Status), c.ConsecutiveTicks,
		nullInt64(c.FirstPassTS), nullFloat(c.PriceAtPass), c.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateCapCheck: %d: %w", c.ID, err)
	}
	return nil
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
