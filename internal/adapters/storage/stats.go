package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// Stats devuelve el singleton de stats.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("storage.Stats: begin: %w", err)
	}
	defer tx.Rollback()

	st, err := statsTx(ctx, tx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("storage.Stats: %w", err)
	}
	return st, tx.Commit()
}

// UpdateStats aplica la mutación sobre el singleton dentro de una transacción
// y devuelve el estado resultante.
func (s *Store) UpdateStats(ctx context.Context, mutate func(*domain.Stats)) (domain.Stats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("storage.UpdateStats: begin: %w", err)
	}
	defer tx.Rollback()

	st, err := statsTx(ctx, tx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("storage.UpdateStats: read: %w", err)
	}

	mutate(&st)
	st.UpdatedAt = time.Unix(nowUnix(), 0).UTC()

	if err := updateStatsTx(ctx, tx, st); err != nil {
		return domain.Stats{}, fmt.Errorf("storage.UpdateStats: write: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Stats{}, fmt.Errorf("storage.UpdateStats: commit: %w", err)
	}
	return st, nil
}

func statsTx(ctx context.Context, tx *sql.Tx) (domain.Stats, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT trade_level_streak, night_streak, policy_mode,
		       total_trades, total_wins, total_losses,
		       last_strict_day_threshold, last_strict_night_threshold,
		       last_quantile_update_ts, is_paused, day_only, night_only, updated_at
		FROM stats WHERE id = 1`)

	var st domain.Stats
	var policyMode string
	var dayThreshold, nightThreshold sql.NullFloat64
	var quantileTS sql.NullInt64
	var isPaused, dayOnly, nightOnly int
	var updatedAt int64

	err := row.Scan(
		&st.TradeLevelStreak, &st.NightStreak, &policyMode,
		&st.TotalTrades, &st.TotalWins, &st.TotalLosses,
		&dayThreshold, &nightThreshold, &quantileTS,
		&isPaused, &dayOnly, &nightOnly, &updatedAt,
	)
	if err != nil {
		return domain.Stats{}, err
	}

	st.PolicyMode = domain.PolicyMode(policyMode)
	st.LastStrictDayThreshold = dayThreshold.Float64
	st.LastStrictNightThreshold = nightThreshold.Float64
	st.LastQuantileUpdateTS = quantileTS.Int64
	st.IsPaused = isPaused == 1
	st.DayOnly = dayOnly == 1
	st.NightOnly = nightOnly == 1
	st.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return st, nil
}

func updateStatsTx(ctx context.Context, tx *sql.Tx, st domain.Stats) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE stats SET
			trade_level_streak          = ?,
			night_streak                = ?,
			policy_mode                 = ?,
			total_trades                = ?,
			total_wins                  = ?,
			total_losses                = ?,
			last_strict_day_threshold   = ?,
			last_strict_night_threshold = ?,
			last_quantile_update_ts     = ?,
			is_paused                   = ?,
			day_only                    = ?,
			night_only                  = ?,
			updated_at                  = ?
		WHERE id = 1`,
		st.TradeLevelStreak, st.NightStreak, string(st.PolicyMode),
		st.TotalTrades, st.TotalWins, st.TotalLosses,
		nullFloat(st.LastStrictDayThreshold), nullFloat(st.LastStrictNightThreshold),
		nullInt64(st.LastQuantileUpdateTS),
		boolToInt(st.IsPaused), boolToInt(st.DayOnly), boolToInt(st.NightOnly),
		st.UpdatedAt.Unix(),
	)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
