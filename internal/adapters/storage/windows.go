package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// UpsertWindow inserta la ventana si su slug no existe y devuelve la fila
// persistida. El descubrimiento repetido de la misma ventana es un no-op.
func (s *Store) UpsertWindow(ctx context.Context, w domain.MarketWindow) (domain.MarketWindow, error) {
	existing, err := s.windowBySlug(ctx, w.Slug)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.MarketWindow{}, fmt.Errorf("storage.UpsertWindow: lookup %q: %w", w.Slug, err)
	}

	now := nowUnix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO market_windows
			(asset, slug, condition_id, up_token_id, down_token_id, start_ts, end_ts, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Asset, w.Slug, w.ConditionID, w.UpTokenID, w.DownTokenID,
		w.StartTS, w.EndTS, nullString(w.Outcome), now,
	)
	if err != nil {
		return domain.MarketWindow{}, fmt.Errorf("storage.UpsertWindow: insert %q: %w", w.Slug, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.MarketWindow{}, fmt.Errorf("storage.UpsertWindow: last id: %w", err)
	}
	w.ID = id
	w.CreatedAt = time.Unix(now, 0).UTC()
	return w, nil
}

// WindowByID devuelve la ventana por id.
func (s *Store) WindowByID(ctx context.Context, id int64) (domain.MarketWindow, error) {
	row := s.db.QueryRowContext(ctx, windowSelect+` WHERE id = ?`, id)
	w, err := scanWindow(row)
	if err != nil {
		return domain.MarketWindow{}, fmt.Errorf("storage.WindowByID: %d: %w", id, err)
	}
	return w, nil
}

func (s *Store) windowBySlug(ctx context.Context, slug string) (domain.MarketWindow, error) {
	row := s.db.QueryRowContext(ctx, windowSelect+` WHERE slug = ?`, slug)
	return scanWindow(row)
}

// SetWindowOutcome fija el outcome resuelto. El outcome es write-once: una
// ventana ya resuelta no se reescribe.
func (s *Store) SetWindowOutcome(ctx context.Context, id int64, outcome string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE market_windows SET outcome = ? WHERE id = ? AND outcome IS NULL`,
		outcome, id,
	)
	if err != nil {
		return fmt.Errorf("storage.SetWindowOutcome: %d: %w", id, err)
	}
	return nil
}

const windowSelect = `
	SELECT id, asset, slug, condition_id, up_token_id, down_token_id,
	       start_ts, end_ts, outcome, created_at
	FROM market_windows`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWindow(row rowScanner) (domain.MarketWindow, error) {
	var w domain.MarketWindow
	var outcome sql.NullString
	var createdAt int64

	err := row.Scan(
		&w.ID, &w.Asset, &w.Slug, &w.ConditionID,
		&w.UpTokenID, &w.DownTokenID,
		&w.StartTS, &w.EndTS, &outcome, &createdAt,
	)
	if err != nil {
		return domain.MarketWindow{}, err
	}
	w.Outcome = outcome.String
	w.CreatedAt = time.Unix(createdAt, 0).UTC()
	return w, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
