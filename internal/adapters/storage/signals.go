package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// CreateSignal persiste la señal aceptada de una ventana. La restricción
// UNIQUE(window_id) garantiza como mucho una señal por ventana.
func (s *Store) CreateSignal(ctx context.Context, sig domain.Signal) (domain.Signal, error) {
	breakdown, err := json.Marshal(sig.Breakdown)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("storage.CreateSignal: marshal breakdown: %w", err)
	}

	now := nowUnix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signals
			(window_id, direction, signal_ts, confirm_ts, quality, quality_breakdown, anchor_bar_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.WindowID, string(sig.Direction), sig.SignalTS, sig.ConfirmTS,
		sig.Quality, string(breakdown), sig.AnchorBarTS, now,
	)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("storage.CreateSignal: window %d: %w", sig.WindowID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Signal{}, fmt.Errorf("storage.CreateSignal: last id: %w", err)
	}
	sig.ID = id
	sig.CreatedAt = time.Unix(now, 0).UTC()
	return sig, nil
}

// SignalByID devuelve la señal por id.
func (s *Store) SignalByID(ctx context.Context, id int64) (domain.Signal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, window_id, direction, signal_ts, confirm_ts, quality,
		       quality_breakdown, anchor_bar_ts, created_at
		FROM signals WHERE id = ?`, id)

	var sig domain.Signal
	var direction string
	var breakdown sql.NullString
	var createdAt int64

	err := row.Scan(
		&sig.ID, &sig.WindowID, &direction, &sig.SignalTS, &sig.ConfirmTS,
		&sig.Quality, &breakdown, &sig.AnchorBarTS, &createdAt,
	)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("storage.SignalByID: %d: %w", id, err)
	}
	sig.Direction = domain.Direction(direction)
	sig.CreatedAt = time.Unix(createdAt, 0).UTC()
	if breakdown.Valid {
		// Un breakdown ilegible no invalida la señal: quality ya está en su columna.
		_ = json.Unmarshal([]byte(breakdown.String), &sig.Breakdown)
	}
	return sig, nil
}

// SignalQualities devuelve las calidades de los trades taken-and-filled
// liquidados desde sinceTS para el modo dado, las más recientes primero.
// Alimenta el cálculo de cuantiles rolling.
func (s *Store) SignalQualities(ctx context.Context, mode domain.TimeMode, sinceTS int64, limit int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sg.quality
		FROM trades t
		JOIN signals sg ON sg.id = t.signal_id
		WHERE t.status = 'SETTLED'
		  AND t.decision IN ('OK', 'AUTO_OK')
		  AND t.fill_status IN ('FILLED', 'PARTIAL')
		  AND t.time_mode = ?
		  AND t.updated_at >= ?
		ORDER BY t.updated_at DESC
		LIMIT ?`,
		string(mode), sinceTS, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.SignalQualities: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var q float64
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("storage.SignalQualities: scan: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
