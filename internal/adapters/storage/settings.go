package storage

import (
	"context"
	"fmt"
)

// Settings devuelve todas las overrides de configuración en runtime.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("storage.Settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("storage.Settings: scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetSetting registra (o reescribe) una override de configuración.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowUnix(),
	)
	if err != nil {
		return fmt.Errorf("storage.SetSetting: %q: %w", key, err)
	}
	return nil
}
