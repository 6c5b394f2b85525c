package storage

// sqlite.go — ledger de trading sobre SQLite (pure Go, sin CGo).
//
// El ledger es el único escritor de windows/signals/trades/cap_checks/stats.
// Toda transición de estado pasa por una transacción que relee el estado
// actual, valida la arista contra la tabla de transiciones y recién entonces
// escribe. SETTLED además actualiza la fila de stats en la misma transacción.
// Timestamps en unix seconds UTC en todas las tablas.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/evgenss79/MARTIN/internal/ports"
	_ "modernc.org/sqlite"
)

// migrations en orden; cada una se aplica una sola vez y queda registrada.
var migrations = []string{
	// 1: tablas base
	`
	CREATE TABLE IF NOT EXISTS market_windows (
	    id            INTEGER PRIMARY KEY AUTOINCREMENT,
	    asset         TEXT    NOT NULL,
	    slug          TEXT    NOT NULL UNIQUE,
	    condition_id  TEXT    NOT NULL,
	    up_token_id   TEXT    NOT NULL,
	    down_token_id TEXT    NOT NULL,
	    start_ts      INTEGER NOT NULL,
	    end_ts        INTEGER NOT NULL,
	    outcome       TEXT,
	    created_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_windows_asset  ON market_windows(asset);
	CREATE INDEX IF NOT EXISTS idx_windows_end_ts ON market_windows(end_ts);

	CREATE TABLE IF NOT EXISTS signals (
	    id                INTEGER PRIMARY KEY AUTOINCREMENT,
	    window_id         INTEGER NOT NULL UNIQUE,
	    direction         TEXT    NOT NULL,
	    signal_ts         INTEGER NOT NULL,
	    confirm_ts        INTEGER NOT NULL,
	    quality           REAL    NOT NULL,
	    quality_breakdown TEXT,
	    anchor_bar_ts     INTEGER NOT NULL,
	    created_at        INTEGER NOT NULL,
	    FOREIGN KEY (window_id) REFERENCES market_windows(id)
	);

	CREATE TABLE IF NOT EXISTS trades (
	    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	    window_id          INTEGER NOT NULL,
	    signal_id          INTEGER,
	    status             TEXT    NOT NULL DEFAULT 'NEW',
	    time_mode          TEXT,
	    policy_mode        TEXT    NOT NULL DEFAULT 'BASE',
	    decision           TEXT    NOT NULL DEFAULT 'PENDING',
	    cancel_reason      TEXT,
	    token_id           TEXT,
	    order_id           TEXT,
	    fill_status        TEXT    NOT NULL DEFAULT 'PENDING',
	    fill_price         REAL,
	    stake_amount       REAL    NOT NULL DEFAULT 0,
	    pnl                REAL,
	    is_win             INTEGER,
	    trade_level_streak INTEGER NOT NULL DEFAULT 0,
	    night_streak       INTEGER NOT NULL DEFAULT 0,
	    created_at         INTEGER NOT NULL,
	    updated_at         INTEGER NOT NULL,
	    FOREIGN KEY (window_id) REFERENCES market_windows(id),
	    FOREIGN KEY (signal_id) REFERENCES signals(id)
	);
	CREATE INDEX IF NOT EXISTS idx_trades_window_id ON trades(window_id);
	CREATE INDEX IF NOT EXISTS idx_trades_status    ON trades(status);

	CREATE TABLE IF NOT EXISTS cap_checks (
	    id                INTEGER PRIMARY KEY AUTOINCREMENT,
	    trade_id          INTEGER NOT NULL UNIQUE,
	    token_id          TEXT    NOT NULL,
	    confirm_ts        INTEGER NOT NULL,
	    end_ts            INTEGER NOT NULL,
	    status            TEXT    NOT NULL DEFAULT 'PENDING',
	    consecutive_ticks INTEGER NOT NULL DEFAULT 0,
	    first_pass_ts     INTEGER,
	    price_at_pass     REAL,
	    created_at        INTEGER NOT NULL,
	    FOREIGN KEY (trade_id) REFERENCES trades(id)
	);

	CREATE TABLE IF NOT EXISTS stats (
	    id                          INTEGER PRIMARY KEY CHECK (id = 1),
	    trade_level_streak          INTEGER NOT NULL DEFAULT 0,
	    night_streak                INTEGER NOT NULL DEFAULT 0,
	    policy_mode                 TEXT    NOT NULL DEFAULT 'BASE',
	    total_trades                INTEGER NOT NULL DEFAULT 0,
	    total_wins                  INTEGER NOT NULL DEFAULT 0,
	    total_losses                INTEGER NOT NULL DEFAULT 0,
	    last_strict_day_threshold   REAL,
	    last_strict_night_threshold REAL,
	    last_quantile_update_ts     INTEGER,
	    is_paused                   INTEGER NOT NULL DEFAULT 0,
	    day_only                    INTEGER NOT NULL DEFAULT 0,
	    night_only                  INTEGER NOT NULL DEFAULT 0,
	    updated_at                  INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO stats (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS settings (
	    key        TEXT PRIMARY KEY,
	    value      TEXT    NOT NULL,
	    updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS migrations (
	    id         INTEGER PRIMARY KEY,
	    applied_at INTEGER NOT NULL
	);
	`,
}

// Store implementa ports.Ledger sobre SQLite.
type Store struct {
	db *sql.DB
}

var _ ports.Ledger = (*Store)(nil)

// New abre (o crea) la base en la ruta dada y aplica las migraciones
// pendientes. Las migraciones son idempotentes.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.New: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.New: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate aplica las migraciones que aún no figuran en la tabla migrations.
func (s *Store) migrate(ctx context.Context) error {
	applied := map[int]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM migrations`)
	if err == nil {
		for rows.Next() {
			var id int
			if rows.Scan(&id) == nil {
				applied[id] = true
			}
		}
		rows.Close()
	}

	for i, migration := range migrations {
		id := i + 1
		if applied[id] {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage.migrate: begin %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage.migrate: apply %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO migrations (id, applied_at) VALUES (?, ?)`,
			id, time.Now().UTC().Unix(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage.migrate: record %d: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage.migrate: commit %d: %w", id, err)
		}
	}
	return nil
}

// Close cierra la conexión.
func (s *Store) Close() error {
	return s.db.Close()
}

// nowUnix existe para poder congelar el reloj en tests del propio paquete.
var nowUnix = func() int64 { return time.Now().UTC().Unix() }
