package ports

import (
	"context"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// Ledger is the single source of truth for windows, trades, signals, cap
// checks and the stats singleton. All trade mutations flow through it; it
// serializes concurrent transitions on the same trade and rejects transitions
// that are illegal per the state machine.
type Ledger interface {
	// Windows
	UpsertWindow(ctx context.Context, w domain.MarketWindow) (domain.MarketWindow, error)
	WindowByID(ctx context.Context, id int64) (domain.MarketWindow, error)
	SetWindowOutcome(ctx context.Context, id int64, outcome string) error

	// Signals (at most one per window)
	CreateSignal(ctx context.Context, s domain.Signal) (domain.Signal, error)
	SignalByID(ctx context.Context, id int64) (domain.Signal, error)
	// SignalQualities returns the qualities of taken-and-filled trades of the
	// given time mode settled since sinceTS, newest first, capped at limit.
	SignalQualities(ctx context.Context, mode domain.TimeMode, sinceTS int64, limit int) ([]float64, error)

	// Trades
	// ClaimWindow creates a NEW trade for the window unless a non-terminal
	// trade already exists; created reports whether a row was inserted.
	ClaimWindow(ctx context.Context, windowID int64, seed domain.Trade) (trade domain.Trade, created bool, err error)
	TradeByID(ctx context.Context, id int64) (domain.Trade, error)
	NonTerminalTrades(ctx context.Context) ([]domain.Trade, error)

	// Transition atomically re-reads the trade, verifies from->to legality,
	// applies mutate, and writes the new status. Illegal transitions return
	// statemachine.ErrInvalidTransition without mutating anything.
	Transition(ctx context.Context, tradeID int64, to domain.TradeStatus, reason string, mutate func(*domain.Trade)) (domain.Trade, error)

	// MutateTrade updates non-status fields (decision, order ids, fills)
	// under the same serialization as Transition.
	MutateTrade(ctx context.Context, tradeID int64, mutate func(*domain.Trade)) (domain.Trade, error)

	// SettleTrade transitions ORDER_PLACED -> SETTLED and applies the stats
	// mutation in the same transaction.
	SettleTrade(ctx context.Context, tradeID int64, mutate func(*domain.Trade), statsMutate func(*domain.Stats)) (domain.Trade, error)

	// Cap checks (one per trade, created lazily)
	EnsureCapCheck(ctx context.Context, c domain.CapCheck) (domain.CapCheck, error)
	CapCheckByTradeID(ctx context.Context, tradeID int64) (domain.CapCheck, bool, error)
	UpdateCapCheck(ctx context.Context, c domain.CapCheck) error

	// Stats singleton
	Stats(ctx context.Context) (domain.Stats, error)
	UpdateStats(ctx context.Context, mutate func(*domain.Stats)) (domain.Stats, error)

	// Settings (runtime config overrides)
	Settings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}
