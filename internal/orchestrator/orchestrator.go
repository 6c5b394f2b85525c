// Package orchestrator drives every non-terminal trade forward exactly once
// per tick. It owns the cycle loop; all state lives in the ledger and every
// transition goes through the ledger's legality-checking transaction.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/execution"
	"github.com/evgenss79/MARTIN/internal/metrics"
	"github.com/evgenss79/MARTIN/internal/ports"
	"github.com/evgenss79/MARTIN/internal/stats"
	"github.com/evgenss79/MARTIN/internal/timemode"
)

// SnapshotSource entrega las series 1m/5m frescas de un asset. Lo implementa
// el snapshot worker; ok=false significa "sin datos todavía" (el trade se
// queda donde está).
type SnapshotSource interface {
	Fresh(ctx context.Context, asset string, nowTS int64) (candles1m, candles5m []domain.Candle, ok bool)
}

// Config son los parámetros del loop de orquestación.
type Config struct {
	Assets                []string
	PriceCap              float64
	ConfirmDelaySeconds   int64
	CapMinTicks           int
	StakeAmount           float64
	MaxResponseSeconds    int64
	NightAutotradeEnabled bool
	NightMaxWinStreak     int
	TickInterval          time.Duration
	SettlementTimeout     time.Duration
}

// Orchestrator coordina discovery, señal, CAP, aprobación, ejecución y
// liquidación de cada ventana.
type Orchestrator struct {
	cfg       Config
	ledger    ports.Ledger
	markets   ports.MarketProvider
	books     ports.BookProvider
	oracle    ports.TAOracle
	snapshots SnapshotSource
	notifier  ports.Notifier
	executor  execution.Executor
	stats     *stats.Service
	timeMode  *timemode.Resolver

	locks     *tradeLocks
	approvals *approvalLog
	cycleID   int64
	now       func() int64
}

// New arma el orchestrator con todas las dependencias inyectadas.
func New(
	cfg Config,
	ledger ports.Ledger,
	markets ports.MarketProvider,
	books ports.BookProvider,
	oracle ports.TAOracle,
	snapshots SnapshotSource,
	notifier ports.Notifier,
	executor execution.Executor,
	statsSvc *stats.Service,
	timeMode *timemode.Resolver,
) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = 2 * time.Hour
	}
	return &Orchestrator{
		cfg:       cfg,
		ledger:    ledger,
		markets:   markets,
		books:     books,
		oracle:    oracle,
		snapshots: snapshots,
		notifier:  notifier,
		executor:  executor,
		stats:     statsSvc,
		timeMode:  timeMode,
		locks:     newTradeLocks(),
		approvals: newApprovalLog(),
		now:       func() int64 { return time.Now().UTC().Unix() },
	}
}

// Run ejecuta el loop de ticks hasta que el contexto se cancele. El tick en
// vuelo termina antes de salir; los ticks no se apilan (el ticker de Go
// descarta los perdidos).
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("orchestrator starting",
		"assets", o.cfg.Assets,
		"tick_interval", o.cfg.TickInterval,
		"price_cap", o.cfg.PriceCap,
		"cap_min_ticks", o.cfg.CapMinTicks,
	)

	o.Tick(ctx)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator stopped")
			return nil
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick ejecuta un ciclo completo: discovery, procesamiento por trade y
// barrido de liquidaciones. Un fallo en un trade nunca aborta el ciclo.
func (o *Orchestrator) Tick(ctx context.Context) {
	nowTS := o.now()
	o.cycleID++
	cycleID := o.cycleID

	st, err := o.ledger.Stats(ctx)
	if err != nil {
		slog.Error("cycle aborted: cannot read stats", "cycle_id", cycleID, "err", err)
		return
	}
	metrics.TradeStreak.Set(float64(st.TradeLevelStreak))

	slog.Info("cycle start",
		"cycle_id", cycleID,
		"ts", nowTS,
		"policy_mode", st.PolicyMode,
		"trade_level_streak", st.TradeLevelStreak,
		"night_streak", st.NightStreak,
	)

	if st.IsPaused {
		slog.Info("cycle skipped: paused", "cycle_id", cycleID)
		return
	}

	mode := o.timeMode.Mode(nowTS)
	if st.DayOnly && mode == domain.TimeModeNight {
		slog.Info("cycle skipped: day-only", "cycle_id", cycleID)
		return
	}
	if st.NightOnly && mode == domain.TimeModeDay {
		slog.Info("cycle skipped: night-only", "cycle_id", cycleID)
		return
	}

	if o.stats.QuantilesDue(st, nowTS) {
		if _, err := o.stats.UpdateRollingQuantiles(ctx, nowTS); err != nil {
			slog.Warn("quantile update failed", "cycle_id", cycleID, "err", err)
		}
	}

	o.discover(ctx, nowTS, mode, st, cycleID)

	// La lista se captura una vez: el barrido de liquidaciones solo toca
	// trades que ya estaban en ORDER_PLACED al inicio del procesamiento, así
	// un trade nunca acumula más de una transición por ciclo (fuera del
	// colapso SIGNALLED -> WAITING_CONFIRM -> WAITING_CAP).
	trades, err := o.ledger.NonTerminalTrades(ctx)
	if err != nil {
		slog.Error("cannot list non-terminal trades", "cycle_id", cycleID, "err", err)
		return
	}

	o.processTrades(ctx, trades, nowTS, mode, cycleID)
	o.sweepSettlements(ctx, trades, nowTS, cycleID)

	metrics.Cycles.Inc()
	slog.Info("cycle end", "cycle_id", cycleID)
}

// processTrades evalúa cada trade no terminal bajo su lock advisory.
func (o *Orchestrator) processTrades(ctx context.Context, trades []domain.Trade, nowTS int64, mode domain.TimeMode, cycleID int64) {
	for _, trade := range trades {
		if trade.Status == domain.StatusOrderPlaced {
			continue // lo maneja el barrido de liquidaciones
		}
		if ctx.Err() != nil {
			return
		}
		o.withTradeLock(trade.ID, func() {
			if err := o.processTrade(ctx, trade, nowTS, mode, cycleID); err != nil {
				slog.Error("trade processing failed",
					"cycle_id", cycleID,
					"trade_id", trade.ID,
					"status", trade.Status,
					"err", err,
				)
			}
		})
	}
}

func (o *Orchestrator) withTradeLock(tradeID int64, fn func()) {
	mu := o.locks.lock(tradeID)
	mu.Lock()
	defer mu.Unlock()
	fn()
}
