// Package stats mantiene las rachas, el modo de política BASE/STRICT y los
// umbrales de calidad. Solo los trades "taken and filled" (decision OK o
// AUTO_OK con fill FILLED/PARTIAL) mueven las rachas; el resto liquida sin
// tocar el estado de riesgo.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/ports"
)

// Config agrupa los parámetros de rachas, política y cuantiles.
type Config struct {
	SwitchStreakAt         int
	StartStrictAfterNWins  int
	StrictQualityIncrement float64
	NightMaxWinStreak      int
	NightSessionMode       domain.NightSessionMode
	BaseDayMinQuality      float64
	BaseNightMinQuality    float64

	QuantileEnabled     bool
	RollingDays         int
	MaxSamples          int
	MinSamples          int
	StrictFallbackMult  float64
	StrictDayQuantile   string // p90 | p95 | p97 | p99
	StrictNightQuantile string
}

// Service aplica las reglas de rachas y calcula umbrales de aceptación.
type Service struct {
	cfg    Config
	ledger ports.Ledger
}

// New crea el servicio de stats sobre el ledger dado.
func New(cfg Config, ledger ports.Ledger) *Service {
	return &Service{cfg: cfg, ledger: ledger}
}

// ApplySettlement muta las stats tras liquidar un trade. Es la closure que el
// orchestrator pasa a Ledger.SettleTrade, de modo que fila de trade y stats
// se escriben en la misma transacción.
//
// Reglas:
//   - trades no taken-and-filled no tocan rachas ni totales.
//   - win: +1 trade_level_streak (+1 night_streak si el trade fue NIGHT);
//     STRICT al alcanzar switch_streak_at; reset de sesión nocturna al
//     alcanzar night_max_win_streak.
//   - loss: rachas a 0 y vuelta a BASE.
func (s *Service) ApplySettlement(st *domain.Stats, trade domain.Trade, isWin bool) {
	if !trade.CountsForStreak() {
		slog.Debug("settlement does not move streaks",
			"trade_id", trade.ID,
			"decision", trade.Decision,
			"fill_status", trade.FillStatus,
		)
		return
	}

	st.TotalTrades++

	if !isWin {
		st.TotalLosses++
		slog.Info("loss recorded, streaks reset",
			"trade_id", trade.ID,
			"previous_streak", st.TradeLevelStreak,
		)
		st.TradeLevelStreak = 0
		st.NightStreak = 0
		st.PolicyMode = domain.PolicyBase
		return
	}

	st.TotalWins++
	st.TradeLevelStreak++
	if trade.TimeMode == domain.TimeModeNight {
		st.NightStreak++
	}

	slog.Info("win recorded",
		"trade_id", trade.ID,
		"trade_level_streak", st.TradeLevelStreak,
		"night_streak", st.NightStreak,
	)

	if st.PolicyMode == domain.PolicyBase && st.TradeLevelStreak >= s.cfg.SwitchStreakAt {
		st.PolicyMode = domain.PolicyStrict
		slog.Info("policy switched to STRICT",
			"trade_level_streak", st.TradeLevelStreak,
			"switch_streak_at", s.cfg.SwitchStreakAt,
		)
	}

	if trade.TimeMode == domain.TimeModeNight && st.NightStreak >= s.cfg.NightMaxWinStreak {
		s.applyNightReset(st)
	}
}

// ApplyNightReset resetea la sesión nocturna según el modo configurado y
// devuelve las stats vía ledger. Lo invoca el orchestrator cuando encuentra
// un trade READY nocturno con la racha al tope.
func (s *Service) ApplyNightReset(ctx context.Context) (domain.Stats, error) {
	return s.ledger.UpdateStats(ctx, func(st *domain.Stats) {
		s.applyNightReset(st)
	})
}

func (s *Service) applyNightReset(st *domain.Stats) {
	switch s.cfg.NightSessionMode {
	case domain.NightSessionOff:
		// Con night autotrade apagado la condición no puede darse.
		return
	case domain.NightSessionHard:
		st.NightStreak = 0
		st.TradeLevelStreak = 0
		st.PolicyMode = domain.PolicyBase
		slog.Info("night session HARD reset applied")
	default: // SOFT
		st.NightStreak = 0
		st.PolicyMode = domain.PolicyBase
		slog.Info("night session SOFT reset applied")
	}
}

// Threshold computes the effective acceptance threshold for the current
// stats. Pure over its inputs.
//
// BASE: the configured day/night base quality.
// STRICT: the strict base plus the incremental term
// max(0, streak - start_strict_after_n_wins + 1) * strict_quality_increment.
// The strict base is the day/night base quality; when the rolling quantile is
// enabled it is the cached quantile threshold instead, or
// base * strict_fallback_mult while none has been computed.
func (s *Service) Threshold(st domain.Stats, mode domain.TimeMode) float64 {
	base := s.cfg.BaseDayMinQuality
	if mode == domain.TimeModeNight {
		base = s.cfg.BaseNightMinQuality
	}

	threshold := base
	if st.PolicyMode == domain.PolicyStrict && s.cfg.QuantileEnabled {
		cached := st.LastStrictDayThreshold
		if mode == domain.TimeModeNight {
			cached = st.LastStrictNightThreshold
		}
		if cached > 0 {
			threshold = cached
		} else {
			threshold = base * s.cfg.StrictFallbackMult
		}
	}

	if extra := st.TradeLevelStreak - s.cfg.StartStrictAfterNWins + 1; st.PolicyMode == domain.PolicyStrict && extra > 0 {
		threshold += float64(extra) * s.cfg.StrictQualityIncrement
	}
	return threshold
}

// UpdateRollingQuantiles recalcula los umbrales STRICT desde las calidades de
// los trades taken-and-filled de los últimos rolling_days. Con menos de
// min_samples muestras se usa base * strict_fallback_mult.
func (s *Service) UpdateRollingQuantiles(ctx context.Context, nowTS int64) (domain.Stats, error) {
	sinceTS := nowTS - int64(s.cfg.RollingDays)*86400

	dayQ, err := s.ledger.SignalQualities(ctx, domain.TimeModeDay, sinceTS, s.cfg.MaxSamples)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("stats.UpdateRollingQuantiles: day qualities: %w", err)
	}
	nightQ, err := s.ledger.SignalQualities(ctx, domain.TimeModeNight, sinceTS, s.cfg.MaxSamples)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("stats.UpdateRollingQuantiles: night qualities: %w", err)
	}

	dayThreshold := s.thresholdFromSamples(dayQ, s.cfg.StrictDayQuantile, s.cfg.BaseDayMinQuality)
	nightThreshold := s.thresholdFromSamples(nightQ, s.cfg.StrictNightQuantile, s.cfg.BaseNightMinQuality)

	updated, err := s.ledger.UpdateStats(ctx, func(st *domain.Stats) {
		st.LastStrictDayThreshold = dayThreshold
		st.LastStrictNightThreshold = nightThreshold
		st.LastQuantileUpdateTS = nowTS
	})
	if err != nil {
		return domain.Stats{}, fmt.Errorf("stats.UpdateRollingQuantiles: save: %w", err)
	}

	slog.Info("rolling quantiles updated",
		"day_samples", len(dayQ),
		"day_threshold", dayThreshold,
		"night_samples", len(nightQ),
		"night_threshold", nightThreshold,
	)
	return updated, nil
}

func (s *Service) thresholdFromSamples(samples []float64, quantileName string, base float64) float64 {
	if len(samples) < s.cfg.MinSamples {
		return base * s.cfg.StrictFallbackMult
	}
	q, ok := quantileMap[quantileName]
	if !ok {
		q = 0.95
	}
	return Quantile(samples, q)
}

// Snapshot devuelve las stats actuales del ledger.
func (s *Service) Snapshot(ctx context.Context) (domain.Stats, error) {
	return s.ledger.Stats(ctx)
}

// QuantilesDue reporta si toca recalcular cuantiles (una vez al día).
func (s *Service) QuantilesDue(st domain.Stats, nowTS int64) bool {
	if !s.cfg.QuantileEnabled {
		return false
	}
	return nowTS-st.LastQuantileUpdateTS >= int64((24 * time.Hour).Seconds())
}
