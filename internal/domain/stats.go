package domain

import "time"

// Stats is the singleton risk/policy row. All readers re-read it at the start
// of each cycle; all writers go through the ledger transaction.
type Stats struct {
	TradeLevelStreak int
	NightStreak      int
	PolicyMode       PolicyMode
	TotalTrades      int
	TotalWins        int
	TotalLosses      int
	// Cached STRICT thresholds from the rolling-quantile source. Zero means
	// not yet computed; consumers fall back to base * strict_fallback_mult.
	LastStrictDayThreshold   float64
	LastStrictNightThreshold float64
	LastQuantileUpdateTS     int64
	IsPaused                 bool
	DayOnly                  bool
	NightOnly                bool
	UpdatedAt                time.Time
}

// WinRate devuelve el porcentaje de trades ganados (0 si no hay trades).
func (s Stats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.TotalWins) / float64(s.TotalTrades) * 100
}
