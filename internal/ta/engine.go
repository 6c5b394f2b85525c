// Package ta implements the signal/quality oracle and the snapshot worker
// that keeps its candle inputs fresh.
//
// Detection: EMA20 crossover on 1m with a two-bar confirm, scanned from the
// window's anchor bar. Quality: a weighted sum of the anchor edge, ADX(14)
// and the EMA50 slope, multiplied by a 5m trend factor. The constants are
// canonical; callers compare only the final quality against their threshold.
package ta

import (
	"log/slog"

	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/ports"
)

const (
	anchorScale    = 10000.0
	wAnchor        = 1.0
	wADX           = 0.2
	wSlope         = 0.2
	trendBonus     = 1.10
	trendPenalty   = 0.70
	trendNeutral   = 1.00
	adxPeriod      = 14
	ema50SlopeBars = 6

	// EMA20 necesita 20 barras más 3 para detectar el cruce confirmado.
	minCandles = 23
)

// Engine es el oráculo TA canónico. No tiene estado: Evaluate es puro.
type Engine struct{}

// NewEngine devuelve el oráculo canónico.
func NewEngine() *Engine {
	return &Engine{}
}

var _ ports.TAOracle = (*Engine)(nil)

// Evaluate scans the 1m candles of the window for a confirmed EMA20 crossover
// and, when found, scores it. Returns nil while no pattern exists. signal_ts
// never precedes the window start (the scan begins at the anchor bar) and
// never exceeds nowTS (bars that open after nowTS are not evaluated).
func (e *Engine) Evaluate(candles1m, candles5m []domain.Candle, window domain.MarketWindow, nowTS int64) *ports.TAResult {
	if len(candles1m) < minCandles {
		slog.Debug("not enough candles for detection", "asset", window.Asset, "count", len(candles1m))
		return nil
	}

	closes := make([]float64, len(candles1m))
	for i, c := range candles1m {
		closes[i] = c.Close
	}
	ema20 := EMA(closes, 20)

	// Anchor: primera vela con ts >= start de la ventana.
	anchorIdx := -1
	for i, c := range candles1m {
		if c.TS >= window.StartTS {
			anchorIdx = i
			break
		}
	}
	if anchorIdx < 0 || anchorIdx >= len(candles1m)-2 {
		return nil
	}
	anchor := candles1m[anchorIdx]

	for i := anchorIdx + 2; i < len(candles1m); i++ {
		bar := candles1m[i]
		if bar.TS > nowTS {
			break
		}
		prev := candles1m[i-1]
		cross := candles1m[i-2]
		if ema20[i] == 0 || ema20[i-1] == 0 || ema20[i-2] == 0 {
			continue
		}

		var dir domain.Direction
		switch {
		// Dos cierres sobre la EMA20 con la barra previa por debajo: cruce UP.
		case bar.Close > ema20[i] && prev.Close > ema20[i-1] && cross.Close < ema20[i-2]:
			dir = domain.DirectionUp
		case bar.Close < ema20[i] && prev.Close < ema20[i-1] && cross.Close > ema20[i-2]:
			dir = domain.DirectionDown
		default:
			continue
		}

		breakdown := e.quality(dir, bar.Close, anchor.Close, i, candles1m, candles5m, bar.TS)
		return &ports.TAResult{
			Direction:   dir,
			SignalTS:    bar.TS,
			AnchorBarTS: anchor.TS,
			Quality:     breakdown.FinalQuality,
			Breakdown:   breakdown,
		}
	}
	return nil
}

// quality aplica la fórmula canónica:
// (1.0*anchor + 0.2*adx + 0.2*slope) * trendMult.
func (e *Engine) quality(dir domain.Direction, signalPrice, anchorPrice float64, signalIdx int, candles1m, candles5m []domain.Candle, signalTS int64) domain.QualityBreakdown {
	bd := domain.QualityBreakdown{
		AnchorPrice: anchorPrice,
		SignalPrice: signalPrice,
		TrendMult:   trendNeutral,
	}

	// A) componente anchor: retorno desde el anchor, escalado.
	if anchorPrice != 0 {
		bd.RetFromAnchor = (signalPrice - anchorPrice) / anchorPrice
	}
	bd.EdgeComponent = abs(bd.RetFromAnchor) * anchorScale

	// B) ADX(14) sobre 1m, normalizado a [0,1].
	highs := make([]float64, len(candles1m))
	lows := make([]float64, len(candles1m))
	closes := make([]float64, len(candles1m))
	for i, c := range candles1m {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	adx := ADX(highs, lows, closes, adxPeriod)
	if signalIdx < len(adx) {
		bd.ADXValue = adx[signalIdx]
	}
	bd.QADX = minf(bd.ADXValue/100.0, 1.0)

	// C) pendiente de la EMA50 sobre las últimas 6 barras, normalizada.
	ema50 := EMA(closes, 50)
	if start := signalIdx - ema50SlopeBars; start >= 0 && signalIdx < len(ema50) && ema50[start] != 0 {
		bd.EMA50Slope = ema50[signalIdx] - ema50[start]
		bd.QSlope = minf(abs(bd.EMA50Slope/ema50[start])*100, 1.0)
	}

	// D) confirmación de tendencia con EMA20 sobre 5m.
	if idx5 := lastIndexAtOrBefore(candles5m, signalTS); idx5 >= 0 {
		closes5 := make([]float64, len(candles5m))
		for i, c := range candles5m {
			closes5[i] = c.Close
		}
		ema205 := EMA(closes5, 20)
		if idx5 < len(ema205) && ema205[idx5] != 0 {
			above := closes5[idx5] > ema205[idx5]
			confirms := (dir == domain.DirectionUp) == above
			bd.TrendConfirms = confirms
			if confirms {
				bd.TrendMult = trendBonus
			} else {
				bd.TrendMult = trendPenalty
			}
		}
	}

	base := wAnchor*bd.EdgeComponent + wADX*bd.QADX + wSlope*bd.QSlope
	bd.FinalQuality = base * bd.TrendMult
	return bd
}

// lastIndexAtOrBefore devuelve el índice de la última vela con ts <= target,
// o -1 si no hay ninguna.
func lastIndexAtOrBefore(candles []domain.Candle, target int64) int {
	idx := -1
	for i, c := range candles {
		if c.TS > target {
			break
		}
		idx = i
	}
	return idx
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
