// Package capcheck valida el precio de entrada: el precio del token elegido
// debe mantenerse <= price_cap durante cap_min_ticks ticks consecutivos
// dentro de [confirm_ts, end_ts]. Los ticks anteriores a confirm_ts nunca
// cuentan; un tick por encima del cap invalida la racha acumulada.
package capcheck

import (
	"sort"

	"github.com/evgenss79/MARTIN/internal/domain"
)

// Params son los límites de una evaluación.
type Params struct {
	ConfirmTS   int64
	EndTS       int64
	PriceCap    float64
	CapMinTicks int
}

// Result es el veredicto de una evaluación.
type Result struct {
	Status           domain.CapStatus
	ConsecutiveTicks int
	FirstPassTS      int64
	PriceAtPass      float64
}

// Evaluate es una función pura sobre los ticks ordenables del book.
//
//   - LATE si confirm_ts >= end_ts (no hay ventana de validación).
//   - PASS la primera vez que la racha alcanza CapMinTicks; FirstPassTS y
//     PriceAtPass son el tick que completó la racha.
//   - FAIL si now >= end_ts sin PASS.
//   - PENDING en cualquier otro caso.
//
// La igualdad cuenta (price == cap es <=). Timestamps duplicados conservan el
// orden de inserción (sort estable).
func Evaluate(ticks []domain.Tick, p Params, nowTS int64) Result {
	if p.ConfirmTS >= p.EndTS {
		return Result{Status: domain.CapLate}
	}

	inWindow := make([]domain.Tick, 0, len(ticks))
	for _, tk := range ticks {
		if tk.TS < p.ConfirmTS || tk.TS > p.EndTS {
			continue
		}
		inWindow = append(inWindow, tk)
	}
	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].TS < inWindow[j].TS
	})

	run := 0
	for _, tk := range inWindow {
		if tk.Price > p.PriceCap {
			run = 0
			continue
		}
		run++
		if run >= p.CapMinTicks {
			return Result{
				Status:           domain.CapPass,
				ConsecutiveTicks: run,
				FirstPassTS:      tk.TS,
				PriceAtPass:      tk.Price,
			}
		}
	}

	if nowTS >= p.EndTS {
		return Result{Status: domain.CapFail, ConsecutiveTicks: run}
	}
	return Result{Status: domain.CapPending, ConsecutiveTicks: run}
}
