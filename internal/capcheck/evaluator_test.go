package capcheck_test

import (
	"testing"

	"github.com/evgenss79/MARTIN/internal/capcheck"
	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/stretchr/testify/assert"
)

func params() capcheck.Params {
	return capcheck.Params{
		ConfirmTS:   1000420,
		EndTS:       1003600,
		PriceCap:    0.55,
		CapMinTicks: 3,
	}
}

func ticks(pairs ...[2]float64) []domain.Tick {
	out := make([]domain.Tick, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, domain.Tick{TS: int64(p[0]), Price: p[1]})
	}
	return out
}

func TestEvaluate_Pass(t *testing.T) {
	// Tres ticks consecutivos <= cap tras confirm_ts.
	ts := ticks([2]float64{1000421, 0.50}, [2]float64{1000431, 0.54}, [2]float64{1000441, 0.52})

	res := capcheck.Evaluate(ts, params(), 1000500)

	assert.Equal(t, domain.CapPass, res.Status)
	assert.Equal(t, 3, res.ConsecutiveTicks)
	assert.Equal(t, int64(1000441), res.FirstPassTS, "el tick que completa la racha")
	assert.InDelta(t, 0.52, res.PriceAtPass, 1e-9)
}

func TestEvaluate_PreConfirmTicksNeverCount(t *testing.T) {
	// Dips baratos antes de confirm_ts + precios caros después.
	ts := ticks(
		[2]float64{1000400, 0.40}, [2]float64{1000410, 0.42}, // pre-confirm: ignorados
		[2]float64{1000425, 0.60}, [2]float64{1000500, 0.58}, // post-confirm: > cap
	)

	res := capcheck.Evaluate(ts, params(), 1003700)

	assert.Equal(t, domain.CapFail, res.Status)
	assert.Zero(t, res.ConsecutiveTicks)
	assert.Zero(t, res.FirstPassTS)
}

func TestEvaluate_GapResetsRun(t *testing.T) {
	ts := ticks(
		[2]float64{1000421, 0.50},
		[2]float64{1000431, 0.51},
		[2]float64{1000441, 0.60}, // invalida la racha
		[2]float64{1000451, 0.52},
		[2]float64{1000461, 0.53},
	)

	res := capcheck.Evaluate(ts, params(), 1000470)

	assert.Equal(t, domain.CapPending, res.Status)
	assert.Equal(t, 2, res.ConsecutiveTicks)
}

func TestEvaluate_EqualityCountsAsBelow(t *testing.T) {
	ts := ticks([2]float64{1000421, 0.55}, [2]float64{1000431, 0.55}, [2]float64{1000441, 0.55})

	res := capcheck.Evaluate(ts, params(), 1000500)

	assert.Equal(t, domain.CapPass, res.Status, "price == cap cuenta como <=")
}

func TestEvaluate_Late(t *testing.T) {
	p := params()
	p.ConfirmTS = 1003620 // señal a 1003500 + delay 120 >= end_ts 1003600 (S2)

	res := capcheck.Evaluate(nil, p, 1003500)

	assert.Equal(t, domain.CapLate, res.Status)
}

func TestEvaluate_PendingBeforeWindowEnd(t *testing.T) {
	ts := ticks([2]float64{1000421, 0.50}, [2]float64{1000431, 0.54})

	res := capcheck.Evaluate(ts, params(), 1000440)

	assert.Equal(t, domain.CapPending, res.Status)
	assert.Equal(t, 2, res.ConsecutiveTicks)
}

func TestEvaluate_FailAtWindowEndWithoutPass(t *testing.T) {
	ts := ticks([2]float64{1000421, 0.50}, [2]float64{1000431, 0.54})

	res := capcheck.Evaluate(ts, params(), 1003600)

	assert.Equal(t, domain.CapFail, res.Status)
}

func TestEvaluate_NoTicksYetIsPending(t *testing.T) {
	res := capcheck.Evaluate(nil, params(), 1000500)

	assert.Equal(t, domain.CapPending, res.Status)
}

func TestEvaluate_TicksAfterEndExcluded(t *testing.T) {
	ts := ticks(
		[2]float64{1003590, 0.50},
		[2]float64{1003601, 0.50}, // fuera de ventana
		[2]float64{1003602, 0.50},
	)

	res := capcheck.Evaluate(ts, params(), 1003600)

	assert.Equal(t, domain.CapFail, res.Status)
	assert.Equal(t, 1, res.ConsecutiveTicks)
}

func TestEvaluate_UnorderedInputIsSorted(t *testing.T) {
	ts := ticks(
		[2]float64{1000441, 0.52},
		[2]float64{1000421, 0.50},
		[2]float64{1000431, 0.54},
	)

	res := capcheck.Evaluate(ts, params(), 1000500)

	assert.Equal(t, domain.CapPass, res.Status)
	assert.Equal(t, int64(1000441), res.FirstPassTS)
}
