package stats

import "sort"

// quantileMap traduce los nombres de configuración a su valor q.
var quantileMap = map[string]float64{
	"p90": 0.90,
	"p95": 0.95,
	"p97": 0.97,
	"p99": 0.99,
}

// Quantile computes the q-quantile (0..1) with type-7 interpolation, the
// R/Excel default: h = (n-1)*q, interpolate linearly between floor(h) and
// floor(h)+1.
func Quantile(values []float64, q float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return values[0]
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	h := float64(n-1) * q
	k := int(h)
	d := h - float64(k)

	if k >= n-1 {
		return sorted[n-1]
	}
	if k < 0 {
		return sorted[0]
	}
	return sorted[k] + d*(sorted[k+1]-sorted[k])
}
