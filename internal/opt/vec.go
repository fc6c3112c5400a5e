package opt

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// maxNorm is max_i |v_i|. It is NaN when v holds a NaN.
func maxNorm(v []float64) float64 {
	if floats.HasNaN(v) {
		return math.NaN()
	}
	return floats.Norm(v, math.Inf(1))
}

// isNonzeroFinite reports whether v has no NaN or Inf entries and at least
// one nonzero entry.
func isNonzeroFinite(v []float64) bool {
	n := maxNorm(v)
	return finite(n) && n > 0
}

// allBelow reports whether every |v_i| < eps.
func allBelow(v []float64, eps float64) bool {
	return maxNorm(v) < eps
}

func isZero(v []float64) bool {
	return maxNorm(v) == 0
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// axpyTo sets dst = y + alpha*x.
func axpyTo(dst, y []float64, alpha float64, x []float64) {
	floats.AddScaledTo(dst, y, alpha, x)
}
