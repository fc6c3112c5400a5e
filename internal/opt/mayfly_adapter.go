package opt

import (
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// Searcher is a derivative-free global search over a box. It is used to
// pick a starting point before gradient-based refinement.
type Searcher interface {
	// Run minimizes eval inside [lower, upper] and returns the best point
	// found together with its value.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// MayflyAdapter wraps the external Mayfly library to conform to Searcher.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly searcher. Mayfly needs a population of at
// least 20.
func NewMayfly(maxIters, popSize int, seed int64) Searcher {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly search.
//
// Mayfly only takes scalar bounds, so the search runs in coordinates
// centred on the box: z ∈ [−h, h]^dim with h the largest half-width, and
// each z is mapped back into the box before evaluation.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	centre := make([]float64, dim)
	half := 0.0
	for i := 0; i < dim; i++ {
		centre[i] = (lower[i] + upper[i]) / 2
		half = max(half, (upper[i]-lower[i])/2)
	}

	toBox := func(z []float64) []float64 {
		x := make([]float64, dim)
		for i := range x {
			x[i] = min(upper[i], max(lower[i], centre[i]+z[i]))
		}
		return x
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(z []float64) float64 {
		return eval(toBox(z))
	}
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = -half
	config.UpperBound = half
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		slog.Warn("Mayfly search failed, using box centre", "error", err)
		return centre, eval(centre)
	}

	best := toBox(result.GlobalBest.Position)
	return best, eval(best)
}
