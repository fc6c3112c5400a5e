package opt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/descent/internal/opt"
)

func sphere(x []float64) float64 {
	return square(x, opt.Args{})
}

func TestMayflyAdapterOnOffCentreBox(t *testing.T) {
	searcher := opt.NewMayfly(100, 20, 42)

	// The box is not centred on the origin, so the search has to go
	// through the centred-coordinate mapping to find it.
	dim := 3
	lower := []float64{-2, -2, -2}
	upper := []float64{6, 6, 6}

	best, cost := searcher.Run(sphere, lower, upper, dim)
	require.Len(t, best, dim)
	assert.Less(t, cost, 0.1)
	for i, v := range best {
		assert.InDelta(t, 0, v, 1.0, "parameter %d", i)
	}
}

func TestMayflyAdapterStaysInBox(t *testing.T) {
	searcher := opt.NewMayfly(30, 20, 7)

	far := func(x []float64) float64 {
		var sum float64
		for _, v := range x {
			sum += (v - 100) * (v - 100)
		}
		return sum
	}
	lower := []float64{-1, 0}
	upper := []float64{1, 4}

	best, cost := searcher.Run(far, lower, upper, 2)
	for i, v := range best {
		assert.GreaterOrEqual(t, v, lower[i])
		assert.LessOrEqual(t, v, upper[i])
	}
	assert.Equal(t, far(best), cost)
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	lower := []float64{-5, -5}
	upper := []float64{5, 5}

	best1, cost1 := opt.NewMayfly(50, 20, 123).Run(sphere, lower, upper, 2)
	best2, cost2 := opt.NewMayfly(50, 20, 123).Run(sphere, lower, upper, 2)

	assert.Equal(t, cost1, cost2)
	assert.Equal(t, best1, best2)
}
