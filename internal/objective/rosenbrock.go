package objective

import "github.com/cwbudde/descent/internal/opt"

// Rosenbrock is the n-dimensional Rosenbrock function
//
//	f(x) = Σ 100·(x_{i+1} − x_i²)² + (1 − x_i)²
//
// with its minimum at (1, …, 1).
type Rosenbrock struct {
	dim int
}

// NewRosenbrock creates a Rosenbrock objective. dim below 2 selects 2.
func NewRosenbrock(dim int) *Rosenbrock {
	if dim < 2 {
		dim = 2
	}
	return &Rosenbrock{dim: dim}
}

// Dim returns the dimension.
func (r *Rosenbrock) Dim() int {
	return r.dim
}

// Init returns the classic start (−1.2, 1, −1.2, 1, …).
func (r *Rosenbrock) Init() []float64 {
	x := make([]float64, r.dim)
	for i := range x {
		if i%2 == 0 {
			x[i] = -1.2
		} else {
			x[i] = 1
		}
	}
	return x
}

// F returns the Rosenbrock value.
func (r *Rosenbrock) F(wrt []float64, _ opt.Args) float64 {
	var sum float64
	for i := 0; i < len(wrt)-1; i++ {
		a := wrt[i+1] - wrt[i]*wrt[i]
		b := 1 - wrt[i]
		sum += 100*a*a + b*b
	}
	return sum
}

// FPrime returns the Rosenbrock gradient.
func (r *Rosenbrock) FPrime(wrt []float64, _ opt.Args) []float64 {
	g := make([]float64, len(wrt))
	for i := 0; i < len(wrt)-1; i++ {
		a := wrt[i+1] - wrt[i]*wrt[i]
		g[i] += -400*wrt[i]*a - 2*(1-wrt[i])
		g[i+1] += 200 * a
	}
	return g
}

// Solution returns the all-ones vector.
func (r *Rosenbrock) Solution() []float64 {
	ones := make([]float64, r.dim)
	for i := range ones {
		ones[i] = 1
	}
	return ones
}

// Solved reports whether every coordinate is within tol of 1.
func (r *Rosenbrock) Solved(wrt []float64, tol float64) bool {
	return maxAbsDiff(wrt, r.Solution()) < tol
}
