// Package objective provides benchmark objectives for the minimizers in
// package opt: a convex quadratic, the Rosenbrock function and a logistic
// regression on synthetic data.
package objective

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/descent/internal/opt"
)

// ErrUnknownObjective is returned by New for names it does not know.
var ErrUnknownObjective = errors.New("unknown objective")

// Objective is a differentiable scalar function over a parameter vector.
// F and FPrime have the signatures of opt.LossFunc and opt.GradFunc.
type Objective interface {
	// Dim returns the length of the parameter vector.
	Dim() int

	// Init returns a fresh starting point.
	Init() []float64

	// F returns the objective value at wrt.
	F(wrt []float64, a opt.Args) float64

	// FPrime returns a fresh gradient at wrt.
	FPrime(wrt []float64, a opt.Args) []float64

	// Solution returns the known minimizer, or nil when it is unknown.
	Solution() []float64

	// Solved reports whether wrt is within tol of the solution.
	Solved(wrt []float64, tol float64) bool
}

// HessianProduct is implemented by quadratic objectives ½xᵀAx − bᵀx, whose
// minimizer solves the linear system A x = b.
type HessianProduct interface {
	Hp(p []float64) []float64
	B() []float64
}

// ArgsProvider is implemented by objectives that need data passed through
// the argument stream.
type ArgsProvider interface {
	Args() opt.Args
}

type factory func(dim int, seed int64) Objective

var registry = map[string]factory{
	"quadratic": func(dim int, seed int64) Objective {
		return NewQuadratic()
	},
	"rosenbrock": func(dim int, seed int64) Objective {
		return NewRosenbrock(dim)
	},
	"logreg": func(dim int, seed int64) Objective {
		return NewLogisticRegression(dim, 200, seed)
	},
}

// New builds the objective registered under name. dim is ignored by
// objectives with a fixed dimension; zero selects the default.
func New(name string, dim int, seed int64) (Objective, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObjective, name)
	}
	return f(dim, seed), nil
}

// Names lists the registered objectives.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// maxAbsDiff returns max_i |a_i − b_i|. It panics if the lengths differ.
func maxAbsDiff(a, b []float64) float64 {
	return floats.Distance(a, b, math.Inf(1))
}
