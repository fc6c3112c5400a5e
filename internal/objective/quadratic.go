package objective

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/descent/internal/opt"
)

var errNotPositiveDefinite = errors.New("matrix is not positive definite")

// Quadratic is f(x) = ½xᵀAx − bᵀx for a symmetric positive definite A.
type Quadratic struct {
	a        *mat.SymDense
	b        []float64
	init     []float64
	solution []float64
}

// NewQuadratic returns the 2-D benchmark quadratic
//
//	A = [2 0.5; 0.5 1], b = [1 1]
//
// started at (3, −2). Its eigenvalues are roughly 0.79 and 2.21.
func NewQuadratic() *Quadratic {
	q, err := NewQuadraticFrom(
		mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1}),
		[]float64{1, 1},
		[]float64{3, -2},
	)
	if err != nil {
		panic(err)
	}
	return q
}

// NewQuadraticFrom builds a quadratic from A and b. It fails when A is not
// positive definite.
func NewQuadraticFrom(a *mat.SymDense, b, init []float64) (*Quadratic, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errNotPositiveDefinite
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(len(b), b)); err != nil {
		return nil, err
	}
	return &Quadratic{
		a:        a,
		b:        b,
		init:     init,
		solution: x.RawVector().Data,
	}, nil
}

// Dim returns the dimension of the quadratic.
func (q *Quadratic) Dim() int {
	return len(q.b)
}

// Init returns a copy of the starting point.
func (q *Quadratic) Init() []float64 {
	return append([]float64(nil), q.init...)
}

// A returns the system matrix.
func (q *Quadratic) A() *mat.SymDense {
	return q.a
}

// B returns the linear term.
func (q *Quadratic) B() []float64 {
	return q.b
}

// Solution returns a copy of the exact minimizer A⁻¹b.
func (q *Quadratic) Solution() []float64 {
	return append([]float64(nil), q.solution...)
}

// Hp returns A·p.
func (q *Quadratic) Hp(p []float64) []float64 {
	var out mat.VecDense
	out.MulVec(q.a, mat.NewVecDense(len(p), p))
	return out.RawVector().Data
}

// F returns ½xᵀAx − bᵀx.
func (q *Quadratic) F(wrt []float64, _ opt.Args) float64 {
	return 0.5*floats.Dot(wrt, q.Hp(wrt)) - floats.Dot(q.b, wrt)
}

// FPrime returns Ax − b.
func (q *Quadratic) FPrime(wrt []float64, _ opt.Args) []float64 {
	g := q.Hp(wrt)
	floats.Sub(g, q.b)
	return g
}

// Solved reports whether wrt is within tol of A⁻¹b in every coordinate.
func (q *Quadratic) Solved(wrt []float64, tol float64) bool {
	return maxAbsDiff(wrt, q.solution) < tol
}
