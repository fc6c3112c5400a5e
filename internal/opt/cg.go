package opt

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// refreshEvery is how often linear CG recomputes the residual from scratch
// instead of updating it incrementally.
const refreshEvery = 10

type precondKind int

const (
	precondNone precondKind = iota
	precondDiagonal
	precondMatrix
)

// Preconditioner is applied to the residual of the linear system on every
// step of ConjugateGradient. The zero value is the identity.
type Preconditioner struct {
	kind precondKind
	diag []float64
	lu   *mat.LU
}

// DiagonalPreconditioner divides the residual element-wise by d.
func DiagonalPreconditioner(d []float64) Preconditioner {
	return Preconditioner{kind: precondDiagonal, diag: d}
}

// MatrixPreconditioner solves against the square matrix m. The matrix is
// factorized once here; a non-square m panics.
func MatrixPreconditioner(m mat.Matrix) Preconditioner {
	var lu mat.LU
	lu.Factorize(m)
	return Preconditioner{kind: precondMatrix, lu: &lu}
}

func (p Preconditioner) solve(r []float64) ([]float64, error) {
	switch p.kind {
	case precondDiagonal:
		out := clone(r)
		floats.Div(out, p.diag)
		return out, nil
	case precondMatrix:
		var x mat.VecDense
		err := p.lu.SolveVecTo(&x, false, mat.NewVecDense(len(r), r))
		if err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
				return nil, fmt.Errorf("failed to apply preconditioner: %w", err)
			}
		}
		return x.RawVector().Data, nil
	default:
		return clone(r), nil
	}
}

// CGConfig holds configuration for the linear conjugate gradient solver.
// Exactly one of H or Hp must be set.
type CGConfig struct {
	// H is the system matrix A (symmetric positive definite).
	H mat.Matrix
	// Hp computes A·p and is used instead of H when set.
	Hp func(p []float64) []float64

	B       []float64      // Right-hand side b
	Epsilon float64        // Residual tolerance (default: 1e-14)
	Precond Preconditioner // Preconditioner (default: none)
	LogFunc LogFunc
}

// ConjugateGradient solves A x = b for symmetric positive definite A, which
// is the same as minimizing ½xᵀAx − bᵀx. Only products A·p are needed.
//
// It runs at most len(wrt) steps and stops early once every residual
// component is below Epsilon. Every 10th step the residual is recomputed
// from scratch to cancel floating point drift.
//
// Record keys: ry, Hp, pHp, step_length, n_iter.
type ConjugateGradient struct {
	base
	hp      func([]float64) []float64
	b       []float64
	epsilon float64
	precond Preconditioner

	grad      []float64
	y         []float64
	direction []float64
	i         int
	started   bool
}

// NewConjugateGradient creates a linear CG solver that writes the solution
// into wrt.
func NewConjugateGradient(wrt []float64, config CGConfig) *ConjugateGradient {
	if config.Epsilon == 0 {
		config.Epsilon = 1e-14
	}

	hp := config.Hp
	if hp == nil {
		if config.H == nil {
			panic("opt: CGConfig needs H or Hp")
		}
		h := config.H
		hp = func(p []float64) []float64 {
			var out mat.VecDense
			out.MulVec(h, mat.NewVecDense(len(p), p))
			return out.RawVector().Data
		}
	}

	b := config.B
	if b == nil {
		b = make([]float64, len(wrt))
	}

	return &ConjugateGradient{
		base:    newBase(wrt, nil, config.LogFunc),
		hp:      hp,
		b:       b,
		epsilon: config.Epsilon,
		precond: config.Precond,
	}
}

func (cg *ConjugateGradient) residual() []float64 {
	r := cg.hp(cg.wrt)
	floats.Sub(r, cg.b)
	return r
}

func (cg *ConjugateGradient) init() bool {
	cg.grad = cg.residual()

	// A zero residual would turn the direction into zero and every
	// following step length into NaN.
	if isZero(cg.grad) {
		cg.log("gradient is 0")
		cg.finish(nil)
		return false
	}

	y, err := cg.precond.solve(cg.grad)
	if err != nil {
		cg.finish(err)
		return false
	}
	cg.y = y
	cg.direction = clone(y)
	floats.Scale(-1, cg.direction)
	return true
}

// Next performs one CG step.
func (cg *ConjugateGradient) Next() (Info, bool) {
	if cg.done {
		return nil, false
	}
	if !cg.started {
		cg.started = true
		if !cg.init() {
			return nil, false
		}
	}
	if cg.i >= len(cg.wrt) {
		cg.finish(nil)
		return nil, false
	}

	i := cg.i
	hp := cg.hp(cg.direction)
	ry := floats.Dot(cg.grad, cg.y)
	pHp := floats.Dot(cg.direction, hp)
	stepLength := ry / pHp
	floats.AddScaled(cg.wrt, stepLength, cg.direction)

	if i%refreshEvery == 0 {
		cg.grad = cg.residual()
	} else {
		floats.AddScaled(cg.grad, stepLength, hp)
	}

	y, err := cg.precond.solve(cg.grad)
	if err != nil {
		cg.finish(err)
		return nil, false
	}
	cg.y = y
	beta := floats.Dot(cg.grad, cg.y) / ry

	// direction = -y + beta*direction
	floats.Scale(beta, cg.direction)
	floats.Sub(cg.direction, cg.y)

	// Past this point the step lengths become numerically meaningless.
	if allBelow(cg.grad, cg.epsilon) {
		cg.log("converged - gradient smaller than epsilon")
		cg.finish(nil)
		return nil, false
	}

	cg.i++
	return Info{
		"ry":          ry,
		"Hp":          hp,
		"pHp":         pHp,
		"step_length": stepLength,
		"n_iter":      i,
	}, true
}
