package opt

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// LineSearchConfig holds the constants of the strong Wolfe conditions.
type LineSearchConfig struct {
	C1        float64 // Sufficient decrease constant (default: 1e-4)
	C2        float64 // Curvature constant (default: 0.9)
	MaxIter   int     // Maximum objective evaluations per search (default: 25)
	TolChange float64 // Minimum change of the bracket along the direction (default: 1e-9)
}

// WolfeLineSearch searches along wrt + t·direction for a step t that
// satisfies the strong Wolfe conditions:
//
//	f(wrt + t·d) ≤ f(wrt) + c1·t·∇f(wrt)ᵀd
//	|∇f(wrt + t·d)ᵀd| ≤ c2·|∇f(wrt)ᵀd|
//
// The search never fails. A direction that is not a descent direction yields
// a step of zero, and when the evaluation budget runs out the best point seen
// so far is returned. Val and Grad describe the accepted point so callers do
// not need to evaluate it again.
type WolfeLineSearch struct {
	wrt    []float64
	f      LossFunc
	fprime GradFunc

	c1, c2    float64
	maxIter   int
	tolChange float64

	x    []float64
	val  float64
	grad []float64
}

// lsPoint is one evaluated point along the search ray.
type lsPoint struct {
	t, f, d float64
	g       []float64
}

// NewWolfeLineSearch creates a line search around wrt. The search reads wrt
// but never modifies it.
func NewWolfeLineSearch(wrt []float64, f LossFunc, fprime GradFunc, config LineSearchConfig) *WolfeLineSearch {
	if config.C1 == 0 {
		config.C1 = 1e-4
	}
	if config.C2 == 0 {
		config.C2 = 0.9
	}
	if config.MaxIter == 0 {
		config.MaxIter = 25
	}
	if config.TolChange == 0 {
		config.TolChange = 1e-9
	}

	return &WolfeLineSearch{
		wrt:       wrt,
		f:         f,
		fprime:    fprime,
		c1:        config.C1,
		c2:        config.C2,
		maxIter:   config.MaxIter,
		tolChange: config.TolChange,
		x:         make([]float64, len(wrt)),
	}
}

// Val returns the objective value at the point accepted by the last search.
func (ls *WolfeLineSearch) Val() float64 {
	return ls.val
}

// Grad returns a copy of the gradient at the point accepted by the last search.
func (ls *WolfeLineSearch) Grad() []float64 {
	return clone(ls.grad)
}

func (ls *WolfeLineSearch) eval(t float64, direction []float64, args Args) lsPoint {
	axpyTo(ls.x, ls.wrt, t, direction)
	f := ls.f(ls.x, args)
	g := ls.fprime(ls.x, args)
	return lsPoint{t: t, f: f, g: g, d: floats.Dot(g, direction)}
}

func (ls *WolfeLineSearch) accept(p lsPoint) float64 {
	ls.val = p.f
	ls.grad = p.g
	return p.t
}

// Search returns a step length along direction, starting from the guess
// initial. A guess that is not a positive finite number is replaced by 1.
func (ls *WolfeLineSearch) Search(direction []float64, initial float64, args Args) float64 {
	origin := lsPoint{t: 0, f: ls.f(ls.wrt, args), g: ls.fprime(ls.wrt, args)}
	origin.d = floats.Dot(origin.g, direction)
	ls.accept(origin)

	if !(origin.d < 0) || !finite(origin.f) {
		return 0
	}

	t := initial
	if !(t > 0) || math.IsInf(t, 0) {
		t = 1
	}

	best := origin
	prev := origin
	dirMax := floats.Norm(direction, math.Inf(1))

	for evals := 0; evals < ls.maxIter; evals++ {
		cur := ls.eval(t, direction, args)
		used := evals + 1

		if !finite(cur.f) || !finite(cur.d) {
			// Step too long for the objective to be defined; back off.
			t = prev.t + (t-prev.t)/2
			continue
		}
		if cur.f < best.f {
			best = cur
		}

		if cur.f > origin.f+ls.c1*cur.t*origin.d || (prev.t > 0 && cur.f >= prev.f) {
			return ls.zoom(origin, prev, cur, &best, direction, args, ls.maxIter-used, dirMax)
		}
		if math.Abs(cur.d) <= -ls.c2*origin.d {
			return ls.accept(cur)
		}
		if cur.d >= 0 {
			return ls.zoom(origin, cur, prev, &best, direction, args, ls.maxIter-used, dirMax)
		}

		// Still descending: extrapolate, keeping the new step within
		// [t + 0.01·(t − t_prev), 10·t].
		lo := cur.t + 0.01*(cur.t-prev.t)
		hi := 10 * cur.t
		next := cubicMin(prev, cur)
		if !finite(next) || next < lo || next > hi {
			next = hi
		}
		prev = cur
		t = next
	}

	return ls.accept(best)
}

// zoom narrows the bracket [lo, hi] until it finds a point satisfying the
// strong Wolfe conditions. lo always holds the lowest sufficient-decrease
// point of the bracket.
func (ls *WolfeLineSearch) zoom(origin, lo, hi lsPoint, best *lsPoint, direction []float64, args Args, budget int, dirMax float64) float64 {
	for ; budget > 0; budget-- {
		if math.Abs(hi.t-lo.t)*dirMax < ls.tolChange {
			break
		}

		left, right := math.Min(lo.t, hi.t), math.Max(lo.t, hi.t)
		width := right - left
		t := cubicMin(lo, hi)
		if !finite(t) || t < left+0.1*width || t > right-0.1*width {
			t = left + width/2
		}

		cur := ls.eval(t, direction, args)
		if !finite(cur.f) || !finite(cur.d) {
			hi = cur
			continue
		}
		if cur.f < best.f {
			*best = cur
		}

		if cur.f > origin.f+ls.c1*cur.t*origin.d || cur.f >= lo.f {
			hi = cur
			continue
		}
		if math.Abs(cur.d) <= -ls.c2*origin.d {
			return ls.accept(cur)
		}
		if cur.d*(hi.t-lo.t) >= 0 {
			hi = lo
		}
		lo = cur
	}

	return ls.accept(*best)
}

// cubicMin returns the minimizer of the cubic interpolating the values and
// directional derivatives at a and b, or NaN when it has none.
func cubicMin(a, b lsPoint) float64 {
	if a.t == b.t {
		return math.NaN()
	}
	d1 := a.d + b.d - 3*(a.f-b.f)/(a.t-b.t)
	disc := d1*d1 - a.d*b.d
	if disc < 0 {
		return math.NaN()
	}
	d2 := math.Copysign(math.Sqrt(disc), b.t-a.t)
	denom := b.d - a.d + 2*d2
	if denom == 0 {
		return math.NaN()
	}
	return b.t - (b.t-a.t)*(b.d+d2-d1)/denom
}
