package opt

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// restartThreshold is the gradient overlap g·g₋₁/g₋₁·g₋₁ above which the
// conjugate direction is dropped in favour of steepest descent.
const restartThreshold = 0.1

// NCGConfig holds configuration for the nonlinear conjugate gradient method.
type NCGConfig struct {
	Epsilon float64   // Gradient tolerance (default: 1e-6)
	Args    ArgStream // Argument stream (default: Empty())
	LogFunc LogFunc
}

// NonlinearConjugateGradient minimizes a smooth objective along conjugate
// directions found with a Wolfe line search.
//
// The direction update uses a Polak–Ribière beta clamped to the
// Fletcher–Reeves beta. When two consecutive gradients are far from
// orthogonal the method restarts with steepest descent.
//
// Record keys: loss, step_length, n_iter, args, kwargs, gradient,
// gradient_m1, beta, beta_fr, beta_pr, beta_hs, restart.
type NonlinearConjugateGradient struct {
	base
	f       LossFunc
	fprime  GradFunc
	epsilon float64

	lineSearch *WolfeLineSearch

	cur       Args
	grad      []float64
	gradM1    []float64
	direction []float64
	loss      float64
	lossM1    float64
	i         int
	started   bool
}

// NewNonlinearConjugateGradient creates an NCG minimizer over wrt.
//
// Example:
//
//	m := opt.NewNonlinearConjugateGradient(wrt, obj.F, obj.FPrime, opt.NCGConfig{
//	    Epsilon: 1e-8,
//	})
//	for info := range opt.All(m) {
//	    if info.Iter() >= 500 {
//	        break
//	    }
//	}
func NewNonlinearConjugateGradient(wrt []float64, f LossFunc, fprime GradFunc, config NCGConfig) *NonlinearConjugateGradient {
	if config.Epsilon == 0 {
		config.Epsilon = 1e-6
	}

	return &NonlinearConjugateGradient{
		base:       newBase(wrt, config.Args, config.LogFunc),
		f:          f,
		fprime:     fprime,
		epsilon:    config.Epsilon,
		lineSearch: NewWolfeLineSearch(wrt, f, fprime, LineSearchConfig{C2: 0.2}),
	}
}

// betas holds the conjugacy coefficients of one direction update.
type betas struct {
	beta, fr, pr, hs float64
	restart          bool
}

// findDirection computes −g + β·d₋₁.
func findDirection(gradM1, grad, directionM1 []float64) ([]float64, betas) {
	gradNormM1 := floats.Dot(gradM1, gradM1)
	gradDiff := make([]float64, len(grad))
	floats.SubTo(gradDiff, grad, gradM1)

	b := betas{
		fr: floats.Dot(grad, grad) / gradNormM1,
		pr: floats.Dot(grad, gradDiff) / gradNormM1,
		hs: floats.Dot(grad, gradDiff) / floats.Dot(directionM1, gradDiff),
	}
	b.beta = math.Max(-b.fr, math.Min(b.pr, b.fr))

	if floats.Dot(grad, gradM1)/gradNormM1 > restartThreshold {
		b.beta = 0
		b.restart = true
	}

	direction := clone(directionM1)
	floats.Scale(b.beta, direction)
	floats.Sub(direction, grad)
	return direction, b
}

func (n *NonlinearConjugateGradient) init() bool {
	args, ok := n.pull()
	if !ok {
		return false
	}
	n.cur = args
	n.grad = n.fprime(n.wrt, args)
	n.gradM1 = make([]float64, len(n.grad))
	n.loss = n.f(n.wrt, args)
	n.lossM1 = 0
	return true
}

func (n *NonlinearConjugateGradient) pull() (Args, bool) {
	a, ok := n.args.Next()
	if !ok {
		n.finish(nil)
	}
	return a, ok
}

// Next performs one NCG step.
func (n *NonlinearConjugateGradient) Next() (Info, bool) {
	if n.done {
		return nil, false
	}
	if !n.started {
		n.started = true
		if !n.init() {
			return nil, false
		}
	}

	nextArgs, ok := n.pull()
	if !ok {
		return nil, false
	}

	if allBelow(n.grad, n.epsilon) {
		n.log("converged - gradient smaller than epsilon")
		n.finish(nil)
		return nil, false
	}

	var direction []float64
	var b betas
	if n.i == 0 {
		direction = clone(n.grad)
		floats.Scale(-1, direction)
	} else {
		direction, b = findDirection(n.gradM1, n.grad, n.direction)
	}

	if !isNonzeroFinite(direction) {
		n.log("direction is invalid -- need to bail out.")
		n.finish(nil)
		return nil, false
	}
	n.direction = direction

	initialization := math.Min(1, 2*(n.loss-n.lossM1)/floats.Dot(n.grad, direction))
	stepLength := n.lineSearch.Search(direction, initialization, n.cur)
	floats.AddScaled(n.wrt, stepLength, direction)

	n.cur = nextArgs
	copy(n.gradM1, n.grad)
	n.grad = n.lineSearch.Grad()
	n.lossM1, n.loss = n.loss, n.lineSearch.Val()

	i := n.i
	n.i++
	return Info{
		"loss":        n.loss,
		"step_length": stepLength,
		"n_iter":      i,
		"args":        n.cur.Pos,
		"kwargs":      n.cur.Kw,
		"gradient":    clone(n.grad),
		"gradient_m1": clone(n.gradM1),
		"beta":        b.beta,
		"beta_fr":     b.fr,
		"beta_pr":     b.pr,
		"beta_hs":     b.hs,
		"restart":     b.restart,
	}, true
}
