package opt

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// AsgdConfig holds configuration for averaged stochastic gradient descent.
// Lambda, Alpha and T0 are used as given, zero included; start from
// DefaultAsgdConfig to get the usual values.
type AsgdConfig struct {
	Eta0    float64   // Initial step size (default: 1e-5)
	Lambda  float64   // Weight decay
	Alpha   float64   // Step size decay exponent
	T0      float64   // Iteration at which averaging starts
	Args    ArgStream // Argument stream (default: Empty())
	LogFunc LogFunc
}

// DefaultAsgdConfig returns the configuration suggested by Bottou for
// large-scale problems.
func DefaultAsgdConfig() AsgdConfig {
	return AsgdConfig{
		Eta0:   1e-5,
		Lambda: 1e-4,
		Alpha:  0.75,
		T0:     1e8,
	}
}

// Asgd implements averaged stochastic gradient descent.
//
// Two estimates are kept: the raw iterate w, updated with decayed
// stochastic gradient steps, and the Polyak–Ruppert average of the iterates,
// which is written into the caller's parameter vector. Until T0 iterations
// have passed the average simply tracks w; afterwards each new iterate is
// mixed in with weight 1/(i − T0).
//
// Schedules, for step i counted from zero:
//
//	eta_t = eta0 / (1 + lambda·eta0·i)^alpha
//	mu_t  = 1 / max(1, i − t0)
//
// Asgd never stops on its own; bound it with a stop criterion or a finite
// argument stream.
//
// Record keys: gradient, mu_t, eta_t, lmbda, w, step, alpha, t0, eta0,
// n_iter, args, kwargs.
type Asgd struct {
	base
	fprime GradFunc
	eta0   float64
	lambda float64
	alpha  float64
	t0     float64

	w       []float64
	muT     float64
	etaT    float64
	i       int
	started bool
}

// NewAsgd creates an ASGD minimizer. On the first step the current value of
// wrt becomes the starting iterate and wrt itself is reset to the average.
func NewAsgd(wrt []float64, fprime GradFunc, config AsgdConfig) *Asgd {
	if config.Eta0 == 0 {
		config.Eta0 = 1e-5
	}

	return &Asgd{
		base:   newBase(wrt, config.Args, config.LogFunc),
		fprime: fprime,
		eta0:   config.Eta0,
		lambda: config.Lambda,
		alpha:  config.Alpha,
		t0:     config.T0,
		muT:    1,
		etaT:   config.Eta0,
	}
}

// W returns a copy of the raw (non-averaged) iterate.
func (a *Asgd) W() []float64 {
	return clone(a.w)
}

// Next performs one ASGD step.
func (a *Asgd) Next() (Info, bool) {
	if a.done {
		return nil, false
	}
	if !a.started {
		a.started = true
		a.w = clone(a.wrt)
		floats.Scale(0, a.wrt)
	}

	args, ok := a.args.Next()
	if !ok {
		a.finish(nil)
		return nil, false
	}

	i := a.i
	gradient := a.fprime(a.w, args)

	floats.Scale(1-a.lambda*a.etaT, a.w)
	floats.AddScaled(a.w, -a.etaT, gradient)

	step := make([]float64, len(a.w))
	if a.muT < 1 {
		floats.SubTo(step, a.w, a.wrt)
		floats.Scale(a.muT, step)
		floats.Add(a.wrt, step)
	} else {
		copy(a.wrt, a.w)
	}

	a.muT = 1 / math.Max(1, float64(i+1)-a.t0)
	a.etaT = a.eta0 / math.Pow(1+a.lambda*a.eta0*float64(i+1), a.alpha)
	a.i++

	return Info{
		"gradient": gradient,
		"mu_t":     a.muT,
		"eta_t":    a.etaT,
		"lmbda":    a.lambda,
		"w":        clone(a.w),
		"step":     step,
		"alpha":    a.alpha,
		"t0":       a.t0,
		"eta0":     a.eta0,
		"n_iter":   i,
		"args":     args.Pos,
		"kwargs":   args.Kw,
	}, true
}
