package opt

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Momentum types accepted by GDConfig.
const (
	MomentumStandard = "standard"
	MomentumNesterov = "nesterov"
)

// GDConfig holds configuration for gradient descent.
type GDConfig struct {
	StepRate     float64   // Step rate (default: 0.1)
	Momentum     float64   // Momentum factor (default: 0.0, range: [0, 1))
	MomentumType string    // "standard" or "nesterov" (default: "standard")
	Args         ArgStream // Argument stream (default: Empty())
	LogFunc      LogFunc
}

// GradientDescent implements gradient descent with optional momentum.
//
// Standard momentum:
//
//	step = steprate·∇f(wrt) + momentum·step₋₁
//	wrt  = wrt − step
//
// Nesterov momentum takes the momentum jump first and evaluates the
// gradient at the point it lands on:
//
//	wrt  = wrt − momentum·step₋₁
//	wrt  = wrt − steprate·∇f(wrt)
//
// Record keys: n_iter, gradient, step, args, kwargs.
type GradientDescent struct {
	base
	fprime   GradFunc
	stepRate float64
	momentum float64
	nesterov bool

	step []float64
	i    int
}

// NewGradientDescent creates a gradient descent minimizer over wrt. An
// unknown momentum type panics.
func NewGradientDescent(wrt []float64, fprime GradFunc, config GDConfig) *GradientDescent {
	if config.StepRate == 0 {
		config.StepRate = 0.1
	}
	if config.MomentumType == "" {
		config.MomentumType = MomentumStandard
	}
	if config.MomentumType != MomentumStandard && config.MomentumType != MomentumNesterov {
		panic(fmt.Sprintf("opt: unknown momentum type %q", config.MomentumType))
	}

	return &GradientDescent{
		base:     newBase(wrt, config.Args, config.LogFunc),
		fprime:   fprime,
		stepRate: config.StepRate,
		momentum: config.Momentum,
		nesterov: config.MomentumType == MomentumNesterov,
		step:     make([]float64, len(wrt)),
	}
}

// Next performs one gradient descent step.
func (gd *GradientDescent) Next() (Info, bool) {
	if gd.done {
		return nil, false
	}
	args, ok := gd.args.Next()
	if !ok {
		gd.finish(nil)
		return nil, false
	}

	var gradient []float64
	if gd.nesterov {
		jump := clone(gd.step)
		floats.Scale(gd.momentum, jump)
		floats.Sub(gd.wrt, jump)

		gradient = gd.fprime(gd.wrt, args)
		correction := clone(gradient)
		floats.Scale(gd.stepRate, correction)
		floats.Sub(gd.wrt, correction)

		floats.AddTo(gd.step, jump, correction)
	} else {
		gradient = gd.fprime(gd.wrt, args)
		floats.Scale(gd.momentum, gd.step)
		floats.AddScaled(gd.step, gd.stepRate, gradient)
		floats.Sub(gd.wrt, gd.step)
	}

	i := gd.i
	gd.i++
	return Info{
		"n_iter":   i,
		"gradient": gradient,
		"step":     clone(gd.step),
		"args":     args.Pos,
		"kwargs":   args.Kw,
	}, true
}
