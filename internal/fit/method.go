package fit

import (
	"errors"
	"fmt"

	"github.com/cwbudde/descent/internal/objective"
	"github.com/cwbudde/descent/internal/opt"
	"github.com/cwbudde/descent/internal/stop"
	"github.com/cwbudde/descent/internal/store"
)

// Method names accepted in store.JobConfig.Method.
const (
	MethodGD   = "gd"
	MethodNCG  = "ncg"
	MethodCG   = "cg"
	MethodAsgd = "asgd"
)

var (
	// ErrUnknownMethod is returned for a method name not listed in Methods.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrNeedsHessian is returned when linear CG is asked to solve an
	// objective that is not a quadratic.
	ErrNeedsHessian = errors.New("objective does not provide Hessian products")
)

// Methods lists the supported method names.
func Methods() []string {
	return []string{MethodGD, MethodNCG, MethodCG, MethodAsgd}
}

// batcher is implemented by data objectives that can split their data.
type batcher interface {
	Batches(size int) []opt.Args
}

// argStream picks the argument stream for obj: minibatches when requested
// and supported, the full data set when the objective carries data, and
// empty arguments otherwise.
func argStream(cfg store.JobConfig, obj objective.Objective) opt.ArgStream {
	if b, ok := obj.(batcher); ok && cfg.BatchSize > 0 {
		return opt.Cycle(b.Batches(cfg.BatchSize))
	}
	if p, ok := obj.(objective.ArgsProvider); ok {
		return opt.Repeat(p.Args())
	}
	return opt.Empty()
}

// NewMinimizer builds the minimizer cfg.Method names over wrt.
func NewMinimizer(cfg store.JobConfig, obj objective.Objective, wrt []float64, logf opt.LogFunc) (opt.Minimizer, error) {
	args := argStream(cfg, obj)

	switch cfg.Method {
	case MethodGD:
		if cfg.MomentumType != "" && cfg.MomentumType != opt.MomentumStandard && cfg.MomentumType != opt.MomentumNesterov {
			return nil, fmt.Errorf("unknown momentum type %q", cfg.MomentumType)
		}
		return opt.NewGradientDescent(wrt, obj.FPrime, opt.GDConfig{
			StepRate:     cfg.StepRate,
			Momentum:     cfg.Momentum,
			MomentumType: cfg.MomentumType,
			Args:         args,
			LogFunc:      logf,
		}), nil

	case MethodNCG:
		return opt.NewNonlinearConjugateGradient(wrt, obj.F, obj.FPrime, opt.NCGConfig{
			Epsilon: cfg.Epsilon,
			Args:    args,
			LogFunc: logf,
		}), nil

	case MethodCG:
		q, ok := obj.(objective.HessianProduct)
		if !ok {
			return nil, fmt.Errorf("method %s on %s: %w", cfg.Method, cfg.Objective, ErrNeedsHessian)
		}
		return opt.NewConjugateGradient(wrt, opt.CGConfig{
			Hp:      q.Hp,
			B:       q.B(),
			Epsilon: cfg.Epsilon,
			LogFunc: logf,
		}), nil

	case MethodAsgd:
		return opt.NewAsgd(wrt, obj.FPrime, opt.AsgdConfig{
			Eta0:    cfg.Eta0,
			Lambda:  cfg.Lambda,
			Alpha:   cfg.Alpha,
			T0:      cfg.T0,
			Args:    args,
			LogFunc: logf,
		}), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, cfg.Method)
}

// NewCriterion combines the stopping rules of cfg. The run stops as soon as
// any of them fires. Every criterion reads the "loss" field, which the
// pipeline fills in for methods that do not report it.
func NewCriterion(cfg store.JobConfig) stop.Criterion {
	var cs []stop.Criterion
	if cfg.Tolerance > 0 {
		cs = append(cs, stop.Converged(stop.Key("loss"), cfg.Window, cfg.Tolerance, 0))
	}
	if cfg.StallPatience > 0 {
		cs = append(cs, stop.Stalled(stop.Key("loss"), stop.StallConfig{
			Patience:  cfg.StallPatience,
			Threshold: cfg.StallThreshold,
		}))
	}
	if cfg.TimeLimit > 0 {
		cs = append(cs, stop.TimeElapsed(cfg.TimeLimit))
	}
	cs = append(cs, stop.AfterNIterations(cfg.MaxIters))
	return stop.Any(cs...)
}
