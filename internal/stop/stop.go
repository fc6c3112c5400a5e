// Package stop provides stop criteria for the minimizers in package opt.
//
// A criterion looks at the record of each step and reports whether the
// caller should stop pulling. Minimizers never consult criteria themselves:
//
//	crit := stop.Any(stop.AfterNIterations(1000), stop.Converged(stop.Key("loss"), 10, 1e-6, 0))
//	last, _, err := opt.Run(m, crit.Stop)
//
// Criteria built by Converged, Rising, Stalled and TimeElapsed carry private
// state. Build a fresh one for every run and never share one between
// concurrently running minimizers.
package stop

import (
	"fmt"
	"time"

	"github.com/cwbudde/descent/internal/opt"
)

// Criterion decides after each step whether to stop.
type Criterion interface {
	Stop(info opt.Info) bool
}

// Func adapts an ordinary function to Criterion.
type Func func(info opt.Info) bool

// Stop calls f(info).
func (f Func) Stop(info opt.Info) bool {
	return f(info)
}

// Source extracts the tracked scalar for Converged, Rising and Stalled.
type Source func(info opt.Info) float64

// Key reads a numeric field of the record. A record without the field
// panics.
func Key(name string) Source {
	return func(info opt.Info) float64 {
		v, ok := info.Float(name)
		if !ok {
			panic(fmt.Sprintf("stop: record has no numeric field %q", name))
		}
		return v
	}
}

// Probe ignores the record and calls f, e.g. to track a validation loss
// computed outside the minimizer.
func Probe(f func() float64) Source {
	return func(opt.Info) float64 {
		return f()
	}
}

// AfterNIterations stops once n steps have been taken, i.e. at n_iter n−1.
func AfterNIterations(n int) Criterion {
	return Func(func(info opt.Info) bool {
		return info.Iter() >= n-1
	})
}

// ModuloNIterations fires on every n-th step, starting at n_iter 0. It is
// meant for periodic work such as reporting rather than for stopping.
func ModuloNIterations(n int) Criterion {
	return Func(func(info opt.Info) bool {
		return info.Iter()%n == 0
	})
}

type timeElapsed struct {
	limit time.Duration
	start time.Time
	now   func() time.Time
}

func (c *timeElapsed) Stop(opt.Info) bool {
	return c.now().Sub(c.start) > c.limit
}

// TimeElapsed stops once more than d has passed since the criterion was
// built.
func TimeElapsed(d time.Duration) Criterion {
	return &timeElapsed{limit: d, start: time.Now(), now: time.Now}
}

// NotBetterThanAfter stops when the loss is still at least minimal after
// nIter steps.
func NotBetterThanAfter(minimal float64, nIter int) Criterion {
	loss := Key("loss")
	return Func(func(info opt.Info) bool {
		return info.Iter() > nIter && loss(info) >= minimal
	})
}

// All stops when every criterion does. Evaluation stops at the first false,
// so later stateful criteria miss that step.
func All(cs ...Criterion) Criterion {
	return Func(func(info opt.Info) bool {
		for _, c := range cs {
			if !c.Stop(info) {
				return false
			}
		}
		return true
	})
}

// Any stops when at least one criterion does. Evaluation stops at the first
// true.
func Any(cs ...Criterion) Criterion {
	return Func(func(info opt.Info) bool {
		for _, c := range cs {
			if c.Stop(info) {
				return true
			}
		}
		return false
	})
}
