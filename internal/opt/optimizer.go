package opt

import (
	"iter"
	"log/slog"
	"sort"
)

// Minimizer defines the stepping protocol shared by every algorithm in this package.
//
// Each call to Next performs exactly one optimization step, advancing the
// parameter vector the minimizer was constructed with, and returns the
// diagnostic record of that step. Next returns false once the sequence has
// ended: the algorithm converged, the recurrence became degenerate, or the
// argument stream ran out. None of these are errors; Err only reports a hard
// failure (such as a singular preconditioner) that cut the sequence short.
//
// A minimizer cannot be restarted. Once Next has returned false it keeps
// returning false; construct a new one to start over.
type Minimizer interface {
	Next() (Info, bool)
	Err() error
}

// Info is the diagnostic record of a single step. The keys are fixed per
// algorithm and documented on each constructor.
type Info map[string]any

// Iter returns the n_iter field of the record.
func (i Info) Iter() int {
	n, _ := i["n_iter"].(int)
	return n
}

// Float returns a numeric field as float64.
func (i Info) Float(key string) (float64, bool) {
	switch v := i[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// GradFunc returns the gradient of the objective at wrt. It must return a
// fresh slice and must not modify wrt.
type GradFunc func(wrt []float64, a Args) []float64

// LossFunc returns the objective value at wrt.
type LossFunc func(wrt []float64, a Args) float64

// LogFunc receives notable events. Every record passed to it carries a
// "message" field.
type LogFunc func(Info)

func nopLog(Info) {}

// SlogFunc returns a LogFunc that forwards events to logger. The message
// field becomes the log message, the remaining fields become attributes.
func SlogFunc(logger *slog.Logger) LogFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(info Info) {
		msg, _ := info["message"].(string)
		keys := make([]string, 0, len(info))
		for k := range info {
			if k != "message" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		attrs := make([]any, 0, 2*len(keys))
		for _, k := range keys {
			attrs = append(attrs, k, info[k])
		}
		logger.Info(msg, attrs...)
	}
}

// All adapts a minimizer to a range-over-func sequence.
//
//	for info := range opt.All(m) {
//	    if info.Iter() >= 100 {
//	        break
//	    }
//	}
func All(m Minimizer) iter.Seq[Info] {
	return func(yield func(Info) bool) {
		for {
			info, ok := m.Next()
			if !ok || !yield(info) {
				return
			}
		}
	}
}

// Run drives m until stop reports true for a record or the sequence ends.
// It returns the last record, the number of records produced and m.Err().
func Run(m Minimizer, stop func(Info) bool) (Info, int, error) {
	var last Info
	n := 0
	for info := range All(m) {
		last = info
		n++
		if stop != nil && stop(info) {
			break
		}
	}
	return last, n, m.Err()
}

// base holds the state every minimizer shares: the caller's parameter
// vector, the argument stream and the logging sink.
type base struct {
	wrt  []float64
	args ArgStream
	logf LogFunc

	done bool
	err  error
}

func newBase(wrt []float64, args ArgStream, logf LogFunc) base {
	if args == nil {
		args = Empty()
	}
	if logf == nil {
		logf = nopLog
	}
	return base{wrt: wrt, args: args, logf: logf}
}

// Wrt returns the parameter vector being optimized. It is the caller's
// slice, not a copy.
func (b *base) Wrt() []float64 {
	return b.wrt
}

// Err returns the hard failure that ended the sequence, if any.
func (b *base) Err() error {
	return b.err
}

func (b *base) log(msg string) {
	b.logf(Info{"message": msg})
}

func (b *base) finish(err error) {
	b.done = true
	b.err = err
}
