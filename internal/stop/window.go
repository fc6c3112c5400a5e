package stop

import (
	"math"

	"github.com/cwbudde/descent/internal/opt"
)

// window is a fixed-size ring of the most recent observations.
type window struct {
	vals []float64
	next int
	full bool
}

func newWindow(n int) *window {
	if n < 1 {
		panic("stop: window size must be positive")
	}
	return &window{vals: make([]float64, n)}
}

func (w *window) push(v float64) {
	w.vals[w.next] = v
	w.next++
	if w.next == len(w.vals) {
		w.next = 0
		w.full = true
	}
}

// oldest returns the value pushed len(vals)−1 observations before the
// newest one. It is only meaningful once the window is full.
func (w *window) oldest() float64 {
	return w.vals[w.next]
}

func (w *window) spread() float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range w.vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo
}

// countdown counts down the evaluations a criterion ignores.
type countdown int

func (p *countdown) skip() bool {
	if *p > 0 {
		*p--
		return true
	}
	return false
}

type converged struct {
	src     Source
	epsilon float64
	wait    countdown
	win     *window
}

func (c *converged) Stop(info opt.Info) bool {
	if c.wait.skip() {
		return false
	}
	c.win.push(c.src(info))
	return c.win.full && c.win.spread() < c.epsilon
}

// Converged stops once the last n values of src lie within a band narrower
// than epsilon. The first patience evaluations are ignored entirely: they
// return false and their values are not recorded.
func Converged(src Source, n int, epsilon float64, patience int) Criterion {
	return &converged{
		src:     src,
		epsilon: epsilon,
		wait:    countdown(max(0, patience)),
		win:     newWindow(n),
	}
}

type rising struct {
	src     Source
	epsilon float64
	wait    countdown
	win     *window
}

func (c *rising) Stop(info opt.Info) bool {
	if c.wait.skip() {
		return false
	}
	v := c.src(info)
	c.win.push(v)
	return c.win.full && c.win.oldest()+c.epsilon <= v
}

// Rising stops once src has grown by at least epsilon compared to its value
// n observations earlier. Patience works as for Converged.
func Rising(src Source, n int, epsilon float64, patience int) Criterion {
	return &rising{
		src:     src,
		epsilon: epsilon,
		wait:    countdown(max(0, patience)),
		win:     newWindow(n + 1),
	}
}
