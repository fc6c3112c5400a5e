package stop

import (
	"math"

	"github.com/cwbudde/descent/internal/opt"
)

// StallConfig defines when progress on a tracked value counts as stalled.
type StallConfig struct {
	// Patience is the number of consecutive observations without significant
	// improvement before stopping.
	Patience int `json:"patience" mapstructure:"patience"`

	// Threshold is the minimum relative improvement that counts as progress,
	// measured against the last significant value:
	// (last − v) / |last|. Example: 0.001 = 0.1%.
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
}

// DefaultStallConfig returns sensible defaults for stall detection.
func DefaultStallConfig() StallConfig {
	return StallConfig{
		Patience:  20,
		Threshold: 1e-4,
	}
}

// StallTracker stops a run whose tracked value, usually the loss, has
// stopped improving.
type StallTracker struct {
	src    Source
	config StallConfig

	history         []float64
	best            float64
	lastSignificant float64
	staleCount      int
}

// Stalled creates a stall detector over src.
func Stalled(src Source, config StallConfig) *StallTracker {
	t := &StallTracker{src: src, config: config}
	t.Reset()
	return t
}

// Stop records the tracked value of info and reports whether the run has
// stalled.
func (t *StallTracker) Stop(info opt.Info) bool {
	return t.Update(t.src(info))
}

// Update records a value directly.
func (t *StallTracker) Update(v float64) bool {
	t.history = append(t.history, v)
	t.best = math.Min(t.best, v)

	if len(t.history) == 1 {
		t.lastSignificant = v
		return false
	}

	improvement := t.lastSignificant - v
	if scale := math.Abs(t.lastSignificant); scale > 0 {
		improvement /= scale
	}

	if improvement >= t.config.Threshold {
		t.lastSignificant = v
		t.staleCount = 0
		return false
	}

	t.staleCount++
	return t.staleCount >= t.config.Patience
}

// Best returns the lowest value seen so far.
func (t *StallTracker) Best() float64 {
	return t.best
}

// History returns a copy of every recorded value.
func (t *StallTracker) History() []float64 {
	return append([]float64(nil), t.history...)
}

// StaleCount returns the number of observations since the last significant
// improvement.
func (t *StallTracker) StaleCount() int {
	return t.staleCount
}

// Reset clears the tracker.
func (t *StallTracker) Reset() {
	t.history = nil
	t.best = math.Inf(1)
	t.lastSignificant = math.Inf(1)
	t.staleCount = 0
}
