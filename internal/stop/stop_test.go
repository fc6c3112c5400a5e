package stop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cwbudde/descent/internal/opt"
)

func rec(iter int, loss float64) opt.Info {
	return opt.Info{"n_iter": iter, "loss": loss}
}

func TestAfterNIterations(t *testing.T) {
	c := AfterNIterations(5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, i >= 4, c.Stop(rec(i, 0)), "n_iter %d", i)
	}
}

func TestModuloNIterations(t *testing.T) {
	c := ModuloNIterations(3)
	var fired []int
	for i := 0; i < 10; i++ {
		if c.Stop(rec(i, 0)) {
			fired = append(fired, i)
		}
	}
	assert.Equal(t, []int{0, 3, 6, 9}, fired)
}

func TestTimeElapsed(t *testing.T) {
	c := TimeElapsed(time.Second).(*timeElapsed)
	now := c.start
	c.now = func() time.Time { return now }

	assert.False(t, c.Stop(nil))
	now = now.Add(time.Second)
	assert.False(t, c.Stop(nil), "the limit must be exceeded, not reached")
	now = now.Add(time.Millisecond)
	assert.True(t, c.Stop(nil))
}

func TestConverged(t *testing.T) {
	tests := []struct {
		name   string
		losses []float64
		want   []bool
	}{
		{
			name:   "fills the window first",
			losses: []float64{1, 1, 1, 1},
			want:   []bool{false, false, true, true},
		},
		{
			name:   "value outside the band",
			losses: []float64{1, 1.005, 1.02, 1.021, 1.022, 1.04},
			want:   []bool{false, false, false, false, true, false},
		},
		{
			name:   "band is exclusive",
			losses: []float64{0, 0.01, 0.005},
			want:   []bool{false, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Converged(Key("loss"), 3, 0.01, 0)
			for i, loss := range tt.losses {
				assert.Equal(t, tt.want[i], c.Stop(rec(i, loss)), "step %d", i)
			}
		})
	}
}

func TestConverged_Patience(t *testing.T) {
	c := Converged(Key("loss"), 2, 0.5, 3)

	// The first three calls are skipped, so the wildly different values
	// never enter the window.
	assert.False(t, c.Stop(rec(0, 100)))
	assert.False(t, c.Stop(rec(1, -100)))
	assert.False(t, c.Stop(rec(2, 50)))
	assert.False(t, c.Stop(rec(3, 1)))
	assert.True(t, c.Stop(rec(4, 1.1)))
}

func TestConverged_Probe(t *testing.T) {
	vals := []float64{5, 3, 3, 3}
	i := 0
	c := Converged(Probe(func() float64 {
		v := vals[i]
		i++
		return v
	}), 3, 1e-9, 0)

	var got []bool
	for range vals {
		got = append(got, c.Stop(opt.Info{}))
	}
	assert.Equal(t, []bool{false, false, false, true}, got)
}

func TestConverged_MissingKeyPanics(t *testing.T) {
	c := Converged(Key("val_loss"), 3, 0.01, 0)
	assert.Panics(t, func() { c.Stop(rec(0, 1)) })
}

func TestRising(t *testing.T) {
	c := Rising(Key("loss"), 2, 0.1, 0)
	losses := []float64{1.0, 0.5, 0.8, 1.0, 0.95, 1.2}
	// Compared with the value two observations earlier:
	// 0.8 vs 1.0, 1.0 vs 0.5, 0.95 vs 0.8, 1.2 vs 1.0.
	want := []bool{false, false, false, true, true, true}
	for i, loss := range losses {
		assert.Equal(t, want[i], c.Stop(rec(i, loss)), "step %d", i)
	}
}

func TestRising_Defaults(t *testing.T) {
	c := Rising(Key("loss"), 1, 0, 1)
	assert.False(t, c.Stop(rec(0, 10)), "skipped by patience")
	assert.False(t, c.Stop(rec(1, 1)))
	assert.True(t, c.Stop(rec(2, 1)), "equal counts as rising by zero")
	assert.False(t, c.Stop(rec(3, 0.5)))
}

func TestAllAny(t *testing.T) {
	yes := Func(func(opt.Info) bool { return true })
	no := Func(func(opt.Info) bool { return false })

	assert.True(t, All(yes, yes).Stop(nil))
	assert.False(t, All(yes, no).Stop(nil))
	assert.True(t, All().Stop(nil))

	assert.True(t, Any(no, yes).Stop(nil))
	assert.False(t, Any(no, no).Stop(nil))
	assert.False(t, Any().Stop(nil))
}

func TestAnyShortCircuits(t *testing.T) {
	calls := 0
	counting := Func(func(opt.Info) bool {
		calls++
		return false
	})

	c := Any(AfterNIterations(1), counting)
	assert.True(t, c.Stop(rec(0, 0)))
	assert.Equal(t, 0, calls)

	c = All(AfterNIterations(10), counting)
	assert.False(t, c.Stop(rec(0, 0)))
	assert.Equal(t, 0, calls)
}

func TestNotBetterThanAfter(t *testing.T) {
	c := NotBetterThanAfter(0.5, 3)

	assert.False(t, c.Stop(rec(3, 0.9)), "not past n_iter yet")
	assert.True(t, c.Stop(rec(4, 0.9)))
	assert.True(t, c.Stop(rec(4, 0.5)))
	assert.False(t, c.Stop(rec(4, 0.4)))

	// The loss is not read before the deadline.
	assert.NotPanics(t, func() { c.Stop(opt.Info{"n_iter": 0}) })
}
