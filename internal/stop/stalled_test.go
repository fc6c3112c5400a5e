package stop

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStalled(t *testing.T) {
	s := Stalled(Key("loss"), StallConfig{Patience: 3, Threshold: 0.01})

	steps := []struct {
		loss       float64
		stop       bool
		staleCount int
	}{
		{100, false, 0},
		{90, false, 0},
		{89.5, false, 1},
		{89.4, false, 2},
		// 2.2% better than the last significant value, 90.
		{88, false, 0},
		{87.9, false, 1},
		{87.8, false, 2},
		{87.7, true, 3},
	}

	for i, step := range steps {
		assert.Equal(t, step.stop, s.Stop(rec(i, step.loss)), "step %d", i)
		assert.Equal(t, step.staleCount, s.StaleCount(), "step %d", i)
	}
	assert.Equal(t, 87.7, s.Best())
	assert.Len(t, s.History(), len(steps))
}

func TestStalled_NegativeValues(t *testing.T) {
	// Quadratic losses go negative; improvement is still a decrease.
	s := Stalled(Key("loss"), StallConfig{Patience: 2, Threshold: 0.01})

	require.False(t, s.Update(-1))
	assert.False(t, s.Update(-2))
	assert.Equal(t, 0, s.StaleCount())
	assert.False(t, s.Update(-2.001))
	assert.True(t, s.Update(-2.002))
}

func TestStalled_Reset(t *testing.T) {
	s := Stalled(Key("loss"), StallConfig{Patience: 1, Threshold: 0.5})
	s.Update(1)
	assert.True(t, s.Update(1))

	s.Reset()
	assert.Empty(t, s.History())
	assert.Equal(t, 0, s.StaleCount())
	assert.False(t, s.Update(1))
}

func TestStalled_DoesNotLog(t *testing.T) {
	var buf bytes.Buffer
	saved := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(saved)

	s := Stalled(Key("loss"), StallConfig{Patience: 2, Threshold: 0.01})
	for i, loss := range []float64{10, 10, 10} {
		s.Stop(rec(i, loss))
	}
	assert.Equal(t, 2, s.StaleCount())
	assert.Empty(t, buf.String())
}
