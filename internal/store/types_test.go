package store

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultJobConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultJobConfig().Validate())
}

func TestJobConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*JobConfig)
		field  string
	}{
		{"empty objective", func(c *JobConfig) { c.Objective = "" }, "Objective"},
		{"empty method", func(c *JobConfig) { c.Method = "" }, "Method"},
		{"negative dim", func(c *JobConfig) { c.Dim = -1 }, "Dim"},
		{"no iterations", func(c *JobConfig) { c.MaxIters = 0 }, "MaxIters"},
		{"momentum of one", func(c *JobConfig) { c.Momentum = 1 }, "Momentum"},
		{"negative batch", func(c *JobConfig) { c.BatchSize = -5 }, "BatchSize"},
		{"tolerance without window", func(c *JobConfig) { c.Tolerance = 1e-3; c.Window = 0 }, "Window"},
		{"negative stall patience", func(c *JobConfig) { c.StallPatience = -2 }, "StallPatience"},
		{"negative time limit", func(c *JobConfig) { c.TimeLimit = -time.Second }, "TimeLimit"},
		{"small warm start population", func(c *JobConfig) { c.WarmStart = true; c.WarmStartPop = 5 }, "WarmStartPop"},
		{"zero warm start radius", func(c *JobConfig) { c.WarmStart = true; c.WarmStartRadius = 0 }, "WarmStartRadius"},
		{"negative checkpoint interval", func(c *JobConfig) { c.CheckpointEvery = -1 }, "CheckpointEvery"},
		{"negative trace interval", func(c *JobConfig) { c.TraceEvery = -1 }, "TraceEvery"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultJobConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCheckpoint_JSON(t *testing.T) {
	cp := testCheckpoint("job")
	data, err := json.Marshal(cp)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"jobId", "params", "loss", "initialLoss", "iteration", "timestamp", "config"} {
		assert.Contains(t, raw, key)
	}
	cfg := raw["config"].(map[string]any)
	assert.Equal(t, "rosenbrock", cfg["objective"])
	assert.Equal(t, "ncg", cfg["method"])

	var back Checkpoint
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cp.Params, back.Params)
	assert.Equal(t, cp.Config, back.Config)
}

func TestCheckpoint_Validate(t *testing.T) {
	assert.NoError(t, testCheckpoint("job").Validate())

	// Quadratic losses are negative.
	cp := testCheckpoint("job")
	cp.Loss = -0.57
	assert.NoError(t, cp.Validate())

	tests := []struct {
		name   string
		mutate func(*Checkpoint)
		field  string
	}{
		{"empty job id", func(c *Checkpoint) { c.JobID = "" }, "JobID"},
		{"nil params", func(c *Checkpoint) { c.Params = nil }, "Params"},
		{"non-finite params", func(c *Checkpoint) { c.Params[1] = math.Inf(1) }, "Params"},
		{"NaN loss", func(c *Checkpoint) { c.Loss = math.NaN() }, "Loss"},
		{"negative iteration", func(c *Checkpoint) { c.Iteration = -1 }, "Iteration"},
		{"zero timestamp", func(c *Checkpoint) { c.Timestamp = time.Time{} }, "Timestamp"},
		{"invalid config", func(c *Checkpoint) { c.Config.MaxIters = 0 }, "Config.MaxIters"},
		{"dimension mismatch", func(c *Checkpoint) { c.Config.Dim = 5 }, "Params"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := testCheckpoint("job")
			tt.mutate(cp)

			var verr *ValidationError
			require.ErrorAs(t, cp.Validate(), &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCheckpoint_IsCompatible(t *testing.T) {
	cp := testCheckpoint("job")

	same := cp.Config
	assert.NoError(t, cp.IsCompatible(same))

	otherMethod := cp.Config
	otherMethod.Method = "gd"
	otherMethod.MaxIters = 50
	assert.NoError(t, cp.IsCompatible(otherMethod), "switching methods on resume is allowed")

	defaultDim := cp.Config
	defaultDim.Dim = 0
	assert.NoError(t, cp.IsCompatible(defaultDim))

	tests := []struct {
		name   string
		mutate func(*JobConfig)
		field  string
	}{
		{"objective", func(c *JobConfig) { c.Objective = "quadratic" }, "Objective"},
		{"dim", func(c *JobConfig) { c.Dim = 4 }, "Dim"},
		{"seed", func(c *JobConfig) { c.Seed = 7 }, "Seed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cp.Config
			tt.mutate(&cfg)

			var cerr *CompatibilityError
			require.ErrorAs(t, cp.IsCompatible(cfg), &cerr)
			assert.Equal(t, tt.field, cerr.Field)
			assert.Contains(t, cerr.Error(), tt.field)
		})
	}
}

func TestCheckpoint_ToInfo(t *testing.T) {
	cp := testCheckpoint("job")
	info := cp.ToInfo()

	assert.Equal(t, "job", info.JobID)
	assert.Equal(t, cp.Loss, info.Loss)
	assert.Equal(t, 500, info.Iteration)
	assert.Equal(t, "rosenbrock", info.Objective)
	assert.Equal(t, "ncg", info.Method)
	assert.Equal(t, 3, info.Dim)
}

func TestNewCheckpoint(t *testing.T) {
	before := time.Now()
	cp := NewCheckpoint("job", []float64{1, 2}, 0.5, 4, 10, DefaultJobConfig())

	assert.Equal(t, "job", cp.JobID)
	assert.Equal(t, []float64{1, 2}, cp.Params)
	assert.Equal(t, 0.5, cp.Loss)
	assert.Equal(t, 4.0, cp.InitialLoss)
	assert.Equal(t, 10, cp.Iteration)
	assert.False(t, cp.Timestamp.Before(before))
}
