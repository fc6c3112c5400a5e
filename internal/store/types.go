package store

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// JobConfig describes one optimization run. It lives in this package so
// that checkpoints can carry it without an import cycle with fit and server.
//
// The mapstructure tags let the CLI fill it from flags, environment and a
// config file through viper.
type JobConfig struct {
	Objective string `json:"objective" mapstructure:"objective"` // quadratic, rosenbrock, logreg
	Dim       int    `json:"dim" mapstructure:"dim"`             // 0 selects the objective's default
	Method    string `json:"method" mapstructure:"method"`       // gd, ncg, cg, asgd
	MaxIters  int    `json:"maxIters" mapstructure:"max-iters"`
	Seed      int64  `json:"seed" mapstructure:"seed"`

	// Gradient descent.
	StepRate     float64 `json:"stepRate,omitempty" mapstructure:"step-rate"`
	Momentum     float64 `json:"momentum,omitempty" mapstructure:"momentum"`
	MomentumType string  `json:"momentumType,omitempty" mapstructure:"momentum-type"`

	// ASGD.
	Eta0   float64 `json:"eta0,omitempty" mapstructure:"eta0"`
	Lambda float64 `json:"lambda,omitempty" mapstructure:"lambda"`
	Alpha  float64 `json:"alpha,omitempty" mapstructure:"alpha"`
	T0     float64 `json:"t0,omitempty" mapstructure:"t0"`

	// BatchSize splits data objectives into minibatches; 0 uses the full
	// batch on every step.
	BatchSize int `json:"batchSize,omitempty" mapstructure:"batch-size"`

	// Epsilon is the gradient (ncg) or residual (cg) tolerance.
	Epsilon float64 `json:"epsilon,omitempty" mapstructure:"epsilon"`

	// Stopping. Tolerance > 0 stops once the loss over the last Window
	// steps varies by less than Tolerance.
	Tolerance float64       `json:"tolerance,omitempty" mapstructure:"tolerance"`
	Window    int           `json:"window,omitempty" mapstructure:"window"`
	TimeLimit time.Duration `json:"timeLimit,omitempty" mapstructure:"time-limit"`

	// StallPatience > 0 stops once that many consecutive steps improve the
	// loss by less than StallThreshold, relative to the last significant
	// improvement.
	StallPatience  int     `json:"stallPatience,omitempty" mapstructure:"stall-patience"`
	StallThreshold float64 `json:"stallThreshold,omitempty" mapstructure:"stall-threshold"`

	// Warm start with a derivative-free Mayfly search in a box of the
	// given radius around the initial point.
	WarmStart       bool    `json:"warmStart,omitempty" mapstructure:"warm-start"`
	WarmStartIters  int     `json:"warmStartIters,omitempty" mapstructure:"warm-start-iters"`
	WarmStartPop    int     `json:"warmStartPop,omitempty" mapstructure:"warm-start-pop"`
	WarmStartRadius float64 `json:"warmStartRadius,omitempty" mapstructure:"warm-start-radius"`

	// Persistence, in steps (0 = disabled).
	CheckpointEvery int `json:"checkpointEvery,omitempty" mapstructure:"checkpoint-every"`
	TraceEvery      int `json:"traceEvery,omitempty" mapstructure:"trace-every"`
}

// DefaultJobConfig returns the configuration used when nothing else is
// specified.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Objective:       "rosenbrock",
		Dim:             2,
		Method:          "ncg",
		MaxIters:        1000,
		Seed:            1,
		StepRate:        0.1,
		MomentumType:    "standard",
		Eta0:            0.1,
		Lambda:          1e-4,
		Alpha:           0.75,
		T0:              100,
		Epsilon:         1e-6,
		Window:          10,
		StallThreshold:  1e-4,
		WarmStartIters:  50,
		WarmStartPop:    20,
		WarmStartRadius: 2,
	}
}

// Validate rejects configurations no run could start from. Whether the
// objective and method names exist is checked when the run is built.
func (c JobConfig) Validate() error {
	switch {
	case c.Objective == "":
		return &ValidationError{Field: "Objective", Reason: "cannot be empty"}
	case c.Method == "":
		return &ValidationError{Field: "Method", Reason: "cannot be empty"}
	case c.Dim < 0:
		return &ValidationError{Field: "Dim", Reason: "cannot be negative"}
	case c.MaxIters <= 0:
		return &ValidationError{Field: "MaxIters", Reason: "must be positive"}
	case c.Momentum < 0 || c.Momentum >= 1:
		return &ValidationError{Field: "Momentum", Reason: "must be in [0, 1)"}
	case c.BatchSize < 0:
		return &ValidationError{Field: "BatchSize", Reason: "cannot be negative"}
	case c.Tolerance < 0:
		return &ValidationError{Field: "Tolerance", Reason: "cannot be negative"}
	case c.Tolerance > 0 && c.Window < 1:
		return &ValidationError{Field: "Window", Reason: "must be positive when Tolerance is set"}
	case c.TimeLimit < 0:
		return &ValidationError{Field: "TimeLimit", Reason: "cannot be negative"}
	case c.StallPatience < 0:
		return &ValidationError{Field: "StallPatience", Reason: "cannot be negative"}
	case c.WarmStart && c.WarmStartPop < 20:
		return &ValidationError{Field: "WarmStartPop", Reason: "must be at least 20"}
	case c.WarmStart && c.WarmStartRadius <= 0:
		return &ValidationError{Field: "WarmStartRadius", Reason: "must be positive"}
	case c.CheckpointEvery < 0:
		return &ValidationError{Field: "CheckpointEvery", Reason: "cannot be negative"}
	case c.TraceEvery < 0:
		return &ValidationError{Field: "TraceEvery", Reason: "cannot be negative"}
	}
	return nil
}

// Checkpoint is the persisted state of a run: the parameter vector after
// the last completed step.
//
// Only the parameters are saved, not the minimizer's internal recurrences
// (previous gradient, search direction, ASGD average). A resumed run starts
// a fresh minimizer from Params, so NCG and CG restart with steepest
// descent and ASGD restarts its schedules. The loss never gets worse across
// a resume, but the trajectory differs from an uninterrupted run.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// Params is the parameter vector after Iteration steps.
	Params []float64 `json:"params"`

	// Loss is the objective value at Params.
	Loss float64 `json:"loss"`

	// InitialLoss is the objective value before the first step.
	InitialLoss float64 `json:"initialLoss"`

	// Iteration counts completed steps, including those of earlier runs
	// this one was resumed from.
	Iteration int `json:"iteration"`

	Timestamp time.Time `json:"timestamp"`

	// Config is the configuration of the run, with Dim resolved to the
	// objective's actual dimension.
	Config JobConfig `json:"config"`
}

// CheckpointInfo is the metadata of a checkpoint, for listings.
type CheckpointInfo struct {
	JobID     string    `json:"jobId"`
	Loss      float64   `json:"loss"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Objective string    `json:"objective"`
	Method    string    `json:"method"`
	Dim       int       `json:"dim"`
}

// NewCheckpoint creates a checkpoint stamped with the current time.
func NewCheckpoint(jobID string, params []float64, loss, initialLoss float64, iteration int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		Params:      params,
		Loss:        loss,
		InitialLoss: initialLoss,
		Iteration:   iteration,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo strips the parameter vector.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		Loss:      c.Loss,
		Iteration: c.Iteration,
		Timestamp: c.Timestamp,
		Objective: c.Config.Objective,
		Method:    c.Config.Method,
		Dim:       len(c.Params),
	}
}

// Validate checks that the checkpoint can be resumed from.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.Params) == 0 {
		return &ValidationError{Field: "Params", Reason: "cannot be empty"}
	}
	for i, p := range c.Params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return &ValidationError{Field: "Params", Reason: fmt.Sprintf("entry %d is not finite", i)}
		}
	}
	if math.IsNaN(c.Loss) {
		return &ValidationError{Field: "Loss", Reason: "is NaN"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		verr, ok := err.(*ValidationError)
		if !ok {
			return err
		}
		return &ValidationError{Field: "Config." + verr.Field, Reason: verr.Reason}
	}
	if c.Config.Dim != len(c.Params) {
		return &ValidationError{
			Field:  "Params",
			Reason: fmt.Sprintf("length mismatch: expected %d, got %d", c.Config.Dim, len(c.Params)),
		}
	}
	return nil
}

// ValidationError reports an invalid field of a config or checkpoint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible reports whether a run configured with config can continue
// from this checkpoint. The method and its hyperparameters may change; the
// problem may not.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.Objective != config.Objective {
		return &CompatibilityError{
			Field:    "Objective",
			Expected: c.Config.Objective,
			Actual:   config.Objective,
		}
	}
	if config.Dim != 0 && config.Dim != len(c.Params) {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: strconv.Itoa(len(c.Params)),
			Actual:   strconv.Itoa(config.Dim),
		}
	}
	// Data objectives are generated from the seed.
	if c.Config.Seed != config.Seed {
		return &CompatibilityError{
			Field:    "Seed",
			Expected: strconv.FormatInt(c.Config.Seed, 10),
			Actual:   strconv.FormatInt(config.Seed, 10),
		}
	}
	return nil
}

// CompatibilityError reports a config that does not match a checkpoint.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("compatibility error: %s mismatch (expected %s, got %s)", e.Field, e.Expected, e.Actual)
}
