package fit

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/descent/internal/objective"
	"github.com/cwbudde/descent/internal/opt"
	"github.com/cwbudde/descent/internal/store"
)

func quadraticConfig(method string) store.JobConfig {
	cfg := store.DefaultJobConfig()
	cfg.Objective = "quadratic"
	cfg.Method = method
	cfg.MaxIters = 1000
	return cfg
}

func TestRun_MethodsOnQuadratic(t *testing.T) {
	tests := []struct {
		method string
		mutate func(*store.JobConfig)
		reason string
	}{
		{MethodCG, func(c *store.JobConfig) { c.Epsilon = 1e-12 }, ReasonExhausted},
		{MethodNCG, nil, ReasonExhausted},
		{MethodGD, func(c *store.JobConfig) { c.MaxIters = 500; c.Momentum = 0.9 }, ReasonStopped},
		{MethodAsgd, func(c *store.JobConfig) { c.T0 = 50 }, ReasonStopped},
	}

	q := objective.NewQuadratic()
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			cfg := quadraticConfig(tt.method)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			res, err := Run(context.Background(), cfg, Options{JobID: "q-" + tt.method})
			require.NoError(t, err)
			assert.Equal(t, "q-"+tt.method, res.JobID)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Less(t, res.FinalLoss, res.InitialLoss)
			assert.True(t, q.Solved(res.Params, 1e-2), "got %v, want %v", res.Params, q.Solution())
		})
	}
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()

	cfg := quadraticConfig("lbfgs")
	_, err := Run(ctx, cfg, Options{})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	cfg = quadraticConfig(MethodGD)
	cfg.Objective = "himmelblau"
	_, err = Run(ctx, cfg, Options{})
	assert.ErrorIs(t, err, objective.ErrUnknownObjective)

	cfg = quadraticConfig(MethodCG)
	cfg.Objective = "rosenbrock"
	_, err = Run(ctx, cfg, Options{})
	assert.ErrorIs(t, err, ErrNeedsHessian)

	cfg = quadraticConfig(MethodGD)
	cfg.MomentumType = "heavy"
	_, err = Run(ctx, cfg, Options{})
	assert.ErrorContains(t, err, "momentum type")

	cfg = quadraticConfig(MethodGD)
	cfg.MaxIters = 0
	_, err = Run(ctx, cfg, Options{})
	var verr *store.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRun_GeneratesJobID(t *testing.T) {
	cfg := quadraticConfig(MethodNCG)
	res, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Len(t, res.JobID, 36)
}

func TestRun_Progress(t *testing.T) {
	cfg := quadraticConfig(MethodGD)
	cfg.MaxIters = 20

	var seen []Progress
	res, err := Run(context.Background(), cfg, Options{
		OnStep: func(p Progress) { seen = append(seen, p) },
	})
	require.NoError(t, err)
	require.Len(t, seen, 20)
	assert.Equal(t, 20, res.Iterations)

	for i, p := range seen {
		assert.Equal(t, i+1, p.Iteration)
		assert.Equal(t, res.InitialLoss, p.InitialLoss)
		assert.LessOrEqual(t, p.BestLoss, p.Loss)
		assert.Contains(t, p.Record, "loss", "the pipeline adds the loss for gd")
		assert.Len(t, p.Params, 2)
	}
	assert.Equal(t, res.Params, seen[19].Params)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, quadraticConfig(MethodGD), Options{})
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, res.InitialLoss, res.FinalLoss)
}

func TestRun_CancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := Run(ctx, quadraticConfig(MethodGD), Options{
		OnStep: func(p Progress) {
			if p.Iteration == 5 {
				cancel()
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.Equal(t, 5, res.Iterations)
}

func TestRun_TraceAndCheckpoints(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewFSStore(dir)
	require.NoError(t, err)

	cfg := quadraticConfig(MethodAsgd)
	cfg.MaxIters = 100
	cfg.TraceEvery = 10
	cfg.CheckpointEvery = 25

	var saved []int
	res, err := Run(context.Background(), cfg, Options{
		JobID:    "traced",
		Store:    recordingStore{Store: s, saved: &saved},
		TraceDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Iterations)
	assert.Equal(t, []int{25, 50, 75, 100, 100}, saved, "periodic saves plus the final one")

	entries, err := store.ReadTrace(dir, "traced")
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, e := range entries {
		assert.Equal(t, 10*(i+1), e.Iteration)
		assert.Contains(t, e.Fields, "eta_t", "scalar record fields are traced")
	}

	cp, err := s.LoadCheckpoint("traced")
	require.NoError(t, err)
	require.NoError(t, cp.Validate())
	assert.Equal(t, 100, cp.Iteration)
	assert.Equal(t, res.Params, cp.Params)
	assert.Equal(t, 2, cp.Config.Dim)
}

func TestResume_ContinuesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewFSStore(dir)
	require.NoError(t, err)

	cfg := store.DefaultJobConfig()
	cfg.MaxIters = 10
	cfg.TraceEvery = 1

	first, err := Run(context.Background(), cfg, Options{JobID: "job", Store: s, TraceDir: dir})
	require.NoError(t, err)
	require.Equal(t, 10, first.Iterations)

	cp, err := s.LoadCheckpoint("job")
	require.NoError(t, err)
	cp.Config.MaxIters = 10

	second, err := Resume(context.Background(), cp, Options{Store: s, TraceDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "job", second.JobID)
	assert.Greater(t, second.Iterations, 10)
	assert.LessOrEqual(t, second.Iterations, 20)
	assert.Equal(t, first.InitialLoss, second.InitialLoss)
	assert.LessOrEqual(t, second.FinalLoss, first.FinalLoss)

	entries, err := store.ReadTrace(dir, "job")
	require.NoError(t, err)
	assert.Len(t, entries, second.Iterations, "the resumed run appends to the trace")
}

func TestResume_RejectsInvalidCheckpoint(t *testing.T) {
	cp := store.NewCheckpoint("job", nil, 0, 0, 0, store.DefaultJobConfig())
	_, err := Resume(context.Background(), cp, Options{})
	var verr *store.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRun_MinibatchLogisticRegression(t *testing.T) {
	cfg := store.DefaultJobConfig()
	cfg.Objective = "logreg"
	cfg.Dim = 5
	cfg.Method = MethodAsgd
	cfg.Eta0 = 0.5
	cfg.T0 = 20
	cfg.BatchSize = 20
	cfg.MaxIters = 400

	res, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)

	lr := objective.NewLogisticRegression(5, 200, cfg.Seed)
	assert.LessOrEqual(t, lr.ErrorRate(res.Params), 0.1)
}

func TestRun_ToleranceStopsEarly(t *testing.T) {
	cfg := quadraticConfig(MethodGD)
	cfg.Tolerance = 1e-9
	cfg.Window = 5

	res, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, res.Reason)
	assert.Less(t, res.Iterations, cfg.MaxIters)
}

func TestRun_StallStopsEarly(t *testing.T) {
	cfg := quadraticConfig(MethodGD)
	cfg.StallPatience = 5
	cfg.StallThreshold = 1e-3

	res, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, res.Reason)
	assert.Less(t, res.Iterations, cfg.MaxIters)
}

func TestRun_TimeLimit(t *testing.T) {
	cfg := quadraticConfig(MethodGD)
	cfg.MaxIters = math.MaxInt32
	cfg.TimeLimit = 20 * time.Millisecond

	res, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, res.Reason)
}

func TestWarmStart(t *testing.T) {
	r := objective.NewRosenbrock(2)
	lossAt := func(w []float64) float64 { return r.F(w, opt.Args{}) }

	cfg := store.DefaultJobConfig()
	cfg.WarmStartRadius = 2
	wrt := r.Init()
	before := lossAt(wrt)

	warmStart(cfg, wrt, lossAt, discardLogger())
	assert.LessOrEqual(t, lossAt(wrt), before)
	for i, v := range wrt {
		assert.InDelta(t, r.Init()[i], v, 2+1e-9)
	}
}

func TestRun_WarmStart(t *testing.T) {
	cfg := store.DefaultJobConfig()
	cfg.WarmStart = true
	cfg.MaxIters = 200

	res, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Less(t, res.FinalLoss, res.InitialLoss)
}

func TestScalarFields(t *testing.T) {
	info := opt.Info{
		"n_iter":      3,
		"loss":        1.5,
		"step_length": 0.25,
		"beta":        math.NaN(),
		"gradient":    []float64{1, 2},
		"restart":     true,
	}
	assert.Equal(t, map[string]float64{"step_length": 0.25}, scalarFields(info))
	assert.Nil(t, scalarFields(opt.Info{"n_iter": 1}))
}

func TestNewMinimizer_ArgStreams(t *testing.T) {
	lr := objective.NewLogisticRegression(3, 40, 1)

	cfg := store.DefaultJobConfig()
	cfg.BatchSize = 10
	stream := argStream(cfg, lr)
	for i := 0; i < 8; i++ {
		a, ok := stream.Next()
		require.True(t, ok, "minibatches cycle forever")
		assert.Len(t, a.Pos, 2)
	}

	cfg.BatchSize = 0
	a, ok := argStream(cfg, lr).Next()
	require.True(t, ok)
	assert.Equal(t, lr.Args(), a)

	a, ok = argStream(cfg, objective.NewQuadratic()).Next()
	require.True(t, ok)
	assert.Empty(t, a.Pos)
}

// recordingStore notes the iteration of every checkpoint it saves.
type recordingStore struct {
	store.Store
	saved *[]int
}

func (r recordingStore) SaveCheckpoint(jobID string, cp *store.Checkpoint) error {
	*r.saved = append(*r.saved, cp.Iteration)
	return r.Store.SaveCheckpoint(jobID, cp)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
