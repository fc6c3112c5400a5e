// Package fit runs a configured optimization job end to end: it builds the
// objective and the minimizer, drives the step loop against the stop
// criteria, and persists traces and checkpoints along the way.
package fit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/descent/internal/objective"
	"github.com/cwbudde/descent/internal/opt"
	"github.com/cwbudde/descent/internal/store"
)

// Reasons a run ended, reported in Result.Reason.
const (
	// ReasonStopped means a stop criterion fired.
	ReasonStopped = "stopped"
	// ReasonExhausted means the minimizer ended its sequence on its own:
	// it converged, became degenerate or ran out of arguments.
	ReasonExhausted = "exhausted"
	// ReasonCancelled means the context was cancelled.
	ReasonCancelled = "cancelled"
)

// Options control where a run reports to. The zero value logs to the
// default logger and persists nothing.
type Options struct {
	// JobID names the run in logs, traces and checkpoints. Empty selects a
	// new UUID (or the checkpoint's ID on resume).
	JobID string

	// Store receives checkpoints every cfg.CheckpointEvery steps and once
	// at the end. Nil disables checkpointing.
	Store store.Store

	// TraceDir is the base directory for trace.jsonl. Empty disables
	// tracing.
	TraceDir string

	// OnStep is called after every step.
	OnStep func(Progress)

	Logger *slog.Logger
}

// Progress describes the run after one step.
type Progress struct {
	JobID       string
	Iteration   int // completed steps, including resumed ones
	Loss        float64
	BestLoss    float64
	InitialLoss float64
	Params      []float64 // copy
	Elapsed     time.Duration
	Record      opt.Info
}

// Result is the outcome of a run.
type Result struct {
	JobID       string
	Params      []float64
	InitialLoss float64
	FinalLoss   float64
	Iterations  int
	Reason      string
	Elapsed     time.Duration
}

// Run executes the job described by cfg.
func Run(ctx context.Context, cfg store.JobConfig, opts Options) (*Result, error) {
	return run(ctx, cfg, opts, nil)
}

// Resume continues the run saved in checkpoint with a fresh minimizer
// started from its parameters. The caller may adjust checkpoint.Config
// (e.g. MaxIters or the method) as long as it stays compatible.
func Resume(ctx context.Context, checkpoint *store.Checkpoint, opts Options) (*Result, error) {
	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %w", err)
	}
	if opts.JobID == "" {
		opts.JobID = checkpoint.JobID
	}
	return run(ctx, checkpoint.Config, opts, checkpoint)
}

func run(ctx context.Context, cfg store.JobConfig, opts Options, from *store.Checkpoint) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job config: %w", err)
	}
	obj, err := objective.New(cfg.Objective, cfg.Dim, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if from != nil {
		if err := from.IsCompatible(cfg); err != nil {
			return nil, err
		}
	}
	cfg.Dim = obj.Dim()

	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("jobID", jobID)

	// The loss reported for methods that do not compute it, and used by the
	// warm start, is always taken over the full data set.
	var full opt.Args
	if p, ok := obj.(objective.ArgsProvider); ok {
		full = p.Args()
	}
	lossAt := func(w []float64) float64 {
		return obj.F(w, full)
	}

	var wrt []float64
	var initialLoss float64
	offset := 0
	if from != nil {
		wrt = append([]float64(nil), from.Params...)
		initialLoss = from.InitialLoss
		offset = from.Iteration
		logger.Info("Resuming from checkpoint", "iteration", offset, "loss", from.Loss)
	} else {
		wrt = obj.Init()
		initialLoss = lossAt(wrt)
		if cfg.WarmStart {
			warmStart(cfg, wrt, lossAt, logger)
		}
	}

	m, err := NewMinimizer(cfg, obj, wrt, opt.SlogFunc(logger))
	if err != nil {
		return nil, err
	}
	crit := NewCriterion(cfg)

	var tw *store.TraceWriter
	if opts.TraceDir != "" && cfg.TraceEvery > 0 {
		tw, err = store.NewTraceWriter(opts.TraceDir, jobID, from != nil)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := tw.Close(); err != nil {
				logger.Warn("Failed to close trace", "error", err)
			}
		}()
	}

	logger.Info("Starting optimization",
		"objective", cfg.Objective,
		"method", cfg.Method,
		"dim", cfg.Dim,
		"max_iters", cfg.MaxIters,
		"initial_loss", initialLoss,
	)

	start := time.Now()
	loss := lossAt(wrt)
	best := loss
	steps := 0
	reason := ReasonExhausted

loop:
	for {
		select {
		case <-ctx.Done():
			reason = ReasonCancelled
			break loop
		default:
		}

		info, ok := m.Next()
		if !ok {
			break loop
		}
		steps++
		iteration := offset + steps

		if v, ok := info.Float("loss"); ok {
			loss = v
		} else {
			loss = lossAt(wrt)
			info["loss"] = loss
		}
		best = math.Min(best, loss)

		if opts.OnStep != nil {
			opts.OnStep(Progress{
				JobID:       jobID,
				Iteration:   iteration,
				Loss:        loss,
				BestLoss:    best,
				InitialLoss: initialLoss,
				Params:      append([]float64(nil), wrt...),
				Elapsed:     time.Since(start),
				Record:      info,
			})
		}

		if tw != nil && iteration%cfg.TraceEvery == 0 {
			entry := store.TraceEntry{
				Iteration: iteration,
				Loss:      loss,
				Timestamp: time.Now(),
				Fields:    scalarFields(info),
			}
			if err := tw.Write(entry); err != nil {
				logger.Warn("Failed to write trace entry", "iteration", iteration, "error", err)
			}
		}

		if opts.Store != nil && cfg.CheckpointEvery > 0 && iteration%cfg.CheckpointEvery == 0 {
			saveCheckpoint(opts.Store, jobID, wrt, loss, initialLoss, iteration, cfg, logger)
		}

		if crit.Stop(info) {
			reason = ReasonStopped
			break loop
		}
	}

	if err := m.Err(); err != nil {
		return nil, fmt.Errorf("%s failed after %d steps: %w", cfg.Method, steps, err)
	}

	// The loss of the final point, e.g. after a step that ended the
	// sequence without a record.
	loss = lossAt(wrt)
	iterations := offset + steps

	if opts.Store != nil {
		saveCheckpoint(opts.Store, jobID, wrt, loss, initialLoss, iterations, cfg, logger)
	}
	if tw != nil {
		if err := tw.Flush(); err != nil {
			logger.Warn("Failed to flush trace", "error", err)
		}
	}

	result := &Result{
		JobID:       jobID,
		Params:      wrt,
		InitialLoss: initialLoss,
		FinalLoss:   loss,
		Iterations:  iterations,
		Reason:      reason,
		Elapsed:     time.Since(start),
	}

	logger.Info("Optimization finished",
		"reason", reason,
		"iterations", iterations,
		"final_loss", loss,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// warmStart replaces wrt with the best point of a Mayfly search in a box of
// radius cfg.WarmStartRadius around it, if that point is better.
func warmStart(cfg store.JobConfig, wrt []float64, lossAt func([]float64) float64, logger *slog.Logger) {
	lower := make([]float64, len(wrt))
	upper := make([]float64, len(wrt))
	for i, v := range wrt {
		lower[i] = v - cfg.WarmStartRadius
		upper[i] = v + cfg.WarmStartRadius
	}

	before := lossAt(wrt)
	searcher := opt.NewMayfly(cfg.WarmStartIters, cfg.WarmStartPop, cfg.Seed)
	best, value := searcher.Run(lossAt, lower, upper, len(wrt))

	if value < before {
		copy(wrt, best)
	}
	logger.Info("Warm start complete", "loss_before", before, "loss_after", math.Min(before, value))
}

func saveCheckpoint(s store.Store, jobID string, wrt []float64, loss, initialLoss float64, iteration int, cfg store.JobConfig, logger *slog.Logger) {
	cp := store.NewCheckpoint(jobID, append([]float64(nil), wrt...), loss, initialLoss, iteration, cfg)
	if err := cp.Validate(); err != nil {
		logger.Warn("Skipping invalid checkpoint", "iteration", iteration, "error", err)
		return
	}
	if err := s.SaveCheckpoint(jobID, cp); err != nil {
		logger.Warn("Failed to save checkpoint", "iteration", iteration, "error", err)
	}
}

// scalarFields collects the finite numeric fields of a record other than
// loss and n_iter, which the trace stores separately.
func scalarFields(info opt.Info) map[string]float64 {
	out := make(map[string]float64)
	for k := range info {
		if k == "loss" || k == "n_iter" {
			continue
		}
		if v, ok := info.Float(k); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
