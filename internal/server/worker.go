package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwbudde/descent/internal/fit"
	"github.com/cwbudde/descent/internal/store"
)

// progressInterval throttles progress broadcasts to two per second.
var progressInterval = 500 * time.Millisecond

// runJob executes an optimization job. If checkpointStore is not nil,
// checkpoints are saved as configured by the job; if traceDir is not empty,
// the job's trace is written there.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, traceDir string, jobID string) error {
	ctx, release := jm.jobContext(ctx, jobID)
	defer release()

	var job Job
	started := false
	err := jm.UpdateJob(jobID, func(j *Job) {
		if j.State != StatePending {
			return
		}
		j.State = StateRunning
		j.StartTime = time.Now()
		job = j.clone()
		started = true
	})
	if err != nil {
		return err
	}
	if !started {
		// Cancelled before a worker picked it up.
		return nil
	}

	method := job.Config.Method
	recordJobStarted(method)
	slog.Info("Starting job", "jobID", jobID, "objective", job.Config.Objective, "method", method)

	stopProgress := make(chan struct{})
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		monitorProgress(jm, jobID, stopProgress)
	}()

	result, err := fit.Run(ctx, job.Config, fit.Options{
		JobID:    jobID,
		Store:    checkpointStore,
		TraceDir: traceDir,
		OnStep: func(p fit.Progress) {
			recordStep(method)
			jm.UpdateJob(jobID, func(j *Job) {
				j.Iterations = p.Iteration
				j.Loss = p.Loss
				j.BestLoss = p.BestLoss
				j.InitialLoss = p.InitialLoss
				j.Params = p.Params
			})
		},
	})

	close(stopProgress)
	<-progressDone

	if err != nil {
		finishJob(jm, markJobFailed(jm, jobID, err))
		return err
	}

	state := StateCompleted
	if result.Reason == fit.ReasonCancelled {
		state = StateCancelled
	}

	endTime := time.Now()
	var final Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = state
		j.Params = result.Params
		j.Loss = result.FinalLoss
		if result.Iterations == 0 || result.FinalLoss < j.BestLoss {
			j.BestLoss = result.FinalLoss
		}
		j.InitialLoss = result.InitialLoss
		j.Iterations = result.Iterations
		j.Reason = result.Reason
		j.EndTime = &endTime
		final = j.clone()
	})

	slog.Info("Job finished",
		"jobID", jobID,
		"state", state,
		"reason", result.Reason,
		"elapsed", result.Elapsed,
		"initial_loss", result.InitialLoss,
		"final_loss", result.FinalLoss,
	)
	finishJob(jm, final)

	if state == StateCancelled {
		return ctx.Err()
	}
	return nil
}

// monitorProgress periodically broadcasts the job's state until stop is closed
func monitorProgress(jm *JobManager, jobID string, stop <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(newProgressEvent(job))
		}
	}
}

// finishJob records metrics for a job that reached a terminal state and
// broadcasts its final event. job is the snapshot taken when the state
// changed, since the job may have been deleted by now.
func finishJob(jm *JobManager, job Job) {
	recordJobFinished(job.Config.Method, job.State, job.Elapsed().Seconds())
	jm.broadcaster.Broadcast(newProgressEvent(job))
}

// markJobFailed marks a job as failed with an error message and returns the
// failed job.
func markJobFailed(jm *JobManager, jobID string, err error) Job {
	endTime := time.Now()
	var final Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		final = j.clone()
	})
	slog.Error("Job failed", "jobID", jobID, "error", err)
	return final
}

// startJob runs a job in the background.
func (s *Server) startJob(jobID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := runJob(s.baseCtx, s.jobManager, s.store, s.traceDir, jobID); err != nil {
			slog.Debug("Job ended with error", "jobID", jobID, "error", err)
		}
	}()
}
