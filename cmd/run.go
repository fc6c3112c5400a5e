package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cwbudde/descent/internal/fit"
	"github.com/cwbudde/descent/internal/objective"
	"github.com/cwbudde/descent/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single optimization",
	Long: `Runs one minimizer on one objective until a stop criterion fires, then
prints the result. The final parameters are saved as a checkpoint under
--data-dir so the run can be resumed. Interrupting the run with Ctrl-C
still saves the checkpoint.`,
	RunE: runOptimization,
}

func init() {
	addJobFlags(runCmd)
	runCmd.Flags().String("job-id", "", "Job ID (default: a new UUID)")
	runCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.AddCommand(runCmd)
}

// addJobFlags registers one flag per store.JobConfig field, named after
// its mapstructure tag.
func addJobFlags(cmd *cobra.Command) {
	d := store.DefaultJobConfig()
	f := cmd.Flags()

	f.String("objective", d.Objective, "Objective: "+strings.Join(objective.Names(), ", "))
	f.Int("dim", d.Dim, "Problem dimension (0 = objective default)")
	f.String("method", d.Method, "Minimizer: "+strings.Join(fit.Methods(), ", "))
	f.Int("max-iters", d.MaxIters, "Maximum number of steps")
	f.Int64("seed", d.Seed, "Random seed for data and warm start")

	f.Float64("step-rate", d.StepRate, "Gradient descent step rate")
	f.Float64("momentum", d.Momentum, "Gradient descent momentum in [0, 1)")
	f.String("momentum-type", d.MomentumType, "Momentum type: standard, nesterov")

	f.Float64("eta0", d.Eta0, "ASGD initial learning rate")
	f.Float64("lambda", d.Lambda, "ASGD L2 decay")
	f.Float64("alpha", d.Alpha, "ASGD learning rate decay exponent")
	f.Float64("t0", d.T0, "ASGD step at which averaging starts")

	f.Int("batch-size", d.BatchSize, "Minibatch size for data objectives (0 = full batch)")
	f.Float64("epsilon", d.Epsilon, "Gradient (ncg) or residual (cg) tolerance")

	f.Float64("tolerance", d.Tolerance, "Stop when the loss varies by less than this over --window steps (0 = off)")
	f.Int("window", d.Window, "Window for --tolerance")
	f.Duration("time-limit", d.TimeLimit, "Stop after this wall time (0 = off)")
	f.Int("stall-patience", d.StallPatience, "Stop after this many steps without significant improvement (0 = off)")
	f.Float64("stall-threshold", d.StallThreshold, "Relative improvement that counts as significant")

	f.Bool("warm-start", d.WarmStart, "Warm start with a Mayfly search around the initial point")
	f.Int("warm-start-iters", d.WarmStartIters, "Warm start iterations")
	f.Int("warm-start-pop", d.WarmStartPop, "Warm start population size (at least 20)")
	f.Float64("warm-start-radius", d.WarmStartRadius, "Warm start search radius")

	f.Int("checkpoint-every", d.CheckpointEvery, "Save a checkpoint every N steps (0 = only at the end)")
	f.Int("trace-every", d.TraceEvery, "Append a trace entry every N steps (0 = off)")
}

// jobConfig assembles the job configuration from flags, environment and
// config file.
func jobConfig() (store.JobConfig, error) {
	cfg := store.DefaultJobConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode job config: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg, err := jobConfig()
	if err != nil {
		return err
	}

	checkpointStore, err := store.NewFSStore(dataDir())
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	result, err := fit.Run(ctx, cfg, fit.Options{
		JobID:    viper.GetString("job-id"),
		Store:    checkpointStore,
		TraceDir: checkpointStore.BaseDir(),
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	return printResult(cmd.OutOrStdout(), result, viper.GetBool("json"))
}

type resultOutput struct {
	JobID       string    `json:"jobId"`
	Reason      string    `json:"reason"`
	Iterations  int       `json:"iterations"`
	InitialLoss float64   `json:"initialLoss"`
	FinalLoss   float64   `json:"finalLoss"`
	Elapsed     float64   `json:"elapsed"`
	Params      []float64 `json:"params"`
}

func printResult(w io.Writer, r *fit.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resultOutput{
			JobID:       r.JobID,
			Reason:      r.Reason,
			Iterations:  r.Iterations,
			InitialLoss: r.InitialLoss,
			FinalLoss:   r.FinalLoss,
			Elapsed:     r.Elapsed.Seconds(),
			Params:      r.Params,
		})
	}

	fmt.Fprintf(w, "Job:          %s\n", r.JobID)
	fmt.Fprintf(w, "Ended:        %s after %d steps\n", r.Reason, r.Iterations)
	fmt.Fprintf(w, "Loss:         %.6g -> %.6g\n", r.InitialLoss, r.FinalLoss)
	fmt.Fprintf(w, "Elapsed:      %s\n", r.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "Parameters:   %s\n", formatParams(r.Params, 10))
	return nil
}

// formatParams prints at most limit entries of params.
func formatParams(params []float64, limit int) string {
	parts := make([]string, 0, min(len(params), limit)+1)
	for i, p := range params {
		if i == limit {
			parts = append(parts, fmt.Sprintf("... (%d more)", len(params)-limit))
			break
		}
		parts = append(parts, fmt.Sprintf("%.6g", p))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
