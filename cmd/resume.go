package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cwbudde/descent/internal/fit"
	"github.com/cwbudde/descent/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a run from its checkpoint",
	Long: `Continues a run from the parameters saved in its checkpoint. The minimizer
starts afresh at those parameters, so conjugate gradient methods restart with
a steepest descent step and ASGD restarts its schedules.

The method and the step budget may be changed for the resumed run; the
objective, its dimension and seed may not.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().Int("max-iters", 0, "Steps for the resumed run (0 = as configured)")
	resumeCmd.Flags().String("method", "", "Switch to another minimizer (empty = as configured)")
	resumeCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	checkpointStore, err := store.NewFSStore(dataDir())
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if n := viper.GetInt("max-iters"); n > 0 {
		checkpoint.Config.MaxIters = n
	}
	if m := viper.GetString("method"); m != "" {
		checkpoint.Config.Method = m
	}

	slog.Info("Resuming job",
		"jobID", jobID,
		"iteration", checkpoint.Iteration,
		"loss", checkpoint.Loss,
		"method", checkpoint.Config.Method,
	)

	ctx, stop := signalContext()
	defer stop()

	result, err := fit.Resume(ctx, checkpoint, fit.Options{
		Store:    checkpointStore,
		TraceDir: checkpointStore.BaseDir(),
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	return printResult(cmd.OutOrStdout(), result, viper.GetBool("json"))
}
