package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cwbudde/descent/internal/server"
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := viper.GetString("server")
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), base+"/api/v1/jobs")
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), base+"/api/v1/jobs/"+url.PathEscape(jobID)+"/status", jobID)
}

func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned %s: %s", resp.Status, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(w io.Writer, url string) error {
	var jobs []server.Job
	if _, err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(w, "Job ID: %s\n", job.ID)
		fmt.Fprintf(w, "  State: %s\n", job.State)
		fmt.Fprintf(w, "  Problem: %s (dim %d) with %s\n", job.Config.Objective, job.Config.Dim, job.Config.Method)
		if job.Iterations > 0 {
			fmt.Fprintf(w, "  Loss: %.6g -> %.6g after %d steps\n", job.InitialLoss, job.Loss, job.Iterations)
		}
		fmt.Fprintln(w)
	}

	return nil
}

type jobStatus struct {
	ID             string           `json:"id"`
	State          server.JobState  `json:"state"`
	Config         server.JobConfig `json:"config"`
	Loss           float64          `json:"loss"`
	BestLoss       float64          `json:"bestLoss"`
	InitialLoss    float64          `json:"initialLoss"`
	Iterations     int              `json:"iterations"`
	Reason         string           `json:"reason"`
	Elapsed        float64          `json:"elapsed"`
	StepsPerSecond float64          `json:"stepsPerSecond"`
	Error          string           `json:"error"`
}

func getJobStatus(w io.Writer, url, jobID string) error {
	var status jobStatus
	code, err := getJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	if status.Reason != "" {
		fmt.Fprintf(w, "Ended: %s\n", status.Reason)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Objective: %s\n", status.Config.Objective)
	fmt.Fprintf(w, "  Method: %s\n", status.Config.Method)
	fmt.Fprintf(w, "  Max Iterations: %d\n", status.Config.MaxIters)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Steps: %d\n", status.Iterations)
	if status.Iterations > 0 {
		fmt.Fprintf(w, "  Initial Loss: %.6g\n", status.InitialLoss)
		fmt.Fprintf(w, "  Loss: %.6g (best %.6g)\n", status.Loss, status.BestLoss)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.StepsPerSecond > 0 {
		fmt.Fprintf(w, "  Throughput: %.0f steps/sec\n", status.StepsPerSecond)
	}

	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}

	return nil
}
