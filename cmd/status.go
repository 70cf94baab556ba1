package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
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
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(os.Stdout, fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(os.Stdout, fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

// jobSummary is the subset of a listed job the table shows
type jobSummary struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Config struct {
		Dataset string `json:"dataset"`
		Search  struct {
			Method string `json:"method"`
			NRun   int    `json:"nrun"`
		} `json:"search"`
	} `json:"config"`
	Run         int     `json:"run"`
	BestCost    float64 `json:"bestCost"`
	InitialCost float64 `json:"initialCost"`
}

func listJobs(w io.Writer, url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []jobSummary
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATE\tDATASET\tMETHOD\tRUN\tINITIAL\tBEST")
	fmt.Fprintln(tw, "------\t-----\t-------\t------\t---\t-------\t----")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%.4f\t%.4f\n",
			job.ID, job.State, job.Config.Dataset, job.Config.Search.Method,
			job.Run, job.Config.Search.NRun, job.InitialCost, job.BestCost)
	}
	return tw.Flush()
}

// jobStatus mirrors the server's status response
type jobStatus struct {
	ID             string    `json:"id"`
	State          string    `json:"state"`
	Dataset        string    `json:"dataset"`
	Method         string    `json:"method"`
	Run            int       `json:"run"`
	NRun           int       `json:"nrun"`
	BestCost       float64   `json:"bestCost"`
	InitialCost    float64   `json:"initialCost"`
	BestParams     []float64 `json:"bestParams"`
	Labels         []string  `json:"labels"`
	Evaluations    int       `json:"evaluations"`
	EvalsPerSecond float64   `json:"evalsPerSecond"`
	RMSDBefore     float64   `json:"rmsdBefore"`
	RMSDAfter      float64   `json:"rmsdAfter"`
	Elapsed        float64   `json:"elapsed"`
	ResumedFrom    string    `json:"resumedFrom"`
	Error          string    `json:"error"`
}

func getJobStatus(w io.Writer, url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	if status.ResumedFrom != "" {
		fmt.Fprintf(w, "Resumed from: %s\n", status.ResumedFrom)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Dataset: %s\n", status.Dataset)
	fmt.Fprintf(w, "  Method: %s\n", status.Method)
	fmt.Fprintf(w, "  Runs: %d\n", status.NRun)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Completed runs: %d\n", status.Run)
	fmt.Fprintf(w, "  Initial Cost: %.6g\n", status.InitialCost)
	fmt.Fprintf(w, "  Best Cost: %.6g\n", status.BestCost)
	if status.InitialCost > 0 {
		improvement := status.InitialCost - status.BestCost
		fmt.Fprintf(w, "  Improvement: %.6g (%.1f%%)\n", improvement, improvement/status.InitialCost*100)
	}
	if status.RMSDAfter > 0 || status.RMSDBefore > 0 {
		fmt.Fprintf(w, "  RMSD: %.3f -> %.3f\n", status.RMSDBefore, status.RMSDAfter)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.EvalsPerSecond > 0 {
		fmt.Fprintf(w, "  Throughput: %.0f evaluations/sec\n", status.EvalsPerSecond)
	}

	if len(status.Labels) == len(status.BestParams) && len(status.Labels) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PARAMETER\tBEST")
		for i, l := range status.Labels {
			fmt.Fprintf(tw, "%s\t%g\n", l, status.BestParams[i])
		}
		tw.Flush()
	}

	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}

	return nil
}
