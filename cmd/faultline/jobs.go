package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"faultline/internal/errors"
	"faultline/internal/jobs"
)

var (
	jobsLimit     int
	jobsStatus    string
	jobsRetention time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage background jobs",
	Long: `List, check status, and manage background jobs.

Background jobs assign occurrences queued by 'faultline ingest'.

Examples:
  faultline jobs list
  faultline jobs status <job-id>
  faultline jobs cancel <job-id>
  faultline jobs cleanup --older-than=168h`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent background jobs",
	Long: `List recent background jobs with optional filtering.

Examples:
  faultline jobs list
  faultline jobs list --status=failed
  faultline jobs list --limit=50`,
	Args: cobra.NoArgs,
	Run:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get status of a specific job",
	Args:  cobra.ExactArgs(1),
	Run:   runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job",
	Args:  cobra.ExactArgs(1),
	Run:   runJobsCancel,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs",
	Args:  cobra.NoArgs,
	Run:   runJobsCleanup,
}

func init() {
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to return")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (queued, running, completed, failed, cancelled)")
	jobsCleanupCmd.Flags().DurationVar(&jobsRetention, "older-than", 7*24*time.Hour, "Delete finished jobs completed before this age")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsCleanupCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, args []string) {
	start := time.Now()
	a := mustOpenApp(appOptions{jobs: true})
	defer a.Close()

	opts := jobs.ListJobsOptions{Limit: jobsLimit}
	if jobsStatus != "" {
		opts.Status = []jobs.JobStatus{jobs.JobStatus(jobsStatus)}
	}

	response, err := a.jobStore.ListJobs(cmd.Context(), opts)
	exitOnError("listing jobs", err)
	counts, err := a.jobStore.CountByStatus(cmd.Context())
	exitOnError("counting jobs", err)

	resp := &JobsListResponseCLI{
		Jobs:       response.Jobs,
		TotalCount: response.TotalCount,
		ByStatus:   make(map[string]int, len(counts)),
	}
	for status, n := range counts {
		resp.ByStatus[string(status)] = n
	}
	printResponse(resp)

	a.logger.Debug("Jobs list completed", "count", len(response.Jobs), "duration", time.Since(start).Milliseconds())
}

func runJobsStatus(cmd *cobra.Command, args []string) {
	a := mustOpenApp(appOptions{jobs: true})
	defer a.Close()

	job, err := a.jobStore.GetJob(cmd.Context(), args[0])
	exitOnError("getting job status", err)
	if job == nil {
		exitOnError("getting job status", errors.New(errors.NotFound, "job not found: "+args[0], nil, nil))
	}
	printResponse(job)
}

func runJobsCancel(cmd *cobra.Command, args []string) {
	a := mustOpenApp(appOptions{jobs: true})
	defer a.Close()

	exitOnError("cancelling job", a.runner.Cancel(cmd.Context(), args[0]))
	printResponse(&MessageResponseCLI{Message: "Job cancelled", ID: args[0]})
}

func runJobsCleanup(cmd *cobra.Command, args []string) {
	a := mustOpenApp(appOptions{jobs: true})
	defer a.Close()

	n, err := a.jobStore.CleanupOldJobs(cmd.Context(), jobsRetention)
	exitOnError("cleaning up jobs", err)
	printResponse(&MessageResponseCLI{Message: fmt.Sprintf("Deleted %d job(s)", n)})
}
