package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"faultline/internal/jobs"
	"faultline/internal/telemetry"
)

var (
	ingestParallel    int
	ingestTimeout     time.Duration
	ingestMetricsFile string
)

var assignCmd = &cobra.Command{
	Use:   "assign <occurrence.json>",
	Short: "Assign one occurrence to a bug",
	Long: `Read an occurrence from a JSON file (or - for stdin), blame its faulted
backtrace, and attach it to a new or existing bug.

Examples:
  faultline assign occurrence.json
  faultline assign - --format=json < occurrence.json`,
	Args: cobra.ExactArgs(1),
	Run:  runAssign,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Assign every occurrence file in a directory",
	Long: `Queue every *.json occurrence file in a directory as a background job and
wait for the workers to assign them. Jobs failing on a mirror lock or git
timeout are retried. Progress is also written to logs/ingest.log in the data
directory.

With --metrics-file, the run's cache, blame, and resolution counters are
written in the Prometheus text format, suitable for a node_exporter textfile
collector.

Examples:
  faultline ingest ./spool
  faultline ingest ./spool --timeout=10m
  faultline ingest ./spool --metrics-file=/var/lib/node_exporter/faultline.prom`,
	Args: cobra.ExactArgs(1),
	Run:  runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestParallel, "parallel", 8, "Files read concurrently")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 30*time.Minute, "Give up waiting for jobs after this long")
	ingestCmd.Flags().StringVar(&ingestMetricsFile, "metrics-file", "", "Write Prometheus metrics of this run to a file")

	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(ingestCmd)
}

func readOccurrenceFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func runAssign(cmd *cobra.Command, args []string) {
	start := time.Now()
	a := mustOpenApp(appOptions{})
	defer a.Close()

	ctx := cmd.Context()

	data, err := readOccurrenceFile(args[0])
	exitOnError("reading occurrence", err)
	occ, err := jobs.ParseOccurrence(string(data))
	exitOnError("reading occurrence", err)

	res, err := a.blamer.Ingest(ctx, occ)
	exitOnError("assigning occurrence", err)

	resp := &AssignResponseCLI{
		OccurrenceID: occ.ID,
		BugID:        res.Bug.ID,
		Outcome:      res.Outcome,
		Repointed:    res.Repointed,
		Reopened:     res.Reopened,
		File:         res.Bug.File,
		Line:         res.Bug.Line,
		SpecialFile:  res.Bug.SpecialFile,
	}
	if res.Location != nil {
		resp.BlamedRevision = res.Location.BlamedRevision()
		resp.Score = res.Location.Score
	}
	printResponse(resp)

	a.logger.Debug("Assign completed",
		"occurrenceId", occ.ID,
		"bugId", res.Bug.ID,
		"duration", time.Since(start).Milliseconds(),
	)
}

type occurrenceFile struct {
	path string
	data []byte
}

// readOccurrenceDir reads and validates every *.json file of dir
// concurrently. Invalid files are returned as rejections, not errors.
func readOccurrenceDir(dir string, parallel int) ([]occurrenceFile, []RejectedFileCLI, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(matches)

	files := make([]occurrenceFile, len(matches))
	var (
		mu       sync.Mutex
		rejected []RejectedFileCLI
	)

	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, path := range matches {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if _, err := jobs.ParseOccurrence(string(data)); err != nil {
				mu.Lock()
				rejected = append(rejected, RejectedFileCLI{File: path, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			files[i] = occurrenceFile{path: path, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	valid := files[:0]
	for _, f := range files {
		if f.data != nil {
			valid = append(valid, f)
		}
	}
	sort.Slice(rejected, func(i, j int) bool { return rejected[i].File < rejected[j].File })
	return valid, rejected, nil
}

func runIngest(cmd *cobra.Command, args []string) {
	start := time.Now()
	a := mustOpenApp(appOptions{ingestLog: true, jobs: true})
	defer a.Close()

	ctx := cmd.Context()

	files, rejected, err := readOccurrenceDir(args[0], ingestParallel)
	exitOnError("reading occurrences", err)
	for _, rf := range rejected {
		a.logger.Warn("Skipping invalid occurrence file", "file", rf.File, "error", rf.Error)
	}

	exitOnError("starting job runner", a.startRunner(ctx))

	ids := make([]string, 0, len(files))
	for _, f := range files {
		job, err := jobs.NewAssignJob(f.data)
		exitOnError("creating job", err)
		exitOnError("submitting job", a.runner.Submit(ctx, job))
		ids = append(ids, job.ID)
		a.logger.Debug("Occurrence queued", "file", f.path, "jobId", job.ID)
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, ingestTimeout)
	defer drainCancel()
	exitOnError("waiting for jobs", a.runner.Drain(drainCtx, 50*time.Millisecond))

	resp := &IngestResponseCLI{
		Submitted: len(files),
		Rejected:  rejected,
		Retried:   a.runner.Stats().RetriedTotal,
	}
	for _, id := range ids {
		job, err := a.jobStore.GetJob(ctx, id)
		exitOnError("reading job", err)
		if job == nil {
			continue
		}
		switch job.Status {
		case jobs.JobCompleted:
			resp.Completed++
		case jobs.JobFailed:
			resp.Failed++
			a.logger.Error("Occurrence not assigned", "jobId", job.ID, "code", job.ErrorCode, "error", job.Error)
		case jobs.JobCancelled:
			resp.Cancelled++
		}
	}
	resp.DurationMs = time.Since(start).Milliseconds()
	printResponse(resp)

	if ingestMetricsFile != "" {
		exitOnError("writing metrics", writeMetricsFile(ingestMetricsFile))
	}

	a.logger.Info("Ingest completed",
		"submitted", resp.Submitted,
		"completed", resp.Completed,
		"failed", resp.Failed,
		"rejected", len(rejected),
		"duration", resp.DurationMs,
	)
}

// writeMetricsFile writes the default registry through a temporary file so
// collectors never read a partial exposition.
func writeMetricsFile(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := telemetry.WriteText(f, prometheus.DefaultGatherer); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
