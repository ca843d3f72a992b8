package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"faultline/internal/errors"
	"faultline/internal/jobs"
	"faultline/internal/model"
	"faultline/internal/storage"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *AssignResponseCLI:
		return formatAssignHuman(v), nil
	case *IngestResponseCLI:
		return formatIngestHuman(v), nil
	case *BugResponseCLI:
		return formatBugHuman(v), nil
	case *BugsListResponseCLI:
		return formatBugsHuman(v), nil
	case *JobsListResponseCLI:
		return formatJobsHuman(v), nil
	case *MessageResponseCLI:
		return v.Message, nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

// AssignResponseCLI is the outcome of assigning one occurrence.
type AssignResponseCLI struct {
	OccurrenceID   string  `json:"occurrenceId"`
	BugID          int64   `json:"bugId"`
	Outcome        string  `json:"outcome"`
	Repointed      bool    `json:"repointed,omitempty"`
	Reopened       bool    `json:"reopened,omitempty"`
	File           string  `json:"file"`
	Line           int     `json:"line"`
	SpecialFile    bool    `json:"specialFile,omitempty"`
	BlamedRevision *string `json:"blamedRevision"`
	Score          float64 `json:"score"`
}

func formatAssignHuman(r *AssignResponseCLI) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Occurrence %s -> bug #%d (%s)\n", r.OccurrenceID, r.BugID, r.Outcome)
	fmt.Fprintf(&b, "  Location: %s:%d", r.File, r.Line)
	if r.SpecialFile {
		b.WriteString(" [special]")
	}
	b.WriteString("\n")
	if r.BlamedRevision != nil {
		fmt.Fprintf(&b, "  Blamed:   %s (score %.3f)\n", shortSHA(*r.BlamedRevision), r.Score)
	} else {
		b.WriteString("  Blamed:   -\n")
	}
	if r.Repointed {
		b.WriteString("  Bug was moved to the occurrence's deploy\n")
	}
	if r.Reopened {
		b.WriteString("  Bug was reopened\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RejectedFileCLI is an occurrence file that could not be queued.
type RejectedFileCLI struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// IngestResponseCLI summarises a directory ingestion.
type IngestResponseCLI struct {
	Submitted  int               `json:"submitted"`
	Rejected   []RejectedFileCLI `json:"rejected,omitempty"`
	Completed  int               `json:"completed"`
	Failed     int               `json:"failed"`
	Cancelled  int               `json:"cancelled"`
	Retried    int64             `json:"retried"`
	DurationMs int64             `json:"durationMs"`
}

func formatIngestHuman(r *IngestResponseCLI) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Submitted %d occurrence(s) in %s\n", r.Submitted, time.Duration(r.DurationMs)*time.Millisecond)
	fmt.Fprintf(&b, "  completed: %d  failed: %d  cancelled: %d  retried: %d\n", r.Completed, r.Failed, r.Cancelled, r.Retried)
	if len(r.Rejected) > 0 {
		fmt.Fprintf(&b, "Rejected %d file(s):\n", len(r.Rejected))
		for _, rf := range r.Rejected {
			fmt.Fprintf(&b, "  %s: %s\n", rf.File, rf.Error)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// BugResponseCLI is a bug with its lifecycle events.
type BugResponseCLI struct {
	Bug    *model.Bug           `json:"bug"`
	Events []*storage.BugEvent `json:"events,omitempty"`
}

func bugState(bug *model.Bug) string {
	switch {
	case bug.IsDuplicate():
		return fmt.Sprintf("duplicate of #%d", *bug.DuplicateOf)
	case bug.Fixed && bug.FixDeployed:
		return "fixed (deployed)"
	case bug.Fixed:
		return "fixed"
	default:
		return "open"
	}
}

func formatBugHuman(r *BugResponseCLI) string {
	var b strings.Builder
	bug := r.Bug
	fmt.Fprintf(&b, "Bug #%d  %s  [%s]\n", bug.ID, bug.ClassName, bugState(bug))
	fmt.Fprintf(&b, "  %s\n", bug.MessageTemplate)
	fmt.Fprintf(&b, "  Location:    %s:%d\n", bug.File, bug.Line)
	if bug.BlamedRevision != nil {
		fmt.Fprintf(&b, "  Blamed:      %s\n", shortSHA(*bug.BlamedRevision))
	}
	fmt.Fprintf(&b, "  Revision:    %s\n", shortSHA(bug.Revision))
	fmt.Fprintf(&b, "  Occurrences: %d (first %s, latest %s)\n",
		bug.OccurrenceCount,
		bug.FirstOccurrence.Format(time.RFC3339),
		bug.LatestOccurrence.Format(time.RFC3339))
	if len(r.Events) > 0 {
		b.WriteString("  Events:\n")
		for _, e := range r.Events {
			fmt.Fprintf(&b, "    %s  %-10s %s\n", e.CreatedAt.Format(time.RFC3339), e.Kind, e.Actor)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// BugsListResponseCLI lists the bugs of one environment.
type BugsListResponseCLI struct {
	Project     string       `json:"project"`
	Environment string       `json:"environment"`
	Bugs        []*model.Bug `json:"bugs"`
}

func formatBugsHuman(r *BugsListResponseCLI) string {
	if len(r.Bugs) == 0 {
		return fmt.Sprintf("No bugs in %s/%s", r.Project, r.Environment)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s: %d bug(s)\n", r.Project, r.Environment, len(r.Bugs))
	for _, bug := range r.Bugs {
		fmt.Fprintf(&b, "  #%-6d %-6d %-30s %s:%d  [%s]\n",
			bug.ID, bug.OccurrenceCount, bug.ClassName, bug.File, bug.Line, bugState(bug))
	}
	return strings.TrimRight(b.String(), "\n")
}

// JobsListResponseCLI contains jobs list for CLI output
type JobsListResponseCLI struct {
	Jobs       []jobs.JobSummary `json:"jobs"`
	TotalCount int               `json:"totalCount"`
	ByStatus   map[string]int    `json:"byStatus,omitempty"`
}

func formatJobsHuman(r *JobsListResponseCLI) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d job(s)", r.TotalCount)
	if len(r.ByStatus) > 0 {
		statuses := make([]string, 0, len(r.ByStatus))
		for s := range r.ByStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		parts := make([]string, 0, len(statuses))
		for _, s := range statuses {
			parts = append(parts, fmt.Sprintf("%s=%d", s, r.ByStatus[s]))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
	for _, j := range r.Jobs {
		fmt.Fprintf(&b, "  %s  %-10s attempts=%d  %s", j.ID, j.Status, j.Attempts, j.CreatedAt.Format(time.RFC3339))
		if j.Error != "" {
			fmt.Fprintf(&b, "  %s", j.Error)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// MessageResponseCLI is a single confirmation line.
type MessageResponseCLI struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// suggestedFixes returns the human descriptions of the fixes attached to err,
// or the defaults for its code.
func suggestedFixes(err error) []string {
	var fixes []errors.FixAction
	var fe *errors.FaultError
	if stderrors.As(err, &fe) && len(fe.SuggestedFixes) > 0 {
		fixes = fe.SuggestedFixes
	} else {
		fixes = errors.GetSuggestedFixes(errors.CodeOf(err))
	}

	out := make([]string, 0, len(fixes))
	for _, f := range fixes {
		switch {
		case f.Command != "":
			out = append(out, f.Description+": "+f.Command)
		case f.URL != "":
			out = append(out, f.Description+": "+f.URL)
		default:
			out = append(out, f.Description)
		}
	}
	return out
}
