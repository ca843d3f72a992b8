package jobs

import (
	"context"

	"faultline/internal/blamer"
	"faultline/internal/model"
)

// Assigner runs the occurrence pipeline. blamer.Blamer implements it.
type Assigner interface {
	Ingest(ctx context.Context, occ *model.Occurrence) (*blamer.Assignment, error)
}

// NewAssignJob creates an assign_occurrence job for raw occurrence JSON.
func NewAssignJob(occurrenceJSON []byte) (*Job, error) {
	if _, err := ParseOccurrence(string(occurrenceJSON)); err != nil {
		return nil, err
	}
	return NewJob(JobTypeAssignOccurrence, occurrenceJSON)
}

// AssignHandler returns the handler for assign_occurrence jobs.
func AssignHandler(a Assigner) JobHandler {
	return func(ctx context.Context, job *Job) (interface{}, error) {
		occ, err := ParseOccurrence(job.Payload)
		if err != nil {
			return nil, err
		}

		res, err := a.Ingest(ctx, occ)
		if err != nil {
			return nil, err
		}

		return &AssignResult{
			OccurrenceID: occ.ID,
			BugID:        res.Bug.ID,
			Outcome:      res.Outcome,
			Repointed:    res.Repointed,
			Reopened:     res.Reopened,
			File:         res.Bug.File,
			Line:         res.Bug.Line,
		}, nil
	}
}
