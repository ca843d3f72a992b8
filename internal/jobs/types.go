package jobs

import (
	"encoding/json"
	"fmt"

	"faultline/internal/errors"
	"faultline/internal/model"
)

// AssignResult is the stored result of an assign_occurrence job.
type AssignResult struct {
	OccurrenceID string `json:"occurrenceId"`
	BugID        int64  `json:"bugId"`
	Outcome      string `json:"outcome"`
	Repointed    bool   `json:"repointed,omitempty"`
	Reopened     bool   `json:"reopened,omitempty"`
	File         string `json:"file"`
	Line         int    `json:"line"`
}

// ParseOccurrence decodes the occurrence carried by an assign_occurrence job.
func ParseOccurrence(payload string) (*model.Occurrence, error) {
	if payload == "" {
		return nil, errors.New(errors.InvalidInput, "job has no occurrence payload", nil, nil)
	}

	var occ model.Occurrence
	if err := json.Unmarshal([]byte(payload), &occ); err != nil {
		return nil, errors.New(errors.InvalidInput, fmt.Sprintf("invalid occurrence payload: %v", err), err, nil)
	}
	return &occ, nil
}

// Retryable reports whether a failed attempt should be queued again.
// Mirror lock and git timeouts are transient; anything else needs attention.
func Retryable(err error) bool {
	return errors.HasCode(err, errors.MirrorLockTimeout) || errors.HasCode(err, errors.Timeout)
}
