// Package model holds the occurrence, bug and deploy records shared by the
// matching engine, storage and the CLI.
package model

import (
	"time"
)

// Backtrace is one thread or fiber of an occurrence, frames ordered outermost first.
type Backtrace struct {
	Name    string  `json:"name"`
	Faulted bool    `json:"faulted"`
	Frames  []Frame `json:"backtrace"`
}

// Environment scopes bugs within a project (production, staging, ...).
type Environment struct {
	ID        int64  `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

// Deploy ties a revision to a point in time for an environment.
type Deploy struct {
	ID            int64     `json:"id"`
	EnvironmentID int64     `json:"environmentId"`
	Revision      string    `json:"revision"`
	DeployedAt    time.Time `json:"deployedAt"`
	// Build identifies a distributed release (app version); empty for hosted deploys.
	Build string `json:"build,omitempty"`
}

// Occurrence is one reported exception, already symbolicated upstream.
type Occurrence struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project"`
	Environment string      `json:"environment"`
	Revision    string      `json:"revision,omitempty"`
	Client      string      `json:"client"`
	ClassName   string      `json:"class_name"`
	Message     string      `json:"message"`
	Backtraces  []Backtrace `json:"backtraces"`
	OccurredAt  time.Time   `json:"occurred_at"`
	// Build selects the deploy of a distributed project the occurrence came from.
	Build string `json:"build,omitempty"`

	// Deploy is the candidate deploy resolved by the caller; nil for hosted projects.
	Deploy *Deploy `json:"-"`
	// EnvironmentID is filled in by the caller once the environment is known.
	EnvironmentID int64 `json:"-"`
}

// FaultedBacktrace returns the backtrace flagged as faulted, or nil.
func (o *Occurrence) FaultedBacktrace() *Backtrace {
	for i := range o.Backtraces {
		if o.Backtraces[i].Faulted {
			return &o.Backtraces[i]
		}
	}
	return nil
}

// Bug groups occurrences believed to share a root cause.
type Bug struct {
	ID              int64   `json:"id"`
	EnvironmentID   int64   `json:"environmentId"`
	ClassName       string  `json:"className"`
	File            string  `json:"file"`
	Line            int     `json:"line"`
	BlamedRevision  *string `json:"blamedRevision"`
	DeployID        *int64  `json:"deployId"`
	Revision        string  `json:"revision"`
	Client          string  `json:"client"`
	MessageTemplate string  `json:"messageTemplate"`
	SpecialFile     bool    `json:"specialFile"`

	Fixed       bool       `json:"fixed"`
	FixedAt     *time.Time `json:"fixedAt,omitempty"`
	FixDeployed bool       `json:"fixDeployed"`
	DuplicateOf *int64     `json:"duplicateOf,omitempty"`

	FirstOccurrence  time.Time `json:"firstOccurrence"`
	LatestOccurrence time.Time `json:"latestOccurrence"`
	OccurrenceCount  int       `json:"occurrenceCount"`
	ReopenedBy       string    `json:"reopenedBy,omitempty"`
}

// IsDuplicate reports whether the bug has been folded into another bug.
func (b *Bug) IsDuplicate() bool {
	return b.DuplicateOf != nil
}

// Criteria is the identity tuple searched for when matching an occurrence.
// A nil BlamedRevision matches only bugs with no blamed revision.
type Criteria struct {
	EnvironmentID  int64
	ClassName      string
	File           string
	Line           int
	BlamedRevision *string
}
