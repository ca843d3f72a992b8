package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// UnresolvableRevision indicates neither the occurrence nor its deploy resolves to a commit
	UnresolvableRevision ErrorCode = "UNRESOLVABLE_REVISION"
	// BlameUnavailable indicates the VCS blame operation failed
	BlameUnavailable ErrorCode = "BLAME_UNAVAILABLE"
	// MirrorLockTimeout indicates the local mirror could not be locked in time
	MirrorLockTimeout ErrorCode = "MIRROR_LOCK_TIMEOUT"
	// BugCreationConflict indicates a uniqueness violation during find-or-create
	BugCreationConflict ErrorCode = "BUG_CREATION_CONFLICT"
	// RevisionNotFound indicates a revision is unknown to the repository
	RevisionNotFound ErrorCode = "REVISION_NOT_FOUND"
	// Timeout indicates a git command timed out
	Timeout ErrorCode = "TIMEOUT"
	// InvalidInput indicates malformed caller input
	InvalidInput ErrorCode = "INVALID_INPUT"
	// DuplicateInvalid indicates a duplicate marking that would break the duplicate invariants
	DuplicateInvalid ErrorCode = "DUPLICATE_INVALID"
	// NotFound indicates a referenced record does not exist
	NotFound ErrorCode = "NOT_FOUND"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// FaultError represents a faultline error with code, message, and suggestions
type FaultError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new FaultError
func New(code ErrorCode, message string, cause error, suggestedFixes []FixAction) *FaultError {
	return &FaultError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: suggestedFixes,
	}
}

// Error implements the error interface
func (e *FaultError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *FaultError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *FaultError) WithDetails(details interface{}) *FaultError {
	e.Details = details
	return e
}

// CodeOf returns the code of the outermost FaultError in err's chain,
// or the empty code if there is none.
func CodeOf(err error) ErrorCode {
	var fe *FaultError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// HasCode reports whether any FaultError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var fe *FaultError
		if !stderrors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.cause
	}
	return false
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	MirrorLockTimeout: {
		{
			Type:        RunCommand,
			Command:     "faultline fetch ${project}",
			Safe:        true,
			Description: "Retry the mirror update once the stuck fetch has finished",
		},
	},
	UnresolvableRevision: {
		{
			Type:        RunCommand,
			Command:     "faultline deploy ${project} ${environment} ${revision}",
			Safe:        true,
			Description: "Record a deploy so occurrences without a revision can be attributed",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
