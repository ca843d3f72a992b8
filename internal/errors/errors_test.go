package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("underlying error")
	fixes := []FixAction{{Type: RunCommand, Command: "faultline fetch web"}}

	err := New(MirrorLockTimeout, "mirror is locked", cause, fixes)

	if err.Code != MirrorLockTimeout {
		t.Errorf("Code = %v, want %v", err.Code, MirrorLockTimeout)
	}
	if err.Message != "mirror is locked" {
		t.Errorf("Message = %q, want %q", err.Message, "mirror is locked")
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
}

func TestFaultError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      BlameUnavailable,
			message:   "git blame failed",
			cause:     errors.New("exit status 128"),
			wantParts: []string{"BLAME_UNAVAILABLE", "git blame failed", "exit status 128"},
		},
		{
			name:      "without cause",
			code:      UnresolvableRevision,
			message:   "occurrence has no revision",
			wantParts: []string{"UNRESOLVABLE_REVISION", "occurrence has no revision"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause, nil).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestFaultError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(InternalError, "something went wrong", cause, nil)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if New(Timeout, "timed out", nil, nil).Unwrap() != nil {
		t.Error("Unwrap() on error without cause should return nil")
	}
}

func TestHasCode(t *testing.T) {
	inner := New(MirrorLockTimeout, "lock wait exceeded", nil, nil)
	outer := New(BlameUnavailable, "blame failed", inner, nil)
	wrapped := fmt.Errorf("resolving: %w", outer)

	if !HasCode(wrapped, BlameUnavailable) {
		t.Error("expected outer code to be found")
	}
	if !HasCode(wrapped, MirrorLockTimeout) {
		t.Error("expected nested code to be found")
	}
	if HasCode(wrapped, Timeout) {
		t.Error("unexpected code match")
	}
	if HasCode(errors.New("plain"), InternalError) {
		t.Error("plain errors carry no code")
	}
	if got := CodeOf(wrapped); got != BlameUnavailable {
		t.Errorf("CodeOf() = %v, want %v", got, BlameUnavailable)
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	if fixes := GetSuggestedFixes(MirrorLockTimeout); len(fixes) == 0 {
		t.Error("expected fixes for MirrorLockTimeout")
	}
	if fixes := GetSuggestedFixes(InternalError); fixes != nil {
		t.Errorf("expected no fixes for InternalError, got %v", fixes)
	}
}
