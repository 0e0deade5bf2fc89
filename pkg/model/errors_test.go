package model

import (
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "trial 'trial_00001' not found"}
	want := "NOT_FOUND: trial 'trial_00001' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("trial", "trial_00003")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "trial 'trial_00003' not found" {
		t.Errorf("Message = %q, want %q", err.Message, "trial 'trial_00003' not found")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("Invalid report",
		FieldError{Field: "resource", Message: "must be positive"},
		FieldError{Field: "metric", Message: "required"},
	)
	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
}

func TestNewInvalidReportError(t *testing.T) {
	err := NewInvalidReportError("trial_00002", 4, 10)
	want := "INVALID_REPORT: trial 'trial_00002' reported resource 4 after 10"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("report: %w", NewCorruptStateError("bracket %d unknown", 7))
	if got := CodeOf(wrapped); got != ErrCorruptState {
		t.Errorf("CodeOf = %q, want %q", got, ErrCorruptState)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{
		Entity: "Trial",
		ID:     "trial_00001",
		From:   "COMPLETED",
		To:     "RUNNING",
	}
	want := "invalid Trial state transition: COMPLETED → RUNNING (entity trial_00001)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
