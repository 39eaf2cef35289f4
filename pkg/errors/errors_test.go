package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineError(t *testing.T) {
	tests := []struct {
		name       string
		category   Category
		code       Code
		message    string
		cause      error
		expectCode int
		fatal      bool
	}{
		{
			name:       "ambiguity error",
			category:   CategoryAmbiguity,
			code:       CodeMultipleCandidates,
			message:    "multiple candidates",
			cause:      nil,
			expectCode: 3,
			fatal:      false,
		},
		{
			name:       "integrity gap",
			category:   CategoryIntegrityGap,
			code:       CodeMissingObligation,
			message:    "missing obligation",
			cause:      nil,
			expectCode: 3,
			fatal:      false,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidConfig,
			message:    "invalid config",
			cause:      errors.New("missing field"),
			expectCode: 2,
			fatal:      false,
		},
		{
			name:       "store error",
			category:   CategoryStore,
			code:       CodeWriteFailed,
			message:    "write failed",
			cause:      errors.New("disk full"),
			expectCode: 4,
			fatal:      true,
		},
		{
			name:       "structural error",
			category:   CategoryStructural,
			code:       CodeSchemaFailure,
			message:    "schema failure",
			cause:      errors.New("no such table"),
			expectCode: 5,
			fatal:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *EngineError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.ExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.ExitCode())
			}
			if err.IsFatal() != tt.fatal {
				t.Errorf("expected fatal %v, got %v", tt.fatal, err.IsFatal())
			}
			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	err := New(CategoryIntegrityGap, CodeMissingObligation, "missing obligation").
		WithContext("record_id", int64(42))

	if err.Context["record_id"] != int64(42) {
		t.Errorf("expected record_id 42 in context, got %v", err.Context["record_id"])
	}
	if !strings.Contains(err.Error(), "record_id=42") {
		t.Errorf("expected context in error string, got %s", err.Error())
	}
}

func TestConstructors(t *testing.T) {
	amb := Ambiguity(CodeMultipleCandidates, 7, []int64{1, 2, 3})
	if amb.Category != CategoryAmbiguity {
		t.Errorf("expected ambiguity category, got %s", amb.Category)
	}
	if amb.Context["record_id"] != int64(7) {
		t.Errorf("expected record id in context, got %v", amb.Context["record_id"])
	}

	gap := IntegrityGap(CodeMissingObligation, 7, "007237")
	if gap.Context["reference"] != "007237" {
		t.Errorf("expected reference in context, got %v", gap.Context["reference"])
	}

	cfg := Configuration(CodeMissingAuthToken, "settlement_delete", "token required")
	if cfg.ExitCode() != 2 {
		t.Errorf("expected exit code 2, got %d", cfg.ExitCode())
	}

	st := Store(CodeQueryFailed, "load settlements", errors.New("locked"))
	if st.Unwrap() == nil {
		t.Error("expected store error to carry its cause")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, CategoryStore, CodeWriteFailed, "ignored"); err != nil {
		t.Errorf("expected nil for nil cause, got %v", err)
	}
}

func TestAsEngineErrorThroughChain(t *testing.T) {
	inner := New(CategoryStore, CodeWriteFailed, "write failed")
	wrapped := fmt.Errorf("batch 3: %w", inner)

	got, ok := AsEngineError(wrapped)
	if !ok {
		t.Fatal("expected to find the engine error in the chain")
	}
	if got.Code != CodeWriteFailed {
		t.Errorf("expected write_failed, got %s", got.Code)
	}

	if _, ok := AsEngineError(errors.New("plain")); ok {
		t.Error("expected no engine error in a plain error")
	}
}

func TestPackageLevelHelpers(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("expected exit code 0 for nil")
	}
	if ExitCode(errors.New("plain")) != 1 {
		t.Error("expected exit code 1 for unknown error types")
	}
	if IsFatal(nil) {
		t.Error("expected nil to be non-fatal")
	}
	if !IsFatal(errors.New("plain")) {
		t.Error("expected unknown error types to be treated as fatal")
	}
	if IsFatal(New(CategoryTolerance, CodeDateOutsideWindow, "window")) {
		t.Error("expected tolerance errors to be non-fatal")
	}
}

func TestTruncateReason(t *testing.T) {
	if got := TruncateReason("short", 200); got != "short" {
		t.Errorf("expected unchanged string, got %s", got)
	}
	got := TruncateReason(strings.Repeat("x", 300), 200)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("expected 200 chars plus ellipsis, got %d chars", len(got))
	}
	if got := TruncateReason("anything", 0); got != "anything" {
		t.Errorf("expected no truncation for zero max, got %s", got)
	}
}
