// Package errors defines the engine's error taxonomy.
//
// The taxonomy mirrors how the reconciliation run treats failures:
//
//   - ambiguity: multiple valid candidates; surfaced for review, never
//     auto-resolved
//   - integrity_gap: a referenced entity is missing; the record is skipped
//     with a reason code and processing continues
//   - tolerance: amount/date outside configured windows; treated as an
//     unmatched outcome, not an exception
//   - structural: schema or connectivity failure; fatal to the run
//
// Only structural (and store) errors abort a run. Everything else becomes
// a report line in preview mode and a skipped record in apply mode.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Category classifies an error by how the run reacts to it.
type Category string

const (
	CategoryAmbiguity     Category = "ambiguity"
	CategoryIntegrityGap  Category = "integrity_gap"
	CategoryTolerance     Category = "tolerance"
	CategoryStructural    Category = "structural"
	CategoryConfiguration Category = "configuration"
	CategoryStore         Category = "store"
)

// Code identifies the specific failure within a category.
type Code string

const (
	// Ambiguity codes
	CodeMultipleCandidates Code = "multiple_candidates"
	CodeDuplicateKey       Code = "duplicate_business_key"

	// Integrity gap codes
	CodeMissingObligation Code = "missing_obligation"
	CodeMissingSettlement Code = "missing_settlement"
	CodeMissingLedgerRow  Code = "missing_ledger_row"
	CodeDanglingLink      Code = "dangling_link"

	// Tolerance codes
	CodeAmountOutsideWindow Code = "amount_outside_window"
	CodeDateOutsideWindow   Code = "date_outside_window"

	// Structural codes
	CodeSchemaFailure     Code = "schema_failure"
	CodeConnectivity      Code = "connectivity_failure"
	CodeUnexpectedFailure Code = "unexpected_failure"

	// Configuration codes
	CodeInvalidConfig     Code = "invalid_config"
	CodeMissingAuthToken  Code = "missing_auth_token"
	CodeInvalidAuthToken  Code = "invalid_auth_token"
	CodeUnknownOperation  Code = "unknown_operation_family"
	CodeConflictingConfig Code = "conflicting_config"

	// Store codes
	CodeTxBegin     Code = "transaction_begin_failed"
	CodeTxCommit    Code = "transaction_commit_failed"
	CodeQueryFailed Code = "query_failed"
	CodeWriteFailed Code = "write_failed"
)

// EngineError is the error type carried throughout the engine.
type EngineError struct {
	Category   Category          `json:"category"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries structured detail about the failing record.
type Context map[string]interface{}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	var parts []string
	for k, v := range e.Context {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, ", "))
}

// Unwrap returns the underlying cause error.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the error must abort the whole run. Only
// structural and store failures are fatal; everything else is
// partial-failure tolerant.
func (e *EngineError) IsFatal() bool {
	return e.Category == CategoryStructural || e.Category == CategoryStore
}

// ExitCode maps the category to the process exit code.
func (e *EngineError) ExitCode() int {
	switch e.Category {
	case CategoryConfiguration:
		return 2
	case CategoryAmbiguity, CategoryIntegrityGap, CategoryTolerance:
		return 3
	case CategoryStore:
		return 4
	case CategoryStructural:
		return 5
	default:
		return 1
	}
}

// WithContext attaches a key/value pair to the error and returns it.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// New creates an EngineError with a captured stack trace.
func New(category Category, code Code, message string) *EngineError {
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error, preserving it as the cause.
func Wrap(err error, category Category, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Ambiguity creates an ambiguity error listing the competing candidates.
func Ambiguity(code Code, recordID int64, candidateIDs []int64) *EngineError {
	return New(CategoryAmbiguity, code,
		fmt.Sprintf("record %d has %d valid candidates", recordID, len(candidateIDs))).
		WithContext("record_id", recordID).
		WithContext("candidate_ids", candidateIDs)
}

// IntegrityGap creates an integrity-gap error for a missing referenced
// entity. The record is skipped, not failed.
func IntegrityGap(code Code, recordID int64, reference string) *EngineError {
	return New(CategoryIntegrityGap, code,
		fmt.Sprintf("record %d references missing entity %q", recordID, reference)).
		WithContext("record_id", recordID).
		WithContext("reference", reference)
}

// Tolerance creates a tolerance-violation error. Callers treat it as an
// unmatched outcome.
func Tolerance(code Code, recordID int64, detail string) *EngineError {
	return New(CategoryTolerance, code,
		fmt.Sprintf("record %d outside configured window: %s", recordID, detail)).
		WithContext("record_id", recordID)
}

// Structural creates a fatal structural error.
func Structural(code Code, operation string, err error) *EngineError {
	msg := fmt.Sprintf("structural failure during %s", operation)
	if err != nil {
		return Wrap(err, CategoryStructural, code, msg).WithContext("operation", operation)
	}
	return New(CategoryStructural, code, msg).WithContext("operation", operation)
}

// Configuration creates a configuration error.
func Configuration(code Code, setting string, detail string) *EngineError {
	return New(CategoryConfiguration, code,
		fmt.Sprintf("configuration %q: %s", setting, detail)).
		WithContext("setting", setting)
}

// Store wraps a database failure.
func Store(code Code, operation string, err error) *EngineError {
	return Wrap(err, CategoryStore, code,
		fmt.Sprintf("store failure during %s", operation)).
		WithContext("operation", operation)
}

// AsEngineError extracts an EngineError from an error chain.
func AsEngineError(err error) (*EngineError, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}

// IsFatal reports whether any error in the chain aborts the run. Unknown
// error types are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if engineErr, ok := AsEngineError(err); ok {
		return engineErr.IsFatal()
	}
	return true
}

// ExitCode returns the process exit code for an error chain.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if engineErr, ok := AsEngineError(err); ok {
		return engineErr.ExitCode()
	}
	return 1
}

// TruncateReason shortens a failure reason for per-record logging so a
// single bad row cannot flood the audit trail.
func TruncateReason(reason string, max int) string {
	if max <= 0 || len(reason) <= max {
		return reason
	}
	return reason[:max] + "..."
}
