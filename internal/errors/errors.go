// Package errors provides structured error types for forge.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for forge operations.
const (
	// Workflow errors
	CodeInvalidTransition  = "WF_001" // Step transition violates the state machine
	CodeVerificationFailed = "WF_002" // Step completed but expected artifacts are absent
	CodeStepNotFound       = "WF_003" // Step index out of range
	CodeWorkflowBusy       = "WF_004" // Another step is already in progress

	// Evaluator errors
	CodeEvaluatorMalformed = "EVAL_001" // Gate or judge output does not parse
	CodeEvaluationAborted  = "EVAL_002" // Both sides of an A/B pair failed

	// Lock errors
	CodeLockConflict = "LOCK_001" // Another session holds the skill lock

	// Run errors
	CodeRunFailed   = "RUN_001" // External agent run terminated with error
	CodeRunShutdown = "RUN_002" // External agent run was shut down by its host
	CodeRunNotFound = "RUN_003" // Run ID not tracked by the registry

	// Config errors
	CodeConfigMissingField = "CONFIG_001" // Missing required field
	CodeConfigInvalidValue = "CONFIG_002" // Invalid value

	// IO errors
	CodeIOFileNotFound = "IO_001" // File not found
	CodeIOReadError    = "IO_002" // Read error
	CodeIOWriteError   = "IO_003" // Write error
)

// ForgeError is the structured error type for forge operations.
type ForgeError struct {
	Code    string         `json:"code"`              // Error code (e.g., "WF_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (skill_id, step, etc.)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *ForgeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ForgeError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *ForgeError) WithDetail(key string, value any) *ForgeError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *ForgeError) WithCause(err error) *ForgeError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *ForgeError) MarshalJSON() ([]byte, error) {
	type alias ForgeError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new ForgeError.
func New(code, message string) *ForgeError {
	return &ForgeError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new ForgeError with formatted message.
func Newf(code, format string, args ...any) *ForgeError {
	return &ForgeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a ForgeError.
func Wrap(code, message string, err error) *ForgeError {
	return &ForgeError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// --- Workflow Errors ---

// InvalidTransition creates an error for an invalid step status transition.
func InvalidTransition(skillID string, step int, from, to string) *ForgeError {
	return Newf(CodeInvalidTransition, "invalid transition for step %d: %s -> %s", step, from, to).
		WithDetail("skill_id", skillID).
		WithDetail("step", step).
		WithDetail("from", from).
		WithDetail("to", to)
}

// VerificationFailed creates an error for a step whose outputs are missing.
func VerificationFailed(skillID string, step int, missing []string) *ForgeError {
	return Newf(CodeVerificationFailed, "step %d completed but outputs are missing", step).
		WithDetail("skill_id", skillID).
		WithDetail("step", step).
		WithDetail("missing", missing)
}

// StepNotFound creates an error for a step index out of range.
func StepNotFound(skillID string, step int) *ForgeError {
	return Newf(CodeStepNotFound, "step %d not found", step).
		WithDetail("skill_id", skillID).
		WithDetail("step", step)
}

// WorkflowBusy creates an error for starting a step while another is in progress.
func WorkflowBusy(skillID string, activeStep int) *ForgeError {
	return Newf(CodeWorkflowBusy, "step %d is already in progress", activeStep).
		WithDetail("skill_id", skillID).
		WithDetail("active_step", activeStep)
}

// --- Evaluator Errors ---

// EvaluatorMalformed creates an error for unparseable evaluator output.
func EvaluatorMalformed(kind string, err error) *ForgeError {
	return Wrap(CodeEvaluatorMalformed, "evaluator output does not parse", err).
		WithDetail("evaluator", kind)
}

// EvaluationAborted creates an error for a double A/B failure.
func EvaluationAborted(baselineReason, treatmentReason string) *ForgeError {
	return New(CodeEvaluationAborted, "both comparison runs failed").
		WithDetail("baseline", baselineReason).
		WithDetail("treatment", treatmentReason)
}

// --- Lock Errors ---

// LockConflict creates an error for a skill lock held by another session.
func LockConflict(skillID string) *ForgeError {
	return Newf(CodeLockConflict, "skill %s is locked by another session", skillID).
		WithDetail("skill_id", skillID)
}

// --- Run Errors ---

// RunFailed creates an error for a run that terminated with error status.
func RunFailed(runID string) *ForgeError {
	return Newf(CodeRunFailed, "run %s failed", runID).
		WithDetail("run_id", runID)
}

// RunShutdown creates an error for a run shut down by its host.
func RunShutdown(runID string) *ForgeError {
	return Newf(CodeRunShutdown, "run %s was shut down", runID).
		WithDetail("run_id", runID)
}

// RunNotFound creates an error for an untracked run ID.
func RunNotFound(runID string) *ForgeError {
	return Newf(CodeRunNotFound, "run not found: %s", runID).
		WithDetail("run_id", runID)
}

// --- Config Errors ---

// ConfigMissingField creates an error for missing config field.
func ConfigMissingField(field string) *ForgeError {
	return Newf(CodeConfigMissingField, "missing required config field: %s", field).
		WithDetail("field", field)
}

// ConfigInvalidValue creates an error for invalid config value.
func ConfigInvalidValue(field string, value any, reason string) *ForgeError {
	return Newf(CodeConfigInvalidValue, "invalid config value for %s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// --- IO Errors ---

// IOFileNotFound creates an error for missing file.
func IOFileNotFound(path string) *ForgeError {
	return Newf(CodeIOFileNotFound, "file not found: %s", path).
		WithDetail("path", path)
}

// IOReadError creates an error for read failures.
func IOReadError(path string, err error) *ForgeError {
	return Wrap(CodeIOReadError, "failed to read file", err).
		WithDetail("path", path)
}

// IOWriteError creates an error for write failures.
func IOWriteError(path string, err error) *ForgeError {
	return Wrap(CodeIOWriteError, "failed to write file", err).
		WithDetail("path", path)
}

// HasCode checks if an error is a ForgeError with the given code.
// It handles wrapped errors by unwrapping to find a ForgeError.
func HasCode(err error, code string) bool {
	var ferr *ForgeError
	if errors.As(err, &ferr) {
		return ferr.Code == code
	}
	return false
}

// Code returns the error code if err is a ForgeError, empty string otherwise.
func Code(err error) string {
	var ferr *ForgeError
	if errors.As(err, &ferr) {
		return ferr.Code
	}
	return ""
}
