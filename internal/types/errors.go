package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors forming the orchestrator's error taxonomy. Callers use
// errors.Is to distinguish "needs more citizen input" from "needs
// administrator intervention" from "caller programming error".
var (
	// ErrNotFound indicates an unknown workflow or issue id
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the caller attempted an operation the
	// current WorkflowState does not permit
	ErrInvalidState = errors.New("invalid workflow state")
	// ErrInvalidConfig indicates a proposed WorkflowConfig violates the
	// ordering or domain invariants; rejected at configuration time
	ErrInvalidConfig = errors.New("invalid workflow config")
	// ErrWorkflowFailed indicates the workflow failed after exhausting
	// all escalation paths
	ErrWorkflowFailed = errors.New("workflow failed")
	// ErrEscalationRequired indicates retries were exhausted or a
	// business rule escalated; the workflow is parked, not failed
	ErrEscalationRequired = errors.New("escalation required")
)

// ValidationError reports malformed or incomplete citizen input. It never
// causes a submission to be rejected: the orchestrator preserves what was
// submitted and the intake surface prompts for the missing details.
type ValidationError struct {
	// MissingFields lists fields the citizen should be prompted for
	MissingFields []string
	// Message is an optional human-readable summary
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("submission incomplete: missing %s", strings.Join(e.MissingFields, ", "))
	}
	return "submission incomplete"
}

// AsValidationError unwraps a ValidationError if err carries one
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// NeedsCitizenInput reports whether err means the citizen should be
// prompted for more detail (the submission itself was still accepted)
func NeedsCitizenInput(err error) bool {
	_, ok := AsValidationError(err)
	return ok
}

// NeedsIntervention reports whether err means an administrator must act
func NeedsIntervention(err error) bool {
	return errors.Is(err, ErrEscalationRequired) || errors.Is(err, ErrWorkflowFailed)
}

// IsCallerError reports whether err indicates a caller programming error
// rather than a processing outcome
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrNotFound)
}
