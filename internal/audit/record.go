// Package audit defines the immutable execution log. Every agent
// invocation attempt (success, flagged, retried, escalated) produces
// exactly one ProcessingStepRecord. Records are append-only relative to a
// workflow and never edited or deleted; the transparency and reporting
// surfaces are built on top of them.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/internal/types"
)

// RecordKind distinguishes the audit entry variants sharing one trail.
type RecordKind string

const (
	// KindIntake is written when an issue is accepted, before any agent
	// runs
	KindIntake RecordKind = "intake"
	// KindStep is one agent invocation attempt
	KindStep RecordKind = "step"
	// KindOverride is an administrative override referencing an earlier
	// decision
	KindOverride RecordKind = "override"
	// KindStatusChange is an orchestrator-approved issue status update
	KindStatusChange RecordKind = "status_change"
)

// IsValid checks if the record kind is known
func (k RecordKind) IsValid() bool {
	switch k {
	case KindIntake, KindStep, KindOverride, KindStatusChange:
		return true
	}
	return false
}

// ProcessingStepRecord is the audit unit. Immutable once written.
type ProcessingStepRecord struct {
	// ID is the unique identifier of this record
	ID string `json:"id"`
	// Kind is the record variant
	Kind RecordKind `json:"kind"`
	// WorkflowID is the workflow this record belongs to
	WorkflowID string `json:"workflow_id"`
	// IssueID is the issue being processed
	IssueID string `json:"issue_id"`
	// CityID scopes the record for multi-city isolation
	CityID string `json:"city_id"`
	// AgentType is set for step records
	AgentType types.AgentType `json:"agent_type,omitempty"`
	// Attempt is the 1-based attempt number for this step
	Attempt int `json:"attempt,omitempty"`
	// StartedAt/EndedAt bound the invocation
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	// DurationMs is the execution duration in milliseconds
	DurationMs int64 `json:"duration_ms"`
	// Input is the opaque input payload handed to the agent
	Input json.RawMessage `json:"input,omitempty"`
	// Output is the opaque output payload the agent returned
	Output json.RawMessage `json:"output,omitempty"`
	// Confidence is the agent's confidence in [0,1] (step records)
	Confidence float64 `json:"confidence,omitempty"`
	// Reasoning is the agent's human-readable reasoning
	Reasoning string `json:"reasoning,omitempty"`
	// Success is the attempt's success flag
	Success bool `json:"success"`
	// Outcome is the step outcome this attempt produced
	Outcome types.StepOutcome `json:"outcome,omitempty"`
	// Error holds the error detail; present iff the attempt failed
	Error string `json:"error,omitempty"`
}

// Validate checks the record's internal consistency
func (r *ProcessingStepRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("audit record: id is required")
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("audit record %s: invalid kind %q", r.ID, r.Kind)
	}
	if r.WorkflowID == "" {
		return fmt.Errorf("audit record %s: workflow_id is required", r.ID)
	}
	if r.IssueID == "" {
		return fmt.Errorf("audit record %s: issue_id is required", r.ID)
	}
	if r.Kind == KindStep {
		if !r.AgentType.IsValid() {
			return fmt.Errorf("audit record %s: step record needs a valid agent type (got %q)", r.ID, r.AgentType)
		}
		if r.Attempt < 1 {
			return fmt.Errorf("audit record %s: attempt must be >= 1 (got %d)", r.ID, r.Attempt)
		}
		if r.Confidence < 0.0 || r.Confidence > 1.0 {
			return fmt.Errorf("audit record %s: confidence must be between 0.0 and 1.0 (got %.2f)", r.ID, r.Confidence)
		}
	}
	if r.Success && r.Error != "" {
		return fmt.Errorf("audit record %s: error detail present on a successful attempt", r.ID)
	}
	if !r.Success && r.Kind == KindStep && r.Error == "" {
		return fmt.Errorf("audit record %s: failed attempt needs error detail", r.ID)
	}
	if r.DurationMs < 0 {
		return fmt.Errorf("audit record %s: duration cannot be negative (got %d)", r.ID, r.DurationMs)
	}
	return nil
}

// NewIntakeRecord creates the record written when an issue is accepted,
// before any agent runs.
func NewIntakeRecord(issue *types.Issue) *ProcessingStepRecord {
	input, _ := json.Marshal(issue)
	now := time.Now()
	return &ProcessingStepRecord{
		ID:         uuid.New().String(),
		Kind:       KindIntake,
		WorkflowID: issue.WorkflowID,
		IssueID:    issue.ID,
		CityID:     issue.CityID,
		StartedAt:  now,
		EndedAt:    now,
		Input:      input,
		Reasoning:  "issue accepted at intake",
		Success:    true,
	}
}

// NewStepRecord creates an attempt record for one agent invocation.
// Outcome and error are the attempt's result; exactly one record is
// written per attempt.
func NewStepRecord(wf *types.WorkflowState, agentType types.AgentType, attempt int,
	startedAt, endedAt time.Time, input, output json.RawMessage,
	confidence float64, reasoning string, outcome types.StepOutcome, errDetail string) *ProcessingStepRecord {
	return &ProcessingStepRecord{
		ID:         uuid.New().String(),
		Kind:       KindStep,
		WorkflowID: wf.WorkflowID,
		IssueID:    wf.IssueID,
		CityID:     wf.CityID,
		AgentType:  agentType,
		Attempt:    attempt,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
		DurationMs: endedAt.Sub(startedAt).Milliseconds(),
		Input:      input,
		Output:     output,
		Confidence: confidence,
		Reasoning:  reasoning,
		Success:    outcome.Advances(),
		Outcome:    outcome,
		Error:      errDetail,
	}
}

// NewOverrideRecord creates the audit event for an administrative
// override. It references the original decision record; the original is
// never edited.
func NewOverrideRecord(workflowID string, override *types.Override) *ProcessingStepRecord {
	payload, _ := json.Marshal(override)
	now := time.Now()
	return &ProcessingStepRecord{
		ID:         uuid.New().String(),
		Kind:       KindOverride,
		WorkflowID: workflowID,
		IssueID:    override.IssueID,
		StartedAt:  now,
		EndedAt:    now,
		Input:      payload,
		Reasoning:  override.Justification,
		Success:    true,
	}
}

// NewStatusChangeRecord creates the audit event for an
// orchestrator-approved issue status update.
func NewStatusChangeRecord(wf *types.WorkflowState, from, to types.IssueStatus, reason string) *ProcessingStepRecord {
	payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
	now := time.Now()
	return &ProcessingStepRecord{
		ID:         uuid.New().String(),
		Kind:       KindStatusChange,
		WorkflowID: wf.WorkflowID,
		IssueID:    wf.IssueID,
		CityID:     wf.CityID,
		StartedAt:  now,
		EndedAt:    now,
		Output:     payload,
		Reasoning:  reason,
		Success:    true,
	}
}
