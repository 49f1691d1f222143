package types

import (
	"fmt"
	"time"
)

// AgentType identifies the capability a workflow step invokes.
type AgentType string

const (
	// AgentClassifier classifies the complaint into a city domain
	AgentClassifier AgentType = "classifier"
	// AgentPriorityScorer scores severity and urgency
	AgentPriorityScorer AgentType = "priority_scorer"
	// AgentDuplicateDetector finds and links similar issues
	AgentDuplicateDetector AgentType = "duplicate_detector"
	// AgentInsightGenerator produces aggregate insights; not part of the
	// per-issue hot path but kept in the enum so configs can name it
	AgentInsightGenerator AgentType = "insight_generator"
)

// IsValid checks if the agent type is known
func (a AgentType) IsValid() bool {
	switch a {
	case AgentClassifier, AgentPriorityScorer, AgentDuplicateDetector, AgentInsightGenerator:
		return true
	}
	return false
}

// WorkflowStatus represents the overall status of a workflow.
type WorkflowStatus string

const (
	// WorkflowRunning means steps are being executed
	WorkflowRunning WorkflowStatus = "running"
	// WorkflowWaitingRetry means the current step failed and is waiting
	// for its next backoff attempt
	WorkflowWaitingRetry WorkflowStatus = "waiting_retry"
	// WorkflowEscalated means retries were exhausted; the workflow is
	// parked for human intervention, not failed
	WorkflowEscalated WorkflowStatus = "escalated"
	// WorkflowCompleted means every configured step reached a terminal
	// success or accepted-with-flag outcome
	WorkflowCompleted WorkflowStatus = "completed"
	// WorkflowFailed means the workflow failed after exhausting all
	// escalation paths
	WorkflowFailed WorkflowStatus = "failed"
)

// IsValid checks if the workflow status value is valid
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowRunning, WorkflowWaitingRetry, WorkflowEscalated, WorkflowCompleted, WorkflowFailed:
		return true
	}
	return false
}

// IsTerminal returns true when the workflow will not advance automatically
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// Resumable returns true for statuses that are replayed on process restart
func (s WorkflowStatus) Resumable() bool {
	return s == WorkflowRunning || s == WorkflowWaitingRetry
}

// StepOutcome is the per-step outcome within a workflow.
type StepOutcome string

const (
	// StepPending means the step has not run yet
	StepPending StepOutcome = "pending"
	// StepSucceeded means the agent succeeded and the result was accepted
	StepSucceeded StepOutcome = "succeeded"
	// StepFlagged means the agent succeeded below the confidence
	// threshold; the workflow still advances but the issue carries a
	// manual-review marker
	StepFlagged StepOutcome = "flagged"
	// StepFailed means the last invocation attempt failed
	StepFailed StepOutcome = "failed"
	// StepEscalated means retries were exhausted for this step
	StepEscalated StepOutcome = "escalated"
)

// Advances reports whether the cursor may move past a step with this
// outcome. Only terminal success or accepted-with-flag advance the cursor.
func (o StepOutcome) Advances() bool {
	return o == StepSucceeded || o == StepFlagged
}

// StepState holds the execution state of a single agent step.
type StepState struct {
	AgentType AgentType   `json:"agent_type"`
	Outcome   StepOutcome `json:"outcome"`
	// Attempts is the number of invocation attempts made so far
	Attempts int `json:"attempts"`
	// Confidence is the confidence of the last successful attempt
	Confidence float64 `json:"confidence,omitempty"`
	// LastError holds the error of the last failed attempt
	LastError string `json:"last_error,omitempty"`
}

// WorkflowState is the durable per-issue execution state that enables
// resumption after partial failure. It is persisted transactionally with
// each step's audit record, so a crash between "agent succeeded" and
// "state advanced" is resolved on recovery by replaying the audit trail.
type WorkflowState struct {
	WorkflowID string `json:"workflow_id"`
	IssueID    string `json:"issue_id"`
	CityID     string `json:"city_id"`
	// Steps is the ordered list of agent steps to run (a snapshot of the
	// city config taken at intake; later config changes never affect an
	// in-flight workflow)
	Steps []StepState `json:"steps"`
	// Cursor is the index of the next step to execute. It only advances
	// when a step reaches an outcome with Advances() == true.
	Cursor int            `json:"cursor"`
	Status WorkflowStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState builds the initial state for an issue from the
// configured step order.
func NewWorkflowState(workflowID, issueID, cityID string, order []AgentType) *WorkflowState {
	steps := make([]StepState, len(order))
	for i, at := range order {
		steps[i] = StepState{AgentType: at, Outcome: StepPending}
	}
	now := time.Now()
	return &WorkflowState{
		WorkflowID: workflowID,
		IssueID:    issueID,
		CityID:     cityID,
		Steps:      steps,
		Cursor:     0,
		Status:     WorkflowRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CurrentStep returns the step at the cursor, or nil when the cursor is
// past the last step.
func (w *WorkflowState) CurrentStep() *StepState {
	if w.Cursor < 0 || w.Cursor >= len(w.Steps) {
		return nil
	}
	return &w.Steps[w.Cursor]
}

// StepFor returns the step state for an agent type, or nil if the agent is
// not part of this workflow.
func (w *WorkflowState) StepFor(agentType AgentType) *StepState {
	for i := range w.Steps {
		if w.Steps[i].AgentType == agentType {
			return &w.Steps[i]
		}
	}
	return nil
}

// Validate checks structural invariants on the workflow state
func (w *WorkflowState) Validate() error {
	if w.WorkflowID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if w.IssueID == "" {
		return fmt.Errorf("workflow %s: issue_id is required", w.WorkflowID)
	}
	if !w.Status.IsValid() {
		return fmt.Errorf("workflow %s: invalid status %q", w.WorkflowID, w.Status)
	}
	if w.Cursor < 0 || w.Cursor > len(w.Steps) {
		return fmt.Errorf("workflow %s: cursor %d out of range (steps: %d)", w.WorkflowID, w.Cursor, len(w.Steps))
	}
	for i, step := range w.Steps {
		if !step.AgentType.IsValid() {
			return fmt.Errorf("workflow %s: step %d has invalid agent type %q", w.WorkflowID, i, step.AgentType)
		}
		// Steps before the cursor must have reached an advancing outcome
		if i < w.Cursor && !step.Outcome.Advances() {
			return fmt.Errorf("workflow %s: cursor %d is past step %d with outcome %q",
				w.WorkflowID, w.Cursor, i, step.Outcome)
		}
	}
	return nil
}
