package types

import (
	"testing"
)

func TestNewWorkflowState(t *testing.T) {
	order := []AgentType{AgentClassifier, AgentPriorityScorer, AgentDuplicateDetector}
	w := NewWorkflowState("wf-1", "cf-1", "bengaluru", order)

	if w.Status != WorkflowRunning {
		t.Errorf("initial status = %q, want %q", w.Status, WorkflowRunning)
	}
	if w.Cursor != 0 {
		t.Errorf("initial cursor = %d, want 0", w.Cursor)
	}
	if len(w.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(w.Steps))
	}
	for i, at := range order {
		if w.Steps[i].AgentType != at {
			t.Errorf("step %d = %q, want %q", i, w.Steps[i].AgentType, at)
		}
		if w.Steps[i].Outcome != StepPending {
			t.Errorf("step %d outcome = %q, want pending", i, w.Steps[i].Outcome)
		}
	}
	if err := w.Validate(); err != nil {
		t.Errorf("fresh state failed validation: %v", err)
	}
}

func TestCurrentStep(t *testing.T) {
	w := NewWorkflowState("wf-1", "cf-1", "c", []AgentType{AgentClassifier, AgentPriorityScorer})

	if got := w.CurrentStep(); got == nil || got.AgentType != AgentClassifier {
		t.Fatalf("CurrentStep() = %v, want classifier", got)
	}

	w.Steps[0].Outcome = StepSucceeded
	w.Cursor = 1
	if got := w.CurrentStep(); got == nil || got.AgentType != AgentPriorityScorer {
		t.Fatalf("CurrentStep() after advance = %v, want priority_scorer", got)
	}

	w.Steps[1].Outcome = StepFlagged
	w.Cursor = 2
	if got := w.CurrentStep(); got != nil {
		t.Errorf("CurrentStep() past end = %v, want nil", got)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("completed cursor position failed validation: %v", err)
	}
}

func TestWorkflowValidateCursorInvariant(t *testing.T) {
	w := NewWorkflowState("wf-1", "cf-1", "c", []AgentType{AgentClassifier, AgentPriorityScorer})

	// Cursor past a step that never reached an advancing outcome
	w.Cursor = 1
	if err := w.Validate(); err == nil {
		t.Error("expected validation error: cursor past pending step")
	}

	w.Steps[0].Outcome = StepFailed
	if err := w.Validate(); err == nil {
		t.Error("expected validation error: cursor past failed step")
	}

	w.Steps[0].Outcome = StepFlagged
	if err := w.Validate(); err != nil {
		t.Errorf("flagged steps advance the cursor: %v", err)
	}

	w.Cursor = 3
	if err := w.Validate(); err == nil {
		t.Error("expected validation error: cursor out of range")
	}
}

func TestStepOutcomeAdvances(t *testing.T) {
	advancing := map[StepOutcome]bool{
		StepPending:   false,
		StepSucceeded: true,
		StepFlagged:   true,
		StepFailed:    false,
		StepEscalated: false,
	}
	for outcome, want := range advancing {
		if got := outcome.Advances(); got != want {
			t.Errorf("%q.Advances() = %t, want %t", outcome, got, want)
		}
	}
}

func TestWorkflowStatusHelpers(t *testing.T) {
	if !WorkflowRunning.Resumable() || !WorkflowWaitingRetry.Resumable() {
		t.Error("running and waiting_retry must be resumable")
	}
	if WorkflowEscalated.Resumable() {
		t.Error("escalated workflows resume only via explicit retry, not restart replay")
	}
	if !WorkflowCompleted.IsTerminal() || !WorkflowFailed.IsTerminal() {
		t.Error("completed and failed are terminal")
	}
	if WorkflowEscalated.IsTerminal() {
		t.Error("escalated is parked, not terminal")
	}
}
