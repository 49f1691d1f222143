package audit

import (
	"fmt"
	"sort"

	"github.com/civicflow/civicflow/internal/types"
)

// Replay reconstructs a workflow's step outcomes from its audit trail.
// The trail is the source of truth after a crash: a step's success and its
// record become visible atomically, so replaying the records in timestamp
// order yields the exact final WorkflowState without re-invoking any
// agent whose outcome was already committed.
//
// The supplied state carries the configured step order (from the
// workflow's config snapshot); its Steps, Cursor and Status are
// overwritten with the replayed values.
func Replay(state *types.WorkflowState, records []*ProcessingStepRecord) error {
	if state == nil {
		return fmt.Errorf("replay: state is required")
	}

	// Reset to pristine, then apply attempts in order
	for i := range state.Steps {
		state.Steps[i] = types.StepState{AgentType: state.Steps[i].AgentType, Outcome: types.StepPending}
	}

	steps := make([]*ProcessingStepRecord, 0, len(records))
	for _, r := range records {
		if r.Kind != KindStep {
			continue
		}
		if r.WorkflowID != state.WorkflowID {
			return fmt.Errorf("replay: record %s belongs to workflow %s, not %s", r.ID, r.WorkflowID, state.WorkflowID)
		}
		steps = append(steps, r)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StartedAt.Before(steps[j].StartedAt)
	})

	for _, r := range steps {
		step := state.StepFor(r.AgentType)
		if step == nil {
			return fmt.Errorf("replay: record %s names agent %q not present in workflow %s",
				r.ID, r.AgentType, state.WorkflowID)
		}
		step.Attempts++
		step.Outcome = r.Outcome
		if r.Success {
			step.Confidence = r.Confidence
			step.LastError = ""
		} else {
			step.LastError = r.Error
		}
	}

	// Cursor sits after the longest prefix of advanced steps
	cursor := 0
	for cursor < len(state.Steps) && state.Steps[cursor].Outcome.Advances() {
		cursor++
	}
	state.Cursor = cursor
	state.Status = deriveStatus(state)
	return nil
}

// deriveStatus computes the workflow status implied by the step outcomes
func deriveStatus(state *types.WorkflowState) types.WorkflowStatus {
	for i := range state.Steps {
		if state.Steps[i].Outcome == types.StepEscalated {
			return types.WorkflowEscalated
		}
	}
	if state.Cursor >= len(state.Steps) {
		return types.WorkflowCompleted
	}
	if current := state.CurrentStep(); current != nil && current.Outcome == types.StepFailed {
		return types.WorkflowWaitingRetry
	}
	return types.WorkflowRunning
}
