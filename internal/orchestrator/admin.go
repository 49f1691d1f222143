package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/internal/audit"
	"github.com/civicflow/civicflow/internal/cityconfig"
	"github.com/civicflow/civicflow/internal/types"
)

// GetIssue returns an issue scoped to a city
func (o *Orchestrator) GetIssue(ctx context.Context, cityID, issueID string) (*types.Issue, error) {
	return o.store.GetIssue(ctx, cityID, issueID)
}

// GetWorkflowStatus returns the current workflow state
func (o *Orchestrator) GetWorkflowStatus(ctx context.Context, cityID, workflowID string) (*types.WorkflowState, error) {
	return o.store.GetWorkflow(ctx, cityID, workflowID)
}

// GetAuditTrail returns an issue's complete audit trail
func (o *Orchestrator) GetAuditTrail(ctx context.Context, cityID, issueID string) ([]*audit.ProcessingStepRecord, error) {
	return o.store.GetTrail(ctx, cityID, issueID)
}

// CustomizeWorkflow installs a city's workflow configuration for future
// workflows. In-flight workflows keep the snapshot taken at intake.
func (o *Orchestrator) CustomizeWorkflow(cfg *cityconfig.WorkflowConfig) error {
	if err := o.registry.Install(cfg); err != nil {
		return err
	}
	fmt.Printf("Installed workflow config for %s\n", cfg.CityID)
	return nil
}

// CityConfig returns the effective config for a city
func (o *Orchestrator) CityConfig(cityID string) *cityconfig.WorkflowConfig {
	return o.registry.Snapshot(cityID)
}

// UpdateSimilarityThreshold adjusts a city's duplicate cutoff
func (o *Orchestrator) UpdateSimilarityThreshold(cityID string, threshold float64) error {
	return o.registry.SetSimilarityThreshold(cityID, threshold)
}

// RetryFailedAgent re-runs the step that parked a workflow for
// intervention. Only escalated workflows can be retried, and agentType
// must name the parked step so an administrator acting on stale state
// never retries a different agent; anything else is a caller error. An
// empty agentType means whichever step is parked.
func (o *Orchestrator) RetryFailedAgent(ctx context.Context, cityID, workflowID string, agentType types.AgentType) error {
	state, err := o.store.GetWorkflow(ctx, cityID, workflowID)
	if err != nil {
		return err
	}
	if state.Status != types.WorkflowEscalated {
		return fmt.Errorf("workflow %s is %s, only escalated workflows can be retried: %w",
			workflowID, state.Status, types.ErrInvalidState)
	}
	step := state.CurrentStep()
	if step == nil {
		return fmt.Errorf("workflow %s has no step to retry: %w", workflowID, types.ErrInvalidState)
	}
	if agentType != "" && agentType != step.AgentType {
		return fmt.Errorf("workflow %s is parked on %s, not %s: %w",
			workflowID, step.AgentType, agentType, types.ErrInvalidState)
	}

	issue, err := o.store.GetIssue(ctx, cityID, state.IssueID)
	if err != nil {
		return err
	}

	// Fresh attempt budget for the parked step; the exhausted attempts
	// remain on the audit trail
	step.Attempts = 0
	step.Outcome = types.StepPending
	step.LastError = ""
	state.Status = types.WorkflowRunning
	if err := o.store.SaveWorkflow(ctx, state); err != nil {
		return fmt.Errorf("failed to reopen workflow %s: %w", workflowID, err)
	}
	if err := o.transitionIssue(ctx, issue, state, types.StatusProcessing,
		fmt.Sprintf("administrator retried %s", step.AgentType)); err != nil {
		return err
	}

	fmt.Printf("Retrying %s for workflow %s\n", step.AgentType, workflowID)
	return o.processWorkflow(ctx, issue, state)
}

// RecordOverride applies an administrative override to an AI decision. The
// original record is never edited: the override is appended as its own
// audit event referencing it, then the issue is updated.
func (o *Orchestrator) RecordOverride(ctx context.Context, cityID string, override *types.Override) error {
	if err := override.Validate(); err != nil {
		return err
	}

	issue, err := o.store.GetIssue(ctx, cityID, override.IssueID)
	if err != nil {
		return err
	}
	if override.RecordID != "" {
		if _, err := o.store.GetRecord(ctx, cityID, override.RecordID); err != nil {
			return fmt.Errorf("override references unknown record: %w", err)
		}
	}
	if override.ID == "" {
		override.ID = "ov-" + uuid.New().String()[:8]
	}

	switch override.Field {
	case "status":
		status := types.IssueStatus(override.NewValue)
		if !status.IsValid() {
			return fmt.Errorf("override: unknown status %q: %w", override.NewValue, types.ErrInvalidState)
		}
		issue.Status = status
	case "domain":
		if issue.Classification == nil {
			return fmt.Errorf("issue %s has no classification to override: %w", issue.ID, types.ErrInvalidState)
		}
		issue.Classification.Domain = override.NewValue
		issue.Classification.Reasoning = fmt.Sprintf("overridden by %s: %s", override.Administrator, override.Justification)
	case "severity", "urgency":
		if issue.Priority == nil {
			return fmt.Errorf("issue %s has no priority to override: %w", issue.ID, types.ErrInvalidState)
		}
		value, convErr := strconv.Atoi(override.NewValue)
		if convErr != nil || value < 1 || value > 5 {
			return fmt.Errorf("override: %s must be an integer 1..5 (got %q)", override.Field, override.NewValue)
		}
		if override.Field == "severity" {
			issue.Priority.Severity = value
		} else {
			issue.Priority.Urgency = value
		}
		issue.Priority.Normalize()
	default:
		return fmt.Errorf("override: unsupported field %q", override.Field)
	}

	record := audit.NewOverrideRecord(issue.WorkflowID, override)
	record.CityID = cityID
	if err := o.store.AppendRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to record override for %s: %w", issue.ID, err)
	}
	if err := o.store.UpdateIssue(ctx, issue); err != nil {
		return fmt.Errorf("failed to apply override to %s: %w", issue.ID, err)
	}

	fmt.Printf("Override on %s by %s: %s -> %s\n", issue.ID, override.Administrator, override.Field, override.NewValue)
	return nil
}

// ResumeInflight reconstructs interrupted workflows from their audit
// trails and reschedules them. Called once at startup; returns how many
// workflows were resumed.
func (o *Orchestrator) ResumeInflight(ctx context.Context) (int, error) {
	states, err := o.store.ListResumableWorkflows(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, state := range states {
		trail, err := o.store.GetTrail(ctx, state.CityID, state.IssueID)
		if err != nil {
			return resumed, fmt.Errorf("failed to load trail for %s: %w", state.IssueID, err)
		}
		// The trail is the source of truth: replaying it resolves any gap
		// between a committed step and a stale state snapshot
		if err := audit.Replay(state, trail); err != nil {
			return resumed, fmt.Errorf("failed to replay workflow %s: %w", state.WorkflowID, err)
		}
		if err := o.store.SaveWorkflow(ctx, state); err != nil {
			return resumed, fmt.Errorf("failed to save replayed workflow %s: %w", state.WorkflowID, err)
		}
		if !state.Status.Resumable() {
			// The trail shows the workflow actually finished; settle the
			// issue status it never got to
			if state.Status == types.WorkflowCompleted {
				issue, err := o.store.GetIssue(ctx, state.CityID, state.IssueID)
				if err != nil {
					return resumed, err
				}
				if err := o.finalizeIssue(ctx, issue, state); err != nil {
					return resumed, err
				}
			}
			continue
		}
		fmt.Printf("Resuming workflow %s for issue %s (cursor %d)\n", state.WorkflowID, state.IssueID, state.Cursor)
		o.ProcessAsync(ctx, state.CityID, state.IssueID)
		resumed++
	}
	return resumed, nil
}
