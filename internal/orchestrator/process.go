package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/civicflow/civicflow/internal/agents"
	"github.com/civicflow/civicflow/internal/audit"
	"github.com/civicflow/civicflow/internal/cityconfig"
	"github.com/civicflow/civicflow/internal/policy"
	"github.com/civicflow/civicflow/internal/types"
)

// processWorkflow advances a workflow step by step until it completes,
// escalates, or the context is canceled. Each invocation attempt commits
// its audit record and the updated state in one transaction before the
// next attempt starts.
func (o *Orchestrator) processWorkflow(ctx context.Context, issue *types.Issue, state *types.WorkflowState) error {
	if state.Status.IsTerminal() {
		return fmt.Errorf("workflow %s already %s: %w", state.WorkflowID, state.Status, types.ErrInvalidState)
	}
	if state.Status == types.WorkflowEscalated {
		return fmt.Errorf("workflow %s is parked for intervention, use RetryFailedAgent: %w",
			state.WorkflowID, types.ErrInvalidState)
	}
	cfg := o.configFor(state)

	if issue.Status == types.StatusReceived {
		if err := o.transitionIssue(ctx, issue, state, types.StatusProcessing, "workflow started"); err != nil {
			return err
		}
	}

	for state.Cursor < len(state.Steps) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("workflow %s interrupted: %w", state.WorkflowID, err)
		}
		if err := o.runStep(ctx, issue, state, cfg); err != nil {
			return err
		}
	}

	state.Status = types.WorkflowCompleted
	if err := o.store.SaveWorkflow(ctx, state); err != nil {
		return fmt.Errorf("failed to complete workflow %s: %w", state.WorkflowID, err)
	}
	o.forget(state.WorkflowID)
	return o.finalizeIssue(ctx, issue, state)
}

// runStep executes the step at the cursor through its attempt/backoff
// budget. On an advancing outcome the cursor moves and the result is
// applied to the issue; on exhaustion the workflow parks for intervention.
func (o *Orchestrator) runStep(ctx context.Context, issue *types.Issue, state *types.WorkflowState, cfg *cityconfig.WorkflowConfig) error {
	step := state.CurrentStep()
	agentType := step.AgentType
	threshold := cfg.ThresholdFor(agentType)
	backoff := backoffFor(cfg, step.Attempts)

	for step.Attempts < cfg.MaxAttempts {
		attempt := step.Attempts + 1
		req := &agents.Request{
			Issue:   issue,
			Context: &agents.Context{Classification: issue.Classification, Priority: issue.Priority},
			Config:  cfg,
		}

		started := time.Now()
		result, err := o.dispatcher.Invoke(ctx, agentType, req, cfg.StepTimeout)
		ended := time.Now()

		if err != nil {
			retriable := agents.IsRetriable(err)
			exhausted := attempt >= cfg.MaxAttempts || !retriable

			outcome := types.StepFailed
			if exhausted {
				outcome = types.StepEscalated
			}
			step.Attempts = attempt
			step.Outcome = outcome
			step.LastError = err.Error()
			if exhausted {
				state.Status = types.WorkflowEscalated
			} else {
				state.Status = types.WorkflowWaitingRetry
			}

			record := audit.NewStepRecord(state, agentType, attempt, started, ended,
				req.Payload(), nil, 0, "", outcome, err.Error())
			if commitErr := o.store.CommitStep(ctx, record, state); commitErr != nil {
				return fmt.Errorf("failed to commit failed attempt for %s: %w", issue.ID, commitErr)
			}

			if exhausted {
				if !retriable {
					fmt.Printf("Workflow %s: %s failed non-retriably, parking for intervention: %v\n",
						state.WorkflowID, agentType, err)
				} else {
					fmt.Printf("Workflow %s: %s exhausted %d attempts, parking for intervention\n",
						state.WorkflowID, agentType, attempt)
				}
				if trErr := o.transitionIssue(ctx, issue, state, types.StatusPendingIntervention,
					fmt.Sprintf("%s failed after %d attempts", agentType, attempt)); trErr != nil {
					return trErr
				}
				return fmt.Errorf("workflow %s: step %s: %w", state.WorkflowID, agentType, types.ErrEscalationRequired)
			}

			fmt.Printf("Workflow %s: %s attempt %d/%d failed, retrying in %v: %v\n",
				state.WorkflowID, agentType, attempt, cfg.MaxAttempts, backoff, err)
			if sleepErr := o.sleep(ctx, backoff); sleepErr != nil {
				return fmt.Errorf("workflow %s interrupted during backoff: %w", state.WorkflowID, sleepErr)
			}
			backoff = nextBackoff(backoff, cfg)
			continue
		}

		// The invocation succeeded; the confidence policy decides how the
		// result is treated. Low confidence advances with a flag, it is
		// never an error.
		var decision policy.Outcome
		if agentType == types.AgentPriorityScorer {
			decision = policy.EvaluatePriority(result.Priority, result.Confidence, threshold)
		} else {
			decision = policy.Evaluate(result.Confidence, threshold)
		}

		outcome := types.StepSucceeded
		if decision == policy.Flag {
			outcome = types.StepFlagged
		}
		step.Attempts = attempt
		step.Outcome = outcome
		step.Confidence = result.Confidence
		step.LastError = ""
		state.Cursor++
		if state.Cursor >= len(state.Steps) {
			state.Status = types.WorkflowCompleted
		} else {
			state.Status = types.WorkflowRunning
		}

		record := audit.NewStepRecord(state, agentType, attempt, started, ended,
			req.Payload(), result.Payload(), result.Confidence, result.Reasoning, outcome, "")
		if commitErr := o.store.CommitStep(ctx, record, state); commitErr != nil {
			return fmt.Errorf("failed to commit step for %s: %w", issue.ID, commitErr)
		}

		return o.applyResult(ctx, issue, state, result, decision)
	}

	// Attempts were already exhausted when we got here (resumed state)
	state.Status = types.WorkflowEscalated
	if err := o.store.SaveWorkflow(ctx, state); err != nil {
		return fmt.Errorf("failed to park workflow %s: %w", state.WorkflowID, err)
	}
	return fmt.Errorf("workflow %s: step %s: %w", state.WorkflowID, agentType, types.ErrEscalationRequired)
}

// applyResult folds an accepted or flagged step result into the issue
func (o *Orchestrator) applyResult(ctx context.Context, issue *types.Issue, state *types.WorkflowState, result *agents.Result, decision policy.Outcome) error {
	changed := false
	if result.Classification != nil {
		issue.Classification = result.Classification
		changed = true
	}
	if result.Priority != nil {
		issue.Priority = result.Priority
		changed = true
	}
	if changed {
		if err := o.store.UpdateIssue(ctx, issue); err != nil {
			return fmt.Errorf("failed to apply result to %s: %w", issue.ID, err)
		}
	}

	// A business-rule escalation routes the issue to the urgent queue
	// immediately; the remaining steps still run so duplicates are linked
	// and the trail stays complete.
	if decision == policy.Escalate && issue.Status != types.StatusEscalated {
		reason := "severity or urgency at 4 or above"
		if result.Priority != nil {
			reason = fmt.Sprintf("severity %d, urgency %d", result.Priority.Severity, result.Priority.Urgency)
		}
		if err := o.transitionIssue(ctx, issue, state, types.StatusEscalated, reason); err != nil {
			return err
		}
	}

	// A positive duplicate determination links the issue to the primary
	if len(result.Similar) > 0 && result.Similar[0].IsDuplicate {
		primaryID := result.Similar[0].CandidateID
		if err := o.store.LinkDuplicate(ctx, issue.CityID, issue.ID, primaryID); err != nil {
			return fmt.Errorf("failed to link %s as duplicate of %s: %w", issue.ID, primaryID, err)
		}
		record := audit.NewStatusChangeRecord(state, issue.Status, types.StatusDuplicate,
			fmt.Sprintf("linked as duplicate of %s (score %.2f)", primaryID, result.Similar[0].Score))
		if err := o.store.AppendRecord(ctx, record); err != nil {
			return fmt.Errorf("failed to record duplicate link for %s: %w", issue.ID, err)
		}
		issue.Status = types.StatusDuplicate
		issue.DuplicateOf = primaryID
		fmt.Printf("Issue %s linked as duplicate of %s\n", issue.ID, primaryID)
	}
	return nil
}

// finalizeIssue settles the issue's resting status once the workflow has
// completed. Duplicate and escalated take precedence; any flagged step
// leaves the issue in manual review.
func (o *Orchestrator) finalizeIssue(ctx context.Context, issue *types.Issue, state *types.WorkflowState) error {
	if issue.Status == types.StatusDuplicate || issue.Status == types.StatusEscalated {
		return nil
	}

	final := types.StatusProcessed
	reason := "all workflow steps completed"
	for _, step := range state.Steps {
		if step.Outcome == types.StepFlagged {
			final = types.StatusPendingReview
			reason = fmt.Sprintf("%s confidence %.2f below threshold", step.AgentType, step.Confidence)
			break
		}
	}
	return o.transitionIssue(ctx, issue, state, final, reason)
}

// transitionIssue performs an orchestrator-approved status update and
// records it in the audit trail.
func (o *Orchestrator) transitionIssue(ctx context.Context, issue *types.Issue, state *types.WorkflowState, to types.IssueStatus, reason string) error {
	from := issue.Status
	if from == to {
		return nil
	}
	issue.Status = to
	if err := o.store.UpdateIssue(ctx, issue); err != nil {
		issue.Status = from
		return fmt.Errorf("failed to transition %s to %s: %w", issue.ID, to, err)
	}
	if err := o.store.AppendRecord(ctx, audit.NewStatusChangeRecord(state, from, to, reason)); err != nil {
		return fmt.Errorf("failed to record status change for %s: %w", issue.ID, err)
	}
	return nil
}

// backoffFor resumes the backoff schedule at the right point when a
// workflow restarts with prior attempts on record
func backoffFor(cfg *cityconfig.WorkflowConfig, attempts int) time.Duration {
	backoff := cfg.InitialBackoff
	for i := 0; i < attempts; i++ {
		backoff = nextBackoff(backoff, cfg)
	}
	return backoff
}

func nextBackoff(backoff time.Duration, cfg *cityconfig.WorkflowConfig) time.Duration {
	next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
	if next > cfg.MaxBackoff {
		next = cfg.MaxBackoff
	}
	return next
}
