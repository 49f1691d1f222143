// Package policy implements the confidence policy: the single place that
// maps an agent's confidence score to an orchestration outcome.
//
// The same branching used to be replicated per agent; it is factored here
// so every step is judged uniformly. Low confidence is never an error;
// it is a normal result that routes the issue to manual review while the
// workflow keeps advancing.
package policy

import (
	"fmt"

	"github.com/civicflow/civicflow/internal/types"
)

// Outcome is the policy decision for one agent result.
type Outcome string

const (
	// Accept means the result met the threshold and the step advances
	Accept Outcome = "accept"
	// Flag means the result fell below the threshold; the step still
	// advances but the issue gains a manual-review marker
	Flag Outcome = "flag"
	// Escalate means a business rule routed the issue to a human queue
	Escalate Outcome = "escalate"
)

// Evaluate maps (confidence, threshold) to an outcome. Pure function.
func Evaluate(confidence, threshold float64) Outcome {
	if confidence >= threshold {
		return Accept
	}
	return Flag
}

// EvaluatePriority applies the business-rule escalation on top of the
// confidence policy: severity or urgency >= 4 escalates regardless of how
// confident the scorer was.
func EvaluatePriority(score *types.PriorityScore, confidence, threshold float64) Outcome {
	if score != nil && types.RequiresEscalation(score.Severity, score.Urgency) {
		return Escalate
	}
	return Evaluate(confidence, threshold)
}

// ValidateThreshold checks a configured confidence threshold
func ValidateThreshold(threshold float64) error {
	if threshold < 0.0 || threshold > 1.0 {
		return fmt.Errorf("confidence threshold must be between 0.0 and 1.0 (got %.2f)", threshold)
	}
	return nil
}
