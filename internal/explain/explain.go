// Package explain turns audit records into citizen-readable explanations.
// It only surfaces reasoning the agents already recorded; it never
// re-derives or embellishes a decision after the fact.
package explain

import (
	"context"
	"fmt"
	"strings"

	"github.com/civicflow/civicflow/internal/audit"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/internal/types"
)

// Translator renders an explanation into another language. The AI
// provider satisfies this; explanations work without one.
type Translator interface {
	Translate(ctx context.Context, text, lang string) (string, error)
}

// Explainer builds explanations from the audit trail
type Explainer struct {
	store      storage.Storage
	translator Translator
}

// NewExplainer creates an explainer. The translator may be nil;
// explanations are then always in English.
func NewExplainer(store storage.Storage, translator Translator) (*Explainer, error) {
	if store == nil {
		return nil, fmt.Errorf("explain: storage is required")
	}
	return &Explainer{store: store, translator: translator}, nil
}

// Explain renders one decision record for a citizen in the requested
// language. A translation failure falls back to English rather than
// hiding the explanation.
func (e *Explainer) Explain(ctx context.Context, record *audit.ProcessingStepRecord, lang string) (string, error) {
	if record == nil {
		return "", fmt.Errorf("explain: record is required")
	}
	text := describe(record)
	return e.translate(ctx, text, lang), nil
}

// ExplainIssue renders an issue's whole decision history as one
// citizen-readable narrative.
func (e *Explainer) ExplainIssue(ctx context.Context, cityID, issueID, lang string) (string, error) {
	trail, err := e.store.GetTrail(ctx, cityID, issueID)
	if err != nil {
		return "", err
	}
	if len(trail) == 0 {
		return "", fmt.Errorf("no processing history for issue %s: %w", issueID, types.ErrNotFound)
	}

	var lines []string
	for _, record := range trail {
		if line := describe(record); line != "" {
			lines = append(lines, line)
		}
	}
	return e.translate(ctx, strings.Join(lines, "\n"), lang), nil
}

// GetDecisionAuditTrail returns the issue's raw decision records in
// processing order, for the administrator surfaces.
func (e *Explainer) GetDecisionAuditTrail(ctx context.Context, cityID, issueID string) ([]*audit.ProcessingStepRecord, error) {
	trail, err := e.store.GetTrail(ctx, cityID, issueID)
	if err != nil {
		return nil, err
	}
	if len(trail) == 0 {
		return nil, fmt.Errorf("no audit trail for issue %s: %w", issueID, types.ErrNotFound)
	}
	return trail, nil
}

func (e *Explainer) translate(ctx context.Context, text, lang string) string {
	if lang == "" || lang == "en" || e.translator == nil {
		return text
	}
	translated, err := e.translator.Translate(ctx, text, lang)
	if err != nil || strings.TrimSpace(translated) == "" {
		fmt.Printf("Translation to %q unavailable, returning English\n", lang)
		return text
	}
	return strings.TrimSpace(translated)
}

// describe renders one record. The reasoning recorded at decision time is
// quoted as-is.
func describe(record *audit.ProcessingStepRecord) string {
	switch record.Kind {
	case audit.KindIntake:
		return fmt.Sprintf("Your complaint was received on %s and assigned tracking ID %s.",
			record.StartedAt.Format("2 January 2006"), record.IssueID)
	case audit.KindStep:
		return describeStep(record)
	case audit.KindOverride:
		return fmt.Sprintf("A city administrator reviewed and adjusted this decision: %s", record.Reasoning)
	case audit.KindStatusChange:
		if record.Reasoning == "" {
			return ""
		}
		return fmt.Sprintf("Status update: %s.", record.Reasoning)
	}
	return ""
}

func describeStep(record *audit.ProcessingStepRecord) string {
	action := actionFor(record.AgentType)
	switch record.Outcome {
	case types.StepSucceeded:
		return fmt.Sprintf("%s (confidence %.0f%%): %s", action, record.Confidence*100, record.Reasoning)
	case types.StepFlagged:
		return fmt.Sprintf("%s, but the automated confidence (%.0f%%) was too low to act on alone, so a person will review it: %s",
			action, record.Confidence*100, record.Reasoning)
	case types.StepFailed:
		return fmt.Sprintf("An automated step could not finish on attempt %d and was retried.", record.Attempt)
	case types.StepEscalated:
		return "An automated step could not finish; your complaint was handed to city staff for manual processing."
	}
	return ""
}

func actionFor(agentType types.AgentType) string {
	switch agentType {
	case types.AgentClassifier:
		return "Your complaint was categorized"
	case types.AgentPriorityScorer:
		return "Its severity and urgency were assessed"
	case types.AgentDuplicateDetector:
		return "It was compared with recent reports of the same kind"
	case types.AgentInsightGenerator:
		return "It was included in the city's trend analysis"
	}
	return "An automated step ran"
}
