package types

import (
	"fmt"
	"math"
)

// Classification is the classifier agent's decision for an issue.
type Classification struct {
	// Domain is one of the city's configured domains
	Domain string `json:"domain"`
	// Confidence is the agent's confidence in [0,1]. Low confidence is
	// not an error; it is interpreted by the confidence policy.
	Confidence float64 `json:"confidence"`
	// Reasoning is the human-readable explanation; always non-empty
	Reasoning string `json:"reasoning"`
	// Alternatives is the ranked list of other plausible domains
	Alternatives []string `json:"alternatives,omitempty"`
}

// Validate checks bounds and required fields
func (c *Classification) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("classification: domain is required")
	}
	if c.Confidence < 0.0 || c.Confidence > 1.0 {
		return fmt.Errorf("classification: confidence must be between 0.0 and 1.0 (got %.2f)", c.Confidence)
	}
	if c.Reasoning == "" {
		return fmt.Errorf("classification: reasoning must be non-empty")
	}
	return nil
}

// PriorityScore is the priority scorer agent's decision.
type PriorityScore struct {
	// Severity is how harmful the issue is, integer 1..5
	Severity int `json:"severity"`
	// Urgency is how time-critical the issue is, integer 1..5
	Urgency int `json:"urgency"`
	// Overall is a monotonic composite of severity and urgency, 1..5
	Overall int `json:"overall"`
	// Reasoning is the human-readable explanation
	Reasoning string `json:"reasoning"`
	// EscalationRequired is a pure function of severity and urgency:
	// true iff either is >= 4. The orchestrator trusts this flag for
	// immediate-escalation routing.
	EscalationRequired bool `json:"escalation_required"`
}

// OverallPriority computes the monotonic composite used for Overall.
// Severity weighs double urgency; result is clamped to 1..5.
func OverallPriority(severity, urgency int) int {
	overall := int(math.Round(float64(2*severity+urgency) / 3.0))
	if overall < 1 {
		overall = 1
	}
	if overall > 5 {
		overall = 5
	}
	return overall
}

// RequiresEscalation reports the business-rule escalation condition
func RequiresEscalation(severity, urgency int) bool {
	return severity >= 4 || urgency >= 4
}

// Normalize recomputes the derived fields from severity and urgency.
// Provider outputs pass through this so the derived fields are never
// trusted from the wire.
func (p *PriorityScore) Normalize() {
	p.Overall = OverallPriority(p.Severity, p.Urgency)
	p.EscalationRequired = RequiresEscalation(p.Severity, p.Urgency)
}

// Validate checks bounds and derived-field consistency
func (p *PriorityScore) Validate() error {
	if p.Severity < 1 || p.Severity > 5 {
		return fmt.Errorf("priority: severity must be between 1 and 5 (got %d)", p.Severity)
	}
	if p.Urgency < 1 || p.Urgency > 5 {
		return fmt.Errorf("priority: urgency must be between 1 and 5 (got %d)", p.Urgency)
	}
	if p.EscalationRequired != RequiresEscalation(p.Severity, p.Urgency) {
		return fmt.Errorf("priority: escalation_required=%t inconsistent with severity=%d urgency=%d",
			p.EscalationRequired, p.Severity, p.Urgency)
	}
	if p.Reasoning == "" {
		return fmt.Errorf("priority: reasoning must be non-empty")
	}
	return nil
}

// SimilaritySignal names a contributing similarity factor.
type SimilaritySignal string

const (
	// SignalLocation is geographic proximity
	SignalLocation SimilaritySignal = "location"
	// SignalDomain is categorical domain equality
	SignalDomain SimilaritySignal = "domain"
	// SignalTime is temporal proximity
	SignalTime SimilaritySignal = "time"
)

// FactorContribution records how much one signal contributed to a
// similarity score, for transparency.
type FactorContribution struct {
	Signal SimilaritySignal `json:"signal"`
	// Weight is the configured weight of this signal
	Weight float64 `json:"weight"`
	// Contribution is weight * signal score, so the sum of contributions
	// equals the composite score
	Contribution float64 `json:"contribution"`
}

// SimilarityResult is the duplicate detector's decision for one candidate.
type SimilarityResult struct {
	// CandidateID is the existing issue compared against
	CandidateID string `json:"candidate_id"`
	// Score is the composite similarity in [0,1]
	Score float64 `json:"score"`
	// Factors lists which signals contributed and by how much
	Factors []FactorContribution `json:"factors"`
	// IsDuplicate is true when the score exceeds the duplicate threshold
	IsDuplicate bool `json:"is_duplicate"`
}

// Validate checks bounds on the similarity result
func (r *SimilarityResult) Validate() error {
	if r.CandidateID == "" {
		return fmt.Errorf("similarity: candidate_id is required")
	}
	if r.Score < 0.0 || r.Score > 1.0 {
		return fmt.Errorf("similarity: score must be between 0.0 and 1.0 (got %.3f)", r.Score)
	}
	return nil
}
