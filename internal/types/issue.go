package types

import (
	"fmt"
	"strings"
	"time"
)

// IssueStatus represents the lifecycle status of a submitted issue.
// Status changes only happen through orchestrator-mediated updates; an
// administrative override is recorded as a distinct audit event, never a
// silent field change.
type IssueStatus string

const (
	// StatusReceived means the issue was accepted at intake but processing
	// has not started yet.
	StatusReceived IssueStatus = "received"
	// StatusProcessing means the workflow is actively running agent steps.
	StatusProcessing IssueStatus = "processing"
	// StatusPendingReview means at least one agent result fell below its
	// confidence threshold and the issue carries a manual-review marker.
	StatusPendingReview IssueStatus = "pending_review"
	// StatusPendingIntervention means retries were exhausted and the
	// workflow is parked waiting for a human.
	StatusPendingIntervention IssueStatus = "pending_intervention"
	// StatusEscalated means a business rule (severity or urgency >= 4)
	// routed the issue to an urgent human queue.
	StatusEscalated IssueStatus = "escalated"
	// StatusDuplicate means the issue was linked to a primary issue.
	StatusDuplicate IssueStatus = "duplicate"
	// StatusProcessed means all configured agent steps completed.
	StatusProcessed IssueStatus = "processed"
	// StatusResolved means the underlying complaint was resolved.
	StatusResolved IssueStatus = "resolved"
	// StatusClosed means the issue is closed.
	StatusClosed IssueStatus = "closed"
)

// IsValid checks if the status value is valid
func (s IssueStatus) IsValid() bool {
	switch s {
	case StatusReceived, StatusProcessing, StatusPendingReview,
		StatusPendingIntervention, StatusEscalated, StatusDuplicate,
		StatusProcessed, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// IsTerminal returns true if no further automatic processing happens
func (s IssueStatus) IsTerminal() bool {
	switch s {
	case StatusResolved, StatusClosed, StatusDuplicate:
		return true
	}
	return false
}

// Location is an optional geolocation attached to an issue at intake.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Area is a human-meaningful zone name (ward, neighbourhood) used for
	// area-level aggregation in reports.
	Area string `json:"area,omitempty"`
}

// Issue is a citizen-submitted civic complaint under processing.
// Once handed to the orchestrator the issue is owned by it and mutated only
// through orchestrator-mediated steps.
type Issue struct {
	// ID is the tracking identifier returned to the citizen at intake
	ID string `json:"id"`
	// CityID scopes the issue to a single city; every storage call must
	// carry it (multi-city isolation)
	CityID string `json:"city_id"`
	// Text is the raw complaint text as submitted
	Text string `json:"text"`
	// Language is the detected/declared language tag (e.g. "en", "hi")
	Language string `json:"language"`
	// Location is the optional geolocation of the complaint
	Location *Location `json:"location,omitempty"`
	// SubmittedAt is the intake timestamp
	SubmittedAt time.Time `json:"submitted_at"`
	// CitizenRef is an opaque reference to the submitter; empty for
	// anonymous submissions
	CitizenRef string `json:"citizen_ref,omitempty"`
	// Status is the current lifecycle status
	Status IssueStatus `json:"status"`
	// WorkflowID identifies the workflow created for this issue at intake
	WorkflowID string `json:"workflow_id"`

	// Results populated by the workflow
	Classification *Classification `json:"classification,omitempty"`
	Priority       *PriorityScore  `json:"priority,omitempty"`
	// DuplicateOf is the primary issue ID when this issue was linked as a
	// duplicate
	DuplicateOf string `json:"duplicate_of,omitempty"`
	// AffectedCount is the number of citizens affected: 1 + linked
	// duplicates. Only meaningful on a primary issue.
	AffectedCount int `json:"affected_count"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Validate checks structural invariants on the issue.
// Incomplete submissions are not rejected at intake (that is a
// ValidationError handled by the caller); this catches programming errors.
func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("issue id is required")
	}
	if i.CityID == "" {
		return fmt.Errorf("issue %s: city_id is required", i.ID)
	}
	if strings.TrimSpace(i.Text) == "" {
		return fmt.Errorf("issue %s: complaint text is required", i.ID)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("issue %s: invalid status %q", i.ID, i.Status)
	}
	if i.AffectedCount < 0 {
		return fmt.Errorf("issue %s: affected_count cannot be negative (got %d)", i.ID, i.AffectedCount)
	}
	return nil
}

// Intake is the validated raw complaint handed over by the intake
// collaborator. Everything except Text and CityID is optional: a citizen
// submission is never rejected outright for incompleteness.
type Intake struct {
	CityID     string    `json:"city_id"`
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	Location   *Location `json:"location,omitempty"`
	CitizenRef string    `json:"citizen_ref,omitempty"`
}

// Override is an administrative override of an AI decision. It is recorded
// as a distinct audit event referencing the original decision, not an edit
// to it.
type Override struct {
	ID string `json:"id"`
	// IssueID is the issue whose decision is being overridden
	IssueID string `json:"issue_id"`
	// RecordID references the ProcessingStepRecord carrying the original
	// decision (empty when overriding the issue status directly)
	RecordID string `json:"record_id,omitempty"`
	// Administrator identifies who performed the override
	Administrator string `json:"administrator"`
	// Field is the field being overridden (e.g. "status", "domain",
	// "severity")
	Field string `json:"field"`
	// NewValue is the overriding value
	NewValue string `json:"new_value"`
	// Justification is the mandatory human-readable reason
	Justification string `json:"justification"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks the override carries everything the audit trail needs
func (o *Override) Validate() error {
	if o.IssueID == "" {
		return fmt.Errorf("override: issue_id is required")
	}
	if o.Administrator == "" {
		return fmt.Errorf("override for %s: administrator identity is required", o.IssueID)
	}
	if o.Field == "" {
		return fmt.Errorf("override for %s: field is required", o.IssueID)
	}
	if o.Justification == "" {
		return fmt.Errorf("override for %s: justification is required", o.IssueID)
	}
	return nil
}
