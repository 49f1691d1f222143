// Package storage defines the persistence interface for issues, workflow
// states, and the audit trail. Every call that touches issue data carries
// a city ID; one city's data is never visible to another's queries.
package storage

import (
	"context"
	"time"

	"github.com/civicflow/civicflow/internal/audit"
	"github.com/civicflow/civicflow/internal/types"
)

// IssueFilter narrows ListIssues queries
type IssueFilter struct {
	// Status filters by lifecycle status (empty = all)
	Status types.IssueStatus
	// Domain filters by classified domain (empty = all)
	Domain string
	// Area filters by reported area (empty = all)
	Area string
	// Since/Until bound the submission time (zero = unbounded)
	Since time.Time
	Until time.Time
	// Limit caps the result size (0 = no limit)
	Limit int
}

// DomainCount is a per-domain aggregate used by reporting
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// AreaCount is a per-area aggregate used by reporting
type AreaCount struct {
	Area  string `json:"area"`
	Count int    `json:"count"`
}

// DomainAreaStat aggregates issues per (domain, area) pair with the mean
// reported severity. Issues without an area tag fall into the "" bucket;
// issues without a priority score do not contribute to the mean.
type DomainAreaStat struct {
	Domain string `json:"domain"`
	Area   string `json:"area"`
	Count  int    `json:"count"`
	// AvgSeverity is the mean severity over scored issues, 0 when none
	// were scored
	AvgSeverity float64 `json:"avg_severity"`
}

// ResolutionStat is a per-domain resolution aggregate
type ResolutionStat struct {
	Domain string `json:"domain"`
	// Resolved is how many issues in the domain were resolved in the window
	Resolved int `json:"resolved"`
	// AvgResolution is the mean time from submission to resolution
	AvgResolution time.Duration `json:"avg_resolution"`
}

// Storage is the persistence interface for the workflow system
type Storage interface {
	// CreateIssue persists a newly accepted issue
	CreateIssue(ctx context.Context, issue *types.Issue) error

	// GetIssue retrieves an issue scoped to a city
	GetIssue(ctx context.Context, cityID, issueID string) (*types.Issue, error)

	// UpdateIssue persists issue mutations made by the orchestrator
	UpdateIssue(ctx context.Context, issue *types.Issue) error

	// ListIssues returns issues matching the filter, newest first
	ListIssues(ctx context.Context, cityID string, filter IssueFilter) ([]*types.Issue, error)

	// LinkDuplicate marks issueID as a duplicate of primaryID and bumps the
	// primary's affected count. Linking the same pair twice is a no-op; the
	// affected count never double-counts.
	LinkDuplicate(ctx context.Context, cityID, issueID, primaryID string) error

	// SaveWorkflow persists a workflow state snapshot
	SaveWorkflow(ctx context.Context, state *types.WorkflowState) error

	// GetWorkflow retrieves a workflow state scoped to a city
	GetWorkflow(ctx context.Context, cityID, workflowID string) (*types.WorkflowState, error)

	// ListResumableWorkflows returns workflows whose status is resumable,
	// across all cities, for crash recovery at startup
	ListResumableWorkflows(ctx context.Context) ([]*types.WorkflowState, error)

	// AppendRecord appends a single audit record. Records are immutable;
	// there is no update or delete.
	AppendRecord(ctx context.Context, record *audit.ProcessingStepRecord) error

	// CommitStep appends a step's audit record and saves the updated
	// workflow state in one transaction, so a crash can never observe one
	// without the other.
	CommitStep(ctx context.Context, record *audit.ProcessingStepRecord, state *types.WorkflowState) error

	// GetTrail returns an issue's full audit trail in insertion order
	GetTrail(ctx context.Context, cityID, issueID string) ([]*audit.ProcessingStepRecord, error)

	// GetRecord retrieves a single audit record scoped to a city
	GetRecord(ctx context.Context, cityID, recordID string) (*audit.ProcessingStepRecord, error)

	// FindCandidates returns recent comparable issues in the same city for
	// duplicate detection: submitted within the lookback window, not
	// themselves duplicates, newest first.
	FindCandidates(ctx context.Context, issue *types.Issue, lookback time.Duration, limit int) ([]*types.Issue, error)

	// CountByDomain aggregates issue counts per classified domain
	CountByDomain(ctx context.Context, cityID string, since, until time.Time) ([]DomainCount, error)

	// CountByArea aggregates issue counts per reported area
	CountByArea(ctx context.Context, cityID string, since, until time.Time) ([]AreaCount, error)

	// CountByDomainArea aggregates counts and mean severity per
	// (domain, area) pair, for emerging-issue detection
	CountByDomainArea(ctx context.Context, cityID string, since, until time.Time) ([]DomainAreaStat, error)

	// ResolutionStats aggregates resolution times per domain over issues
	// resolved in the window
	ResolutionStats(ctx context.Context, cityID string, since, until time.Time) ([]ResolutionStat, error)

	// Close releases the backend
	Close() error
}
