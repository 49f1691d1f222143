// Package memory implements the storage interface in process memory. It
// backs tests and single-shot development runs; nothing survives a
// restart. Semantics mirror the SQLite backend, including city scoping
// and idempotent duplicate linking.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/civicflow/civicflow/internal/audit"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/internal/types"
)

// MemoryStorage implements storage.Storage with in-process maps
type MemoryStorage struct {
	mu        sync.RWMutex
	issues    map[string]*types.Issue         // key: cityID/issueID
	workflows map[string]*types.WorkflowState // key: workflowID
	records   []*audit.ProcessingStepRecord   // append-only, insertion order
	recordIDs map[string]bool
}

var _ storage.Storage = (*MemoryStorage)(nil)

// New creates an empty in-memory storage backend
func New() *MemoryStorage {
	return &MemoryStorage{
		issues:    make(map[string]*types.Issue),
		workflows: make(map[string]*types.WorkflowState),
		recordIDs: make(map[string]bool),
	}
}

func issueKey(cityID, issueID string) string {
	return cityID + "/" + issueID
}

// clone round-trips through JSON so callers never share memory with the
// store
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory storage clone: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("memory storage clone: %v", err))
	}
	return out
}

// CreateIssue persists a newly accepted issue
func (m *MemoryStorage) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid issue: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := issueKey(issue.CityID, issue.ID)
	if _, exists := m.issues[key]; exists {
		return fmt.Errorf("issue %s already exists", issue.ID)
	}
	m.issues[key] = clone(issue)
	return nil
}

// GetIssue retrieves an issue scoped to a city
func (m *MemoryStorage) GetIssue(ctx context.Context, cityID, issueID string) (*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	issue, ok := m.issues[issueKey(cityID, issueID)]
	if !ok {
		return nil, fmt.Errorf("issue %s: %w", issueID, types.ErrNotFound)
	}
	return clone(issue), nil
}

// UpdateIssue persists issue mutations
func (m *MemoryStorage) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid issue: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := issueKey(issue.CityID, issue.ID)
	if _, ok := m.issues[key]; !ok {
		return fmt.Errorf("issue %s: %w", issue.ID, types.ErrNotFound)
	}
	issue.UpdatedAt = time.Now()
	m.issues[key] = clone(issue)
	return nil
}

// ListIssues returns issues matching the filter, newest first
func (m *MemoryStorage) ListIssues(ctx context.Context, cityID string, filter storage.IssueFilter) ([]*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var issues []*types.Issue
	for _, issue := range m.issues {
		if issue.CityID != cityID {
			continue
		}
		if filter.Status != "" && issue.Status != filter.Status {
			continue
		}
		if filter.Domain != "" && (issue.Classification == nil || issue.Classification.Domain != filter.Domain) {
			continue
		}
		if filter.Area != "" && (issue.Location == nil || issue.Location.Area != filter.Area) {
			continue
		}
		if !filter.Since.IsZero() && issue.SubmittedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !issue.SubmittedAt.Before(filter.Until) {
			continue
		}
		issues = append(issues, clone(issue))
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].SubmittedAt.After(issues[j].SubmittedAt) })
	if filter.Limit > 0 && len(issues) > filter.Limit {
		issues = issues[:filter.Limit]
	}
	return issues, nil
}

// LinkDuplicate marks an issue as a duplicate of a primary, idempotently
func (m *MemoryStorage) LinkDuplicate(ctx context.Context, cityID, issueID, primaryID string) error {
	if issueID == primaryID {
		return fmt.Errorf("issue %s cannot be a duplicate of itself", issueID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	issue, ok := m.issues[issueKey(cityID, issueID)]
	if !ok {
		return fmt.Errorf("issue %s: %w", issueID, types.ErrNotFound)
	}
	if issue.DuplicateOf == primaryID {
		return nil
	}
	if issue.DuplicateOf != "" {
		return fmt.Errorf("issue %s is already a duplicate of %s: %w", issueID, issue.DuplicateOf, types.ErrInvalidState)
	}

	primary, ok := m.issues[issueKey(cityID, primaryID)]
	if !ok || primary.DuplicateOf != "" {
		return fmt.Errorf("primary issue %s not linkable: %w", primaryID, types.ErrNotFound)
	}

	now := time.Now()
	primary.AffectedCount++
	primary.UpdatedAt = now
	issue.Status = types.StatusDuplicate
	issue.DuplicateOf = primaryID
	issue.UpdatedAt = now
	return nil
}

// SaveWorkflow persists a workflow state snapshot
func (m *MemoryStorage) SaveWorkflow(ctx context.Context, state *types.WorkflowState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid workflow state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	state.UpdatedAt = time.Now()
	m.workflows[state.WorkflowID] = clone(state)
	return nil
}

// GetWorkflow retrieves a workflow state scoped to a city
func (m *MemoryStorage) GetWorkflow(ctx context.Context, cityID, workflowID string) (*types.WorkflowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.workflows[workflowID]
	if !ok || state.CityID != cityID {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, types.ErrNotFound)
	}
	return clone(state), nil
}

// ListResumableWorkflows returns running/waiting workflows for recovery
func (m *MemoryStorage) ListResumableWorkflows(ctx context.Context) ([]*types.WorkflowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var states []*types.WorkflowState
	for _, state := range m.workflows {
		if state.Status.Resumable() {
			states = append(states, clone(state))
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].CreatedAt.Before(states[j].CreatedAt) })
	return states, nil
}

// AppendRecord appends a single audit record
func (m *MemoryStorage) AppendRecord(ctx context.Context, record *audit.ProcessingStepRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid audit record: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(record)
}

func (m *MemoryStorage) appendLocked(record *audit.ProcessingStepRecord) error {
	if m.recordIDs[record.ID] {
		return fmt.Errorf("audit record %s already exists", record.ID)
	}
	m.records = append(m.records, clone(record))
	m.recordIDs[record.ID] = true
	return nil
}

// CommitStep appends a step record and saves the workflow state atomically
func (m *MemoryStorage) CommitStep(ctx context.Context, record *audit.ProcessingStepRecord, state *types.WorkflowState) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid audit record: %w", err)
	}
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid workflow state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.appendLocked(record); err != nil {
		return err
	}
	state.UpdatedAt = time.Now()
	m.workflows[state.WorkflowID] = clone(state)
	return nil
}

// GetTrail returns an issue's full audit trail in insertion order
func (m *MemoryStorage) GetTrail(ctx context.Context, cityID, issueID string) ([]*audit.ProcessingStepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var trail []*audit.ProcessingStepRecord
	for _, record := range m.records {
		if record.CityID == cityID && record.IssueID == issueID {
			trail = append(trail, clone(record))
		}
	}
	return trail, nil
}

// GetRecord retrieves a single audit record scoped to a city
func (m *MemoryStorage) GetRecord(ctx context.Context, cityID, recordID string) (*audit.ProcessingStepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, record := range m.records {
		if record.ID == recordID && record.CityID == cityID {
			return clone(record), nil
		}
	}
	return nil, fmt.Errorf("audit record %s: %w", recordID, types.ErrNotFound)
}

// FindCandidates returns recent comparable issues for duplicate detection
func (m *MemoryStorage) FindCandidates(ctx context.Context, issue *types.Issue, lookback time.Duration, limit int) ([]*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	since := time.Now().Add(-lookback)
	var candidates []*types.Issue
	for _, candidate := range m.issues {
		if candidate.CityID != issue.CityID || candidate.ID == issue.ID {
			continue
		}
		if candidate.SubmittedAt.Before(since) {
			continue
		}
		if candidate.Status == types.StatusDuplicate || candidate.Status == types.StatusClosed {
			continue
		}
		candidates = append(candidates, clone(candidate))
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].SubmittedAt.After(candidates[j].SubmittedAt) })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// CountByDomain aggregates issue counts per classified domain
func (m *MemoryStorage) CountByDomain(ctx context.Context, cityID string, since, until time.Time) ([]storage.DomainCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byDomain := make(map[string]int)
	for _, issue := range m.issues {
		if issue.CityID != cityID || issue.Classification == nil {
			continue
		}
		if issue.SubmittedAt.Before(since) || !issue.SubmittedAt.Before(until) {
			continue
		}
		byDomain[issue.Classification.Domain]++
	}
	return sortedDomainCounts(byDomain), nil
}

// CountByArea aggregates issue counts per reported area
func (m *MemoryStorage) CountByArea(ctx context.Context, cityID string, since, until time.Time) ([]storage.AreaCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byArea := make(map[string]int)
	for _, issue := range m.issues {
		if issue.CityID != cityID || issue.Location == nil || issue.Location.Area == "" {
			continue
		}
		if issue.SubmittedAt.Before(since) || !issue.SubmittedAt.Before(until) {
			continue
		}
		byArea[issue.Location.Area]++
	}

	counts := make([]storage.AreaCount, 0, len(byArea))
	for area, n := range byArea {
		counts = append(counts, storage.AreaCount{Area: area, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Area < counts[j].Area
	})
	return counts, nil
}

// CountByDomainArea aggregates counts and mean severity per (domain,
// area) pair. Issues without an area land in the empty bucket; unscored
// issues count but do not contribute to the mean.
func (m *MemoryStorage) CountByDomainArea(ctx context.Context, cityID string, since, until time.Time) ([]storage.DomainAreaStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ domain, area string }
	type acc struct {
		n        int
		sevSum   int
		sevCount int
	}
	buckets := make(map[key]*acc)
	for _, issue := range m.issues {
		if issue.CityID != cityID || issue.Classification == nil {
			continue
		}
		if issue.SubmittedAt.Before(since) || !issue.SubmittedAt.Before(until) {
			continue
		}
		k := key{domain: issue.Classification.Domain}
		if issue.Location != nil {
			k.area = issue.Location.Area
		}
		a := buckets[k]
		if a == nil {
			a = &acc{}
			buckets[k] = a
		}
		a.n++
		if issue.Priority != nil {
			a.sevSum += issue.Priority.Severity
			a.sevCount++
		}
	}

	stats := make([]storage.DomainAreaStat, 0, len(buckets))
	for k, a := range buckets {
		stat := storage.DomainAreaStat{Domain: k.domain, Area: k.area, Count: a.n}
		if a.sevCount > 0 {
			stat.AvgSeverity = float64(a.sevSum) / float64(a.sevCount)
		}
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		if stats[i].Domain != stats[j].Domain {
			return stats[i].Domain < stats[j].Domain
		}
		return stats[i].Area < stats[j].Area
	})
	return stats, nil
}

// ResolutionStats aggregates resolution times per domain
func (m *MemoryStorage) ResolutionStats(ctx context.Context, cityID string, since, until time.Time) ([]storage.ResolutionStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type acc struct {
		n     int
		total time.Duration
	}
	byDomain := make(map[string]*acc)
	for _, issue := range m.issues {
		if issue.CityID != cityID || issue.Status != types.StatusResolved {
			continue
		}
		if issue.Classification == nil || issue.ResolvedAt == nil {
			continue
		}
		if issue.ResolvedAt.Before(since) || !issue.ResolvedAt.Before(until) {
			continue
		}
		a := byDomain[issue.Classification.Domain]
		if a == nil {
			a = &acc{}
			byDomain[issue.Classification.Domain] = a
		}
		a.n++
		a.total += issue.ResolvedAt.Sub(issue.SubmittedAt)
	}

	stats := make([]storage.ResolutionStat, 0, len(byDomain))
	for domain, a := range byDomain {
		stats = append(stats, storage.ResolutionStat{
			Domain:        domain,
			Resolved:      a.n,
			AvgResolution: a.total / time.Duration(a.n),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Resolved != stats[j].Resolved {
			return stats[i].Resolved > stats[j].Resolved
		}
		return stats[i].Domain < stats[j].Domain
	})
	return stats, nil
}

// Close is a no-op for the in-memory backend
func (m *MemoryStorage) Close() error {
	return nil
}

func sortedDomainCounts(byDomain map[string]int) []storage.DomainCount {
	counts := make([]storage.DomainCount, 0, len(byDomain))
	for domain, n := range byDomain {
		counts = append(counts, storage.DomainCount{Domain: domain, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Domain < counts[j].Domain
	})
	return counts
}
