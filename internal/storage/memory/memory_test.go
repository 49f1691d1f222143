package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civicflow/civicflow/internal/audit"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/internal/types"
)

func newIssue(id, cityID string, submitted time.Time) *types.Issue {
	now := time.Now()
	return &types.Issue{
		ID:            id,
		CityID:        cityID,
		Text:          "pothole on 5th main",
		Language:      "en",
		SubmittedAt:   submitted,
		Status:        types.StatusReceived,
		WorkflowID:    "wf-" + id,
		AffectedCount: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestIssueRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()

	issue := newIssue("cf-1", "bengaluru", time.Now())
	if err := store.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}

	got, err := store.GetIssue(ctx, "bengaluru", "cf-1")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if got.Text != issue.Text || got.Status != types.StatusReceived {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Mutating the returned copy must not leak into the store
	got.Text = "mutated"
	again, _ := store.GetIssue(ctx, "bengaluru", "cf-1")
	if again.Text == "mutated" {
		t.Error("store must not share memory with callers")
	}

	got.Text = "updated complaint text"
	got.Status = types.StatusProcessing
	if err := store.UpdateIssue(ctx, got); err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}
	final, _ := store.GetIssue(ctx, "bengaluru", "cf-1")
	if final.Status != types.StatusProcessing {
		t.Errorf("status = %q, want processing", final.Status)
	}
}

func TestCityIsolation(t *testing.T) {
	ctx := context.Background()
	store := New()

	if err := store.CreateIssue(ctx, newIssue("cf-1", "bengaluru", time.Now())); err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}

	if _, err := store.GetIssue(ctx, "pune", "cf-1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("cross-city read = %v, want ErrNotFound", err)
	}

	issues, err := store.ListIssues(ctx, "pune", storage.IssueFilter{})
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("pune sees %d bengaluru issues", len(issues))
	}
}

func TestLinkDuplicateIdempotent(t *testing.T) {
	ctx := context.Background()
	store := New()

	primary := newIssue("cf-1", "bengaluru", time.Now().Add(-time.Hour))
	dup := newIssue("cf-2", "bengaluru", time.Now())
	if err := store.CreateIssue(ctx, primary); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateIssue(ctx, dup); err != nil {
		t.Fatal(err)
	}

	// Linking twice must bump the affected count exactly once
	for i := 0; i < 2; i++ {
		if err := store.LinkDuplicate(ctx, "bengaluru", "cf-2", "cf-1"); err != nil {
			t.Fatalf("LinkDuplicate (pass %d): %v", i+1, err)
		}
	}

	gotPrimary, _ := store.GetIssue(ctx, "bengaluru", "cf-1")
	if gotPrimary.AffectedCount != 2 {
		t.Errorf("affected_count = %d, want 2", gotPrimary.AffectedCount)
	}
	gotDup, _ := store.GetIssue(ctx, "bengaluru", "cf-2")
	if gotDup.Status != types.StatusDuplicate || gotDup.DuplicateOf != "cf-1" {
		t.Errorf("duplicate = %+v", gotDup)
	}
}

func TestLinkDuplicateRejectsChains(t *testing.T) {
	ctx := context.Background()
	store := New()

	for _, id := range []string{"cf-1", "cf-2", "cf-3"} {
		if err := store.CreateIssue(ctx, newIssue(id, "bengaluru", time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.LinkDuplicate(ctx, "bengaluru", "cf-2", "cf-1"); err != nil {
		t.Fatalf("LinkDuplicate: %v", err)
	}

	// cf-2 is a duplicate now; linking cf-3 onto it would form a chain
	if err := store.LinkDuplicate(ctx, "bengaluru", "cf-3", "cf-2"); err == nil {
		t.Error("expected error linking onto a duplicate")
	}
	// Relinking cf-2 to a different primary must fail
	if err := store.LinkDuplicate(ctx, "bengaluru", "cf-2", "cf-3"); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("relink = %v, want ErrInvalidState", err)
	}
	if err := store.LinkDuplicate(ctx, "bengaluru", "cf-1", "cf-1"); err == nil {
		t.Error("expected error linking an issue to itself")
	}
}

func TestCommitStepAtomic(t *testing.T) {
	ctx := context.Background()
	store := New()

	issue := newIssue("cf-1", "bengaluru", time.Now())
	if err := store.CreateIssue(ctx, issue); err != nil {
		t.Fatal(err)
	}
	state := types.NewWorkflowState("wf-cf-1", "cf-1", "bengaluru",
		[]types.AgentType{types.AgentClassifier})

	record := audit.NewStepRecord(state, types.AgentClassifier, 1,
		time.Now(), time.Now().Add(100*time.Millisecond),
		nil, nil, 0.9, "clear pothole complaint", types.StepSucceeded, "")
	state.Steps[0] = types.StepState{AgentType: types.AgentClassifier, Outcome: types.StepSucceeded, Attempts: 1, Confidence: 0.9}
	state.Cursor = 1
	state.Status = types.WorkflowCompleted

	if err := store.CommitStep(ctx, record, state); err != nil {
		t.Fatalf("CommitStep: %v", err)
	}

	gotState, err := store.GetWorkflow(ctx, "bengaluru", "wf-cf-1")
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if gotState.Status != types.WorkflowCompleted || gotState.Cursor != 1 {
		t.Errorf("state = %+v", gotState)
	}

	trail, err := store.GetTrail(ctx, "bengaluru", "cf-1")
	if err != nil {
		t.Fatalf("GetTrail: %v", err)
	}
	if len(trail) != 1 || trail[0].ID != record.ID {
		t.Errorf("trail = %d records", len(trail))
	}

	// Committing the same record twice must fail, not double-append
	if err := store.CommitStep(ctx, record, state); err == nil {
		t.Error("expected duplicate record ID rejection")
	}
}

func TestTrailInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := New()
	state := types.NewWorkflowState("wf-1", "cf-1", "bengaluru",
		[]types.AgentType{types.AgentClassifier, types.AgentPriorityScorer})

	base := time.Now()
	for i, outcome := range []types.StepOutcome{types.StepFailed, types.StepSucceeded} {
		errDetail := ""
		if outcome == types.StepFailed {
			errDetail = "timeout"
		}
		r := audit.NewStepRecord(state, types.AgentClassifier, i+1,
			base.Add(time.Duration(i)*time.Second), base.Add(time.Duration(i)*time.Second+time.Millisecond),
			nil, nil, 0.8, "r", outcome, errDetail)
		if err := store.AppendRecord(ctx, r); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}

	trail, err := store.GetTrail(ctx, "bengaluru", "cf-1")
	if err != nil {
		t.Fatalf("GetTrail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("trail length = %d, want 2", len(trail))
	}
	if trail[0].Attempt != 1 || trail[1].Attempt != 2 {
		t.Error("trail must preserve insertion order")
	}
}

func TestFindCandidates(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now()

	fresh := newIssue("cf-1", "bengaluru", now.Add(-time.Hour))
	stale := newIssue("cf-2", "bengaluru", now.Add(-40*24*time.Hour))
	duplicate := newIssue("cf-3", "bengaluru", now.Add(-time.Hour))
	duplicate.Status = types.StatusDuplicate
	otherCity := newIssue("cf-4", "pune", now.Add(-time.Hour))
	self := newIssue("cf-5", "bengaluru", now)

	for _, issue := range []*types.Issue{fresh, stale, duplicate, otherCity, self} {
		if err := store.CreateIssue(ctx, issue); err != nil {
			t.Fatal(err)
		}
	}

	candidates, err := store.FindCandidates(ctx, self, 30*24*time.Hour, 50)
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "cf-1" {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		t.Errorf("candidates = %v, want [cf-1]", ids)
	}
}

func TestListResumableWorkflows(t *testing.T) {
	ctx := context.Background()
	store := New()

	running := types.NewWorkflowState("wf-1", "cf-1", "bengaluru", []types.AgentType{types.AgentClassifier})
	done := types.NewWorkflowState("wf-2", "cf-2", "bengaluru", []types.AgentType{types.AgentClassifier})
	done.Steps[0] = types.StepState{AgentType: types.AgentClassifier, Outcome: types.StepSucceeded, Attempts: 1}
	done.Cursor = 1
	done.Status = types.WorkflowCompleted

	for _, state := range []*types.WorkflowState{running, done} {
		if err := store.SaveWorkflow(ctx, state); err != nil {
			t.Fatal(err)
		}
	}

	resumable, err := store.ListResumableWorkflows(ctx)
	if err != nil {
		t.Fatalf("ListResumableWorkflows: %v", err)
	}
	if len(resumable) != 1 || resumable[0].WorkflowID != "wf-1" {
		t.Errorf("resumable = %d workflows, want just wf-1", len(resumable))
	}
}

func TestAggregates(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now()
	since := now.Add(-7 * 24 * time.Hour)

	mk := func(id, domain, area string, submitted time.Time) *types.Issue {
		issue := newIssue(id, "bengaluru", submitted)
		issue.Classification = &types.Classification{Domain: domain, Confidence: 0.9, Reasoning: "r"}
		issue.Location = &types.Location{Latitude: 12.9, Longitude: 77.6, Area: area}
		return issue
	}

	issues := []*types.Issue{
		mk("cf-1", "Roads/Potholes", "Indiranagar", now.Add(-time.Hour)),
		mk("cf-2", "Roads/Potholes", "Indiranagar", now.Add(-2*time.Hour)),
		mk("cf-3", "Water Supply", "Whitefield", now.Add(-3*time.Hour)),
		mk("cf-4", "Water Supply", "Whitefield", now.Add(-10*24*time.Hour)), // outside window
	}
	resolved := mk("cf-5", "Roads/Potholes", "Indiranagar", now.Add(-48*time.Hour))
	resolved.Status = types.StatusResolved
	resolvedAt := now.Add(-24 * time.Hour)
	resolved.ResolvedAt = &resolvedAt
	issues = append(issues, resolved)

	for _, issue := range issues {
		if err := store.CreateIssue(ctx, issue); err != nil {
			t.Fatal(err)
		}
	}

	domains, err := store.CountByDomain(ctx, "bengaluru", since, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CountByDomain: %v", err)
	}
	if len(domains) != 2 || domains[0].Domain != "Roads/Potholes" || domains[0].Count != 3 {
		t.Errorf("domain counts = %+v", domains)
	}

	areas, err := store.CountByArea(ctx, "bengaluru", since, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CountByArea: %v", err)
	}
	if len(areas) != 2 || areas[0].Area != "Indiranagar" {
		t.Errorf("area counts = %+v", areas)
	}

	stats, err := store.ResolutionStats(ctx, "bengaluru", since, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ResolutionStats: %v", err)
	}
	if len(stats) != 1 || stats[0].Resolved != 1 {
		t.Fatalf("resolution stats = %+v", stats)
	}
	if stats[0].AvgResolution < 23*time.Hour || stats[0].AvgResolution > 25*time.Hour {
		t.Errorf("avg resolution = %v, want ~24h", stats[0].AvgResolution)
	}
}
