package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civicflow/civicflow/internal/cityconfig"
	"github.com/civicflow/civicflow/internal/similarity"
	"github.com/civicflow/civicflow/internal/types"
)

type stubSource struct {
	candidates []*types.Issue
	err        error
}

func (s *stubSource) FindCandidates(ctx context.Context, issue *types.Issue, lookback time.Duration, limit int) ([]*types.Issue, error) {
	return s.candidates, s.err
}

func dupIssue(id string, lat, lon float64, domain string, submitted time.Time) *types.Issue {
	return &types.Issue{
		ID:          id,
		CityID:      "bengaluru",
		Text:        "pothole on 5th main",
		Status:      types.StatusProcessing,
		SubmittedAt: submitted,
		Location:    &types.Location{Latitude: lat, Longitude: lon},
		Classification: &types.Classification{
			Domain: domain, Confidence: 0.9, Reasoning: "r",
		},
	}
}

func newDetector(t *testing.T, source CandidateSource) *DuplicateDetector {
	t.Helper()
	engine, err := similarity.NewEngine(similarity.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	det, err := NewDuplicateDetector(engine, source)
	if err != nil {
		t.Fatalf("NewDuplicateDetector: %v", err)
	}
	return det
}

func TestDuplicateDetectorFindsDuplicate(t *testing.T) {
	now := time.Now()
	issue := dupIssue("cf-2", 12.9757, 77.6064, "Roads/Potholes", now)
	source := &stubSource{candidates: []*types.Issue{
		dupIssue("cf-1", 12.9757, 77.6064, "Roads/Potholes", now.Add(-24*time.Hour)),
		dupIssue("cf-0", 12.9698, 77.7500, "Water Supply", now.Add(-20*24*time.Hour)),
	}}

	det := newDetector(t, source)
	result, err := det.Execute(context.Background(), &Request{
		Issue:   issue,
		Context: &Context{},
		Config:  cityconfig.DefaultConfig("bengaluru"),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(result.Similar) != 2 {
		t.Fatalf("got %d results, want 2", len(result.Similar))
	}
	top := result.Similar[0]
	if top.CandidateID != "cf-1" {
		t.Errorf("top candidate = %q, want cf-1", top.CandidateID)
	}
	if !top.IsDuplicate {
		t.Errorf("same pothole one day apart scored %.3f, want duplicate", top.Score)
	}
	if result.Similar[1].IsDuplicate {
		t.Error("distant cross-domain issue must not be a duplicate")
	}
	if result.Confidence <= 0.5 {
		t.Errorf("confidence = %.2f, want decisive for a clear duplicate", result.Confidence)
	}
}

func TestDuplicateDetectorNoCandidates(t *testing.T) {
	det := newDetector(t, &stubSource{})
	result, err := det.Execute(context.Background(), &Request{
		Issue:   dupIssue("cf-1", 12.97, 77.60, "Roads/Potholes", time.Now()),
		Context: &Context{},
		Config:  cityconfig.DefaultConfig("bengaluru"),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Similar) != 0 {
		t.Errorf("got %d results, want none", len(result.Similar))
	}
	if result.Confidence != 1.0 {
		t.Errorf("confidence = %.2f, want 1.0 with nothing to compare", result.Confidence)
	}
}

func TestDuplicateDetectorSourceError(t *testing.T) {
	det := newDetector(t, &stubSource{err: errors.New("database locked")})
	_, err := det.Execute(context.Background(), &Request{
		Issue:   dupIssue("cf-1", 12.97, 77.60, "Roads/Potholes", time.Now()),
		Context: &Context{},
		Config:  cityconfig.DefaultConfig("bengaluru"),
	})
	if err == nil {
		t.Error("expected candidate lookup error to surface as invocation failure")
	}
}

func TestDuplicateDetectorSkipsSelf(t *testing.T) {
	now := time.Now()
	issue := dupIssue("cf-1", 12.97, 77.60, "Roads/Potholes", now)
	det := newDetector(t, &stubSource{candidates: []*types.Issue{
		issue,
		dupIssue("cf-0", 12.97, 77.60, "Roads/Potholes", now.Add(-time.Hour)),
	}})

	result, err := det.Execute(context.Background(), &Request{
		Issue: issue, Context: &Context{}, Config: cityconfig.DefaultConfig("bengaluru"),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, r := range result.Similar {
		if r.CandidateID == issue.ID {
			t.Error("an issue must never be compared against itself")
		}
	}
}
