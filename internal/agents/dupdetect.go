package agents

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/civicflow/civicflow/internal/similarity"
	"github.com/civicflow/civicflow/internal/types"
)

// CandidateSource supplies the existing issues a new complaint is compared
// against. Defined here rather than importing the storage package so the
// agent layer stays free of persistence concerns.
type CandidateSource interface {
	// FindCandidates returns open issues in the same city submitted within
	// the lookback window, newest first, at most limit entries. The issue
	// itself must not be included.
	FindCandidates(ctx context.Context, issue *types.Issue, lookback time.Duration, limit int) ([]*types.Issue, error)
}

// DuplicateDetector scores a new issue against recent candidates using the
// similarity engine. It runs entirely locally; no model call is involved.
type DuplicateDetector struct {
	engine *similarity.Engine
	source CandidateSource
}

// NewDuplicateDetector creates the duplicate detection agent
func NewDuplicateDetector(engine *similarity.Engine, source CandidateSource) (*DuplicateDetector, error) {
	if engine == nil {
		return nil, fmt.Errorf("similarity engine is required")
	}
	if source == nil {
		return nil, fmt.Errorf("candidate source is required")
	}
	return &DuplicateDetector{engine: engine, source: source}, nil
}

func (d *DuplicateDetector) Type() types.AgentType { return types.AgentDuplicateDetector }

func (d *DuplicateDetector) Execute(ctx context.Context, req *Request) (*Result, error) {
	cfg := d.engine.Config()
	threshold := req.Config.SimilarityThreshold

	candidates, err := d.source.FindCandidates(ctx, req.Issue, cfg.LookbackWindow, cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("candidate lookup failed: %w", err)
	}

	results := make([]types.SimilarityResult, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.ID == req.Issue.ID {
			continue
		}
		results = append(results, d.engine.Score(req.Issue, candidate, threshold))
	}
	if len(results) == 0 {
		return &Result{
			Similar:    []types.SimilarityResult{},
			Confidence: 1.0,
			Reasoning:  "no recent issues in this city to compare against; treated as a new problem",
		}, nil
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	top := results[0]
	// Confidence reflects how decisive the determination is: a top score
	// far from the threshold on either side is a clear call, one near the
	// threshold is not.
	confidence := math.Min(1.0, 0.5+math.Abs(top.Score-threshold))

	var reasoning string
	if top.IsDuplicate {
		reasoning = fmt.Sprintf("closest match %s scored %.2f against threshold %.2f; likely the same problem",
			top.CandidateID, top.Score, threshold)
	} else {
		reasoning = fmt.Sprintf("closest match %s scored %.2f, below threshold %.2f; treated as a new problem",
			top.CandidateID, top.Score, threshold)
	}

	return &Result{
		Similar:    results,
		Confidence: confidence,
		Reasoning:  reasoning,
	}, nil
}
