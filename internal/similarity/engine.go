// Package similarity computes a composite similarity score between two
// issues from three signals: location proximity, domain match, and
// temporal proximity. The duplicate detector uses it to decide whether a
// new complaint describes an already-reported problem.
package similarity

import (
	"fmt"
	"math"

	"github.com/civicflow/civicflow/internal/types"
)

const earthRadiusKm = 6371.0

// Engine scores issue pairs. It is stateless and safe for concurrent use.
type Engine struct {
	config Config
}

// NewEngine creates a similarity engine with the given configuration
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid similarity config: %w", err)
	}
	return &Engine{config: cfg}, nil
}

// Config returns the engine's configuration
func (e *Engine) Config() Config {
	return e.config
}

// Score computes the composite similarity between a new issue and an
// existing candidate. The duplicate determination uses the supplied
// threshold (score strictly greater than threshold).
func (e *Engine) Score(issue, candidate *types.Issue, threshold float64) types.SimilarityResult {
	loc := e.locationScore(issue, candidate)
	dom := e.domainScore(issue, candidate)
	tim := e.timeScore(issue, candidate)

	w := e.config.Weights
	score := w.Location*loc + w.Domain*dom + w.Time*tim
	// Guard against float drift at the boundaries
	score = math.Min(1.0, math.Max(0.0, score))

	return types.SimilarityResult{
		CandidateID: candidate.ID,
		Score:       score,
		Factors: []types.FactorContribution{
			{Signal: types.SignalLocation, Weight: w.Location, Contribution: w.Location * loc},
			{Signal: types.SignalDomain, Weight: w.Domain, Contribution: w.Domain * dom},
			{Signal: types.SignalTime, Weight: w.Time, Contribution: w.Time * tim},
		},
		IsDuplicate: score > threshold,
	}
}

// locationScore is 1.0 at zero distance and decays to 0 at SaturationKm.
// Issues without a location on either side contribute nothing.
func (e *Engine) locationScore(a, b *types.Issue) float64 {
	if a.Location == nil || b.Location == nil {
		return 0.0
	}
	dist := haversineKm(a.Location.Latitude, a.Location.Longitude, b.Location.Latitude, b.Location.Longitude)
	if dist >= e.config.SaturationKm {
		return 0.0
	}
	return 1.0 - dist/e.config.SaturationKm
}

// domainScore is categorical: equal classified domains contribute the full
// domain weight, anything else contributes nothing. Unclassified issues
// fall back to area equality when both carry an area tag.
func (e *Engine) domainScore(a, b *types.Issue) float64 {
	if a.Classification != nil && b.Classification != nil {
		if a.Classification.Domain == b.Classification.Domain {
			return 1.0
		}
		return 0.0
	}
	if a.Location != nil && b.Location != nil &&
		a.Location.Area != "" && a.Location.Area == b.Location.Area {
		return 0.5
	}
	return 0.0
}

// timeScore decays linearly over the configured window; issues more than a
// window apart contribute ~0.
func (e *Engine) timeScore(a, b *types.Issue) float64 {
	gap := a.SubmittedAt.Sub(b.SubmittedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap >= e.config.TimeWindow {
		return 0.0
	}
	return 1.0 - float64(gap)/float64(e.config.TimeWindow)
}

// haversineKm computes the great-circle distance between two coordinates
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
