package similarity

import (
	"fmt"
	"math"
	"time"
)

// Weights controls how much each signal contributes to the composite
// similarity score. They must sum to 1.0 so the score stays in [0,1].
type Weights struct {
	// Location is the weight of geographic proximity
	Location float64 `yaml:"location" json:"location"`
	// Domain is the weight of categorical domain equality
	Domain float64 `yaml:"domain" json:"domain"`
	// Time is the weight of temporal proximity
	Time float64 `yaml:"time" json:"time"`
}

// Config holds the tunable parameters of the similarity engine. The
// weighting formula is deliberately configuration, not hard-coded.
type Config struct {
	Weights Weights `yaml:"weights" json:"weights"`

	// SaturationKm is the distance at which the location signal reaches
	// zero; issues at the same point score 1.0 and the signal decays
	// inversely with distance, saturating at this radius.
	SaturationKm float64 `yaml:"saturation_km" json:"saturation_km"`

	// TimeWindow is the span over which the temporal signal decays to
	// ~0. Issues more than a window apart contribute nothing.
	TimeWindow time.Duration `yaml:"time_window" json:"time_window"`

	// LookbackWindow bounds the candidate search when detecting
	// duplicates. Defaults to TimeWindow.
	LookbackWindow time.Duration `yaml:"lookback_window" json:"lookback_window"`

	// MaxCandidates caps the number of existing issues compared against
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`
}

// DefaultConfig returns the default similarity engine configuration
func DefaultConfig() Config {
	return Config{
		Weights:        Weights{Location: 0.4, Domain: 0.3, Time: 0.3},
		SaturationKm:   5.0,
		TimeWindow:     30 * 24 * time.Hour,
		LookbackWindow: 30 * 24 * time.Hour,
		MaxCandidates:  50,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	sum := c.Weights.Location + c.Weights.Domain + c.Weights.Time
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("similarity weights must sum to 1.0 (got %.3f)", sum)
	}
	if c.Weights.Location < 0 || c.Weights.Domain < 0 || c.Weights.Time < 0 {
		return fmt.Errorf("similarity weights cannot be negative (got %+v)", c.Weights)
	}
	if c.SaturationKm <= 0 {
		return fmt.Errorf("saturation_km must be positive (got %.2f)", c.SaturationKm)
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("time_window must be positive (got %v)", c.TimeWindow)
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("lookback_window must be positive (got %v)", c.LookbackWindow)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive (got %d)", c.MaxCandidates)
	}
	if c.MaxCandidates > 500 {
		return fmt.Errorf("max_candidates too large (got %d, max 500)", c.MaxCandidates)
	}
	return nil
}
