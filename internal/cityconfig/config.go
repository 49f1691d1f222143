// Package cityconfig holds the per-city workflow configuration: which
// agents run, in which order, with which confidence thresholds, and the
// domain catalogue complaints are classified into.
//
// Configs are read-mostly and safely shared across concurrent workflows.
// Installing a new config never affects in-flight workflows: each run
// takes a snapshot at intake.
package cityconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/civicflow/civicflow/internal/policy"
	"github.com/civicflow/civicflow/internal/types"
)

// DefaultDomains is the baseline domain catalogue a city starts from.
// Cities may replace it, but a config must always carry at least
// MinDomains entries.
var DefaultDomains = []string{
	"Roads/Potholes",
	"Roads/Footpaths",
	"Water Supply",
	"Sewage/Drainage",
	"Garbage/Sanitation",
	"Electricity/Street Lighting",
	"Electricity/Power Outage",
	"Parks/Public Spaces",
	"Traffic/Signals",
	"Public Transport",
	"Stray Animals",
	"Mosquito/Pest Control",
	"Illegal Construction",
	"Encroachment",
	"Noise Pollution",
	"Air Pollution",
	"Public Health",
	"Other",
}

// MinDomains is the minimum size of a city's domain catalogue
const MinDomains = 15

// WorkflowConfig is the per-city, externally supplied configuration.
// Read-only to the orchestrator.
type WorkflowConfig struct {
	// CityID scopes the config
	CityID string `yaml:"city_id" json:"city_id"`
	// EnabledAgents is the set of agents available to this city
	EnabledAgents []types.AgentType `yaml:"enabled_agents" json:"enabled_agents"`
	// SequenceOrder is the execution order; it must be a permutation or
	// subset of EnabledAgents
	SequenceOrder []types.AgentType `yaml:"sequence_order" json:"sequence_order"`
	// ConfidenceThresholds maps agent type to the minimum confidence for
	// an accept outcome; agents without an entry use DefaultThreshold
	ConfidenceThresholds map[types.AgentType]float64 `yaml:"confidence_thresholds" json:"confidence_thresholds"`
	// DefaultThreshold applies when no per-agent threshold is configured
	DefaultThreshold float64 `yaml:"default_threshold" json:"default_threshold"`
	// Domains is the city's classification catalogue (>= MinDomains)
	Domains []string `yaml:"domains" json:"domains"`
	// SimilarityThreshold is the duplicate determination cutoff
	// (score > threshold); system-wide default 0.7
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`

	// Retry/escalation tuning. The exact schedule is deliberately
	// configuration, not hard-coded constants.
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff" json:"max_backoff"`
	// StepTimeout bounds a single agent invocation; a timeout is treated
	// as an execution failure, never a silent hang
	StepTimeout time.Duration `yaml:"step_timeout" json:"step_timeout"`
}

// DefaultConfig returns the default workflow configuration for a city
func DefaultConfig(cityID string) *WorkflowConfig {
	return &WorkflowConfig{
		CityID: cityID,
		EnabledAgents: []types.AgentType{
			types.AgentClassifier,
			types.AgentPriorityScorer,
			types.AgentDuplicateDetector,
		},
		SequenceOrder: []types.AgentType{
			types.AgentClassifier,
			types.AgentPriorityScorer,
			types.AgentDuplicateDetector,
		},
		ConfidenceThresholds: map[types.AgentType]float64{
			types.AgentClassifier:        0.6,
			types.AgentPriorityScorer:    0.6,
			types.AgentDuplicateDetector: 0.5,
		},
		DefaultThreshold:    0.6,
		Domains:             append([]string(nil), DefaultDomains...),
		SimilarityThreshold: 0.7,
		MaxAttempts:         3,
		InitialBackoff:      1 * time.Second,
		BackoffMultiplier:   2.0,
		MaxBackoff:          30 * time.Second,
		StepTimeout:         60 * time.Second,
	}
}

// Validate checks the ordering/domain invariants. A config that fails
// validation is rejected at configuration time, never silently applied.
func (c *WorkflowConfig) Validate() error {
	if c.CityID == "" {
		return fmt.Errorf("%w: city_id is required", types.ErrInvalidConfig)
	}
	if len(c.EnabledAgents) == 0 {
		return fmt.Errorf("%w: enabled_agents must not be empty", types.ErrInvalidConfig)
	}
	enabled := make(map[types.AgentType]bool, len(c.EnabledAgents))
	for _, at := range c.EnabledAgents {
		if !at.IsValid() {
			return fmt.Errorf("%w: unknown agent type %q in enabled_agents", types.ErrInvalidConfig, at)
		}
		if enabled[at] {
			return fmt.Errorf("%w: duplicate agent %q in enabled_agents", types.ErrInvalidConfig, at)
		}
		enabled[at] = true
	}
	if len(c.SequenceOrder) == 0 {
		return fmt.Errorf("%w: sequence_order must not be empty", types.ErrInvalidConfig)
	}
	seen := make(map[types.AgentType]bool, len(c.SequenceOrder))
	for _, at := range c.SequenceOrder {
		if !enabled[at] {
			return fmt.Errorf("%w: sequence_order contains %q which is not in enabled_agents", types.ErrInvalidConfig, at)
		}
		if seen[at] {
			return fmt.Errorf("%w: sequence_order lists %q twice", types.ErrInvalidConfig, at)
		}
		seen[at] = true
	}
	if err := policy.ValidateThreshold(c.DefaultThreshold); err != nil {
		return fmt.Errorf("%w: default_threshold: %v", types.ErrInvalidConfig, err)
	}
	for at, th := range c.ConfidenceThresholds {
		if !at.IsValid() {
			return fmt.Errorf("%w: threshold for unknown agent type %q", types.ErrInvalidConfig, at)
		}
		if err := policy.ValidateThreshold(th); err != nil {
			return fmt.Errorf("%w: threshold for %s: %v", types.ErrInvalidConfig, at, err)
		}
	}
	if len(c.Domains) < MinDomains {
		return fmt.Errorf("%w: at least %d domains required (got %d)", types.ErrInvalidConfig, MinDomains, len(c.Domains))
	}
	domainSeen := make(map[string]bool, len(c.Domains))
	for _, d := range c.Domains {
		if d == "" {
			return fmt.Errorf("%w: empty domain name", types.ErrInvalidConfig)
		}
		if domainSeen[d] {
			return fmt.Errorf("%w: duplicate domain %q", types.ErrInvalidConfig, d)
		}
		domainSeen[d] = true
	}
	if c.SimilarityThreshold <= 0.0 || c.SimilarityThreshold >= 1.0 {
		return fmt.Errorf("%w: similarity_threshold must be in (0,1) (got %.2f)", types.ErrInvalidConfig, c.SimilarityThreshold)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1 (got %d)", types.ErrInvalidConfig, c.MaxAttempts)
	}
	if c.MaxAttempts > 10 {
		return fmt.Errorf("%w: max_attempts too large (got %d, max 10)", types.ErrInvalidConfig, c.MaxAttempts)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("%w: initial_backoff must be positive (got %v)", types.ErrInvalidConfig, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1.0 {
		return fmt.Errorf("%w: backoff_multiplier must be >= 1.0 (got %.2f)", types.ErrInvalidConfig, c.BackoffMultiplier)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("%w: max_backoff %v smaller than initial_backoff %v", types.ErrInvalidConfig, c.MaxBackoff, c.InitialBackoff)
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("%w: step_timeout must be positive (got %v)", types.ErrInvalidConfig, c.StepTimeout)
	}
	return nil
}

// ThresholdFor returns the confidence threshold for an agent type
func (c *WorkflowConfig) ThresholdFor(agentType types.AgentType) float64 {
	if th, ok := c.ConfidenceThresholds[agentType]; ok {
		return th
	}
	return c.DefaultThreshold
}

// HasDomain reports whether the domain is part of the city's catalogue
func (c *WorkflowConfig) HasDomain(domain string) bool {
	for _, d := range c.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Workflows snapshot their config at intake so
// later CustomizeWorkflow calls cannot reach in-flight runs.
func (c *WorkflowConfig) Clone() *WorkflowConfig {
	out := *c
	out.EnabledAgents = append([]types.AgentType(nil), c.EnabledAgents...)
	out.SequenceOrder = append([]types.AgentType(nil), c.SequenceOrder...)
	out.Domains = append([]string(nil), c.Domains...)
	out.ConfidenceThresholds = make(map[types.AgentType]float64, len(c.ConfidenceThresholds))
	for k, v := range c.ConfidenceThresholds {
		out.ConfidenceThresholds[k] = v
	}
	return &out
}

// FromYAML parses and validates a config from raw YAML bytes
func FromYAML(data []byte) (*WorkflowConfig, error) {
	cfg := DefaultConfig("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads a YAML workflow config from the given path
func FromFile(path string) (*WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return FromYAML(data)
}
