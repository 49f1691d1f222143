package cityconfig

import (
	"fmt"
	"sync"

	"github.com/civicflow/civicflow/internal/types"
)

// Registry holds the installed workflow config per city. It is safe for
// concurrent use: reads vastly outnumber writes, and a write (installing a
// new config) only applies to workflows created afterwards.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*WorkflowConfig
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]*WorkflowConfig)}
}

// Install validates and installs a config for future workflows of that
// city. Invalid configs are rejected, never silently applied.
func (r *Registry) Install(cfg *WorkflowConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", types.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.CityID] = cfg.Clone()
	return nil
}

// Snapshot returns a deep copy of the city's config, falling back to the
// defaults when the city has none installed. The copy is what an in-flight
// workflow holds, so concurrent Install calls cannot affect it.
func (r *Registry) Snapshot(cityID string) *WorkflowConfig {
	r.mu.RLock()
	cfg, ok := r.configs[cityID]
	r.mu.RUnlock()
	if !ok {
		return DefaultConfig(cityID)
	}
	return cfg.Clone()
}

// SetSimilarityThreshold overrides the duplicate cutoff for a city,
// keeping the rest of its installed (or default) config.
func (r *Registry) SetSimilarityThreshold(cityID string, threshold float64) error {
	if threshold <= 0.0 || threshold >= 1.0 {
		return fmt.Errorf("%w: similarity_threshold must be in (0,1) (got %.2f)", types.ErrInvalidConfig, threshold)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[cityID]
	if !ok {
		cfg = DefaultConfig(cityID)
	} else {
		cfg = cfg.Clone()
	}
	cfg.SimilarityThreshold = threshold
	r.configs[cityID] = cfg
	return nil
}

// Cities returns the city ids with an explicitly installed config
func (r *Registry) Cities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.configs))
	for id := range r.configs {
		out = append(out, id)
	}
	return out
}
