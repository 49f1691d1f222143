package cityconfig

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/civicflow/civicflow/internal/types"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig("bengaluru")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Domains) < MinDomains {
		t.Errorf("default domain catalogue has %d entries, want >= %d", len(cfg.Domains), MinDomains)
	}
	if cfg.SimilarityThreshold != 0.7 {
		t.Errorf("default similarity threshold = %.2f, want 0.7", cfg.SimilarityThreshold)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkflowConfig)
	}{
		{"missing city", func(c *WorkflowConfig) { c.CityID = "" }},
		{"empty enabled agents", func(c *WorkflowConfig) { c.EnabledAgents = nil }},
		{"order not subset of enabled", func(c *WorkflowConfig) {
			c.EnabledAgents = []types.AgentType{types.AgentClassifier}
			c.SequenceOrder = []types.AgentType{types.AgentClassifier, types.AgentPriorityScorer}
		}},
		{"order lists agent twice", func(c *WorkflowConfig) {
			c.SequenceOrder = []types.AgentType{types.AgentClassifier, types.AgentClassifier}
		}},
		{"unknown agent", func(c *WorkflowConfig) {
			c.EnabledAgents = append(c.EnabledAgents, types.AgentType("astrologer"))
		}},
		{"too few domains", func(c *WorkflowConfig) { c.Domains = c.Domains[:5] }},
		{"duplicate domain", func(c *WorkflowConfig) { c.Domains[1] = c.Domains[0] }},
		{"threshold out of range", func(c *WorkflowConfig) {
			c.ConfidenceThresholds[types.AgentClassifier] = 1.5
		}},
		{"similarity threshold out of range", func(c *WorkflowConfig) { c.SimilarityThreshold = 1.0 }},
		{"zero attempts", func(c *WorkflowConfig) { c.MaxAttempts = 0 }},
		{"backoff multiplier below one", func(c *WorkflowConfig) { c.BackoffMultiplier = 0.5 }},
		{"max backoff below initial", func(c *WorkflowConfig) { c.MaxBackoff = c.InitialBackoff / 2 }},
		{"zero step timeout", func(c *WorkflowConfig) { c.StepTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("pune")
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("error %v should wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
city_id: mysuru
sequence_order: [classifier, priority_scorer]
enabled_agents: [classifier, priority_scorer, duplicate_detector]
default_threshold: 0.65
similarity_threshold: 0.75
max_attempts: 2
`)
	cfg, err := FromYAML(data)
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.CityID != "mysuru" {
		t.Errorf("city = %q", cfg.CityID)
	}
	if len(cfg.SequenceOrder) != 2 {
		t.Errorf("order length = %d, want 2", len(cfg.SequenceOrder))
	}
	if cfg.MaxAttempts != 2 {
		t.Errorf("max attempts = %d, want 2", cfg.MaxAttempts)
	}
	// Unset fields keep defaults
	if cfg.InitialBackoff != time.Second {
		t.Errorf("initial backoff = %v, want 1s default", cfg.InitialBackoff)
	}

	if _, err := FromYAML([]byte("sequence_order: [oracle]")); err == nil {
		t.Error("expected error for unknown agent in yaml")
	}
	if _, err := FromYAML([]byte("{{not yaml")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestThresholdFor(t *testing.T) {
	cfg := DefaultConfig("c")
	cfg.ConfidenceThresholds = map[types.AgentType]float64{types.AgentClassifier: 0.8}
	cfg.DefaultThreshold = 0.55
	if got := cfg.ThresholdFor(types.AgentClassifier); got != 0.8 {
		t.Errorf("classifier threshold = %.2f, want 0.8", got)
	}
	if got := cfg.ThresholdFor(types.AgentPriorityScorer); got != 0.55 {
		t.Errorf("fallback threshold = %.2f, want 0.55", got)
	}
}

func TestRegistrySnapshotIsolationAlt(t *testing.T) {
	reg := NewRegistry()
	cfg := DefaultConfig("chennai")
	cfg.DefaultThreshold = 0.9
	if err := reg.Install(cfg); err != nil {
		t.Fatalf("Install: %v", err)
	}

	snap := reg.Snapshot("chennai")
	if snap.DefaultThreshold != 0.9 {
		t.Fatalf("snapshot threshold = %.2f", snap.DefaultThreshold)
	}

	// Installing a new config must not reach the earlier snapshot
	cfg2 := DefaultConfig("chennai")
	cfg2.DefaultThreshold = 0.3
	if err := reg.Install(cfg2); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if snap.DefaultThreshold != 0.9 {
		t.Error("in-flight snapshot changed after Install")
	}

	// Mutating a snapshot must not reach the registry
	snap.Domains[0] = "Hacked"
	if reg.Snapshot("chennai").Domains[0] == "Hacked" {
		t.Error("snapshot mutation leaked into registry")
	}

	// Unknown city falls back to defaults
	if got := reg.Snapshot("nowhere"); got.CityID != "nowhere" || got.DefaultThreshold != 0.6 {
		t.Errorf("unknown city snapshot = %+v", got)
	}
}

func TestRegistryInstallRejectsInvalidAlt(t *testing.T) {
	reg := NewRegistry()
	bad := DefaultConfig("x")
	bad.SequenceOrder = []types.AgentType{types.AgentInsightGenerator}
	bad.EnabledAgents = []types.AgentType{types.AgentClassifier}
	if err := reg.Install(bad); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("Install(bad) = %v, want ErrInvalidConfig", err)
	}
	if len(reg.Cities()) != 0 {
		t.Error("rejected config must not be installed")
	}
}

func TestRegistrySetSimilarityThresholdAlt(t *testing.T) {
	reg := NewRegistry()
	if err := reg.SetSimilarityThreshold("delhi", 0.8); err != nil {
		t.Fatalf("SetSimilarityThreshold: %v", err)
	}
	if got := reg.Snapshot("delhi").SimilarityThreshold; got != 0.8 {
		t.Errorf("threshold = %.2f, want 0.8", got)
	}
	if err := reg.SetSimilarityThreshold("delhi", 1.5); err == nil {
		t.Error("expected error for out-of-range threshold")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = reg.Install(DefaultConfig("race"))
		}()
		go func() {
			defer wg.Done()
			_ = reg.Snapshot("race")
		}()
	}
	wg.Wait()
}
