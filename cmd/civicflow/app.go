package main

import (
	"fmt"
	"os"

	"github.com/civicflow/civicflow/internal/agents"
	"github.com/civicflow/civicflow/internal/cityconfig"
	"github.com/civicflow/civicflow/internal/explain"
	"github.com/civicflow/civicflow/internal/insights"
	"github.com/civicflow/civicflow/internal/orchestrator"
	"github.com/civicflow/civicflow/internal/similarity"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/internal/storage/sqlite"
)

// app wires the full system for a command invocation
type app struct {
	store     storage.Storage
	registry  *cityconfig.Registry
	orch      *orchestrator.Orchestrator
	explainer *explain.Explainer
	reports   *insights.Generator
	provider  *agents.AnthropicProvider
}

// newApp opens storage and builds the orchestrator stack. With
// ANTHROPIC_API_KEY set the AI provider backs the agents; otherwise the
// deterministic rules provider runs, which is enough for local use.
func newApp() (*app, error) {
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	registry := cityconfig.NewRegistry()
	dispatcher := agents.NewDispatcher(agents.DefaultDispatcherConfig())

	var provider *agents.AnthropicProvider
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		provider, err = agents.NewAnthropicProvider(&agents.ProviderConfig{})
		if err != nil {
			store.Close()
			return nil, err
		}
		dispatcher.Register(provider.Classifier())
		dispatcher.Register(provider.PriorityScorer())
	} else {
		fmt.Fprintf(os.Stderr, "ANTHROPIC_API_KEY not set, using the deterministic rules provider\n")
		rules := agents.NewRulesProvider()
		dispatcher.Register(rules.Classifier())
		dispatcher.Register(rules.PriorityScorer())
	}

	engine, err := similarity.NewEngine(similarity.DefaultConfig())
	if err != nil {
		store.Close()
		return nil, err
	}
	detector, err := agents.NewDuplicateDetector(engine, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	dispatcher.Register(detector)

	orch, err := orchestrator.New(store, registry, dispatcher, orchestrator.DefaultConfig())
	if err != nil {
		store.Close()
		return nil, err
	}
	// A nil *AnthropicProvider must not become a non-nil interface
	var translator explain.Translator
	var narrator insights.Narrator
	if provider != nil {
		translator = provider
		narrator = provider
	}
	explainer, err := explain.NewExplainer(store, translator)
	if err != nil {
		store.Close()
		return nil, err
	}
	reports, err := insights.NewGenerator(store, narrator, insights.DefaultConfig())
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		store:     store,
		registry:  registry,
		orch:      orch,
		explainer: explainer,
		reports:   reports,
		provider:  provider,
	}, nil
}

func (a *app) Close() {
	a.orch.Wait()
	a.store.Close()
}

// mustApp builds the app or exits; command RunE wiring stays flat
func mustApp() *app {
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}
