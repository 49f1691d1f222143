// Package orchestrator coordinates the per-issue workflow: it accepts
// complaints, runs the configured agent sequence with retries and
// escalation, applies the confidence policy, links duplicates, and owns
// every issue status transition. All state changes flow through storage
// together with their audit records.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/civicflow/civicflow/internal/agents"
	"github.com/civicflow/civicflow/internal/audit"
	"github.com/civicflow/civicflow/internal/cityconfig"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/internal/types"
)

// Config tunes the orchestrator itself; per-city workflow behavior lives
// in the city config registry.
type Config struct {
	// MaxConcurrentWorkflows caps issues processed in parallel (default 16)
	MaxConcurrentWorkflows int

	// Sleep is the backoff sleeper; tests replace it to avoid real waits.
	// Nil means sleep on the wall clock, honoring ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{MaxConcurrentWorkflows: 16}
}

// Orchestrator is the single owner of issue state. Agents never talk to
// each other or to storage; the orchestrator carries context between
// steps and commits every outcome.
type Orchestrator struct {
	store      storage.Storage
	registry   *cityconfig.Registry
	dispatcher *agents.Dispatcher
	sleep      func(ctx context.Context, d time.Duration) error

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// snapshots holds the config captured for each in-flight workflow at
	// intake, so config changes never reach a running workflow
	mu        sync.Mutex
	snapshots map[string]*cityconfig.WorkflowConfig
}

// New creates an orchestrator
func New(store storage.Storage, registry *cityconfig.Registry, dispatcher *agents.Dispatcher, cfg Config) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("config registry is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	maxConcurrent := cfg.MaxConcurrentWorkflows
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return &Orchestrator{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		sleep:      sleep,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		snapshots:  make(map[string]*cityconfig.WorkflowConfig),
	}, nil
}

// Submit accepts a citizen complaint. The submission is never rejected for
// incompleteness: missing optional fields come back as a ValidationError
// alongside the accepted issue, so the intake surface can prompt the
// citizen while processing already runs. Only a missing city or empty
// complaint text makes processing impossible and returns a hard error.
//
// Submit acknowledges synchronously with the tracking ID; agent processing
// happens afterwards (see Process and ProcessAsync).
func (o *Orchestrator) Submit(ctx context.Context, intake *types.Intake) (*types.Issue, *types.ValidationError, error) {
	if intake == nil {
		return nil, nil, fmt.Errorf("intake is required")
	}
	if intake.CityID == "" {
		return nil, nil, fmt.Errorf("intake: city_id is required")
	}
	if strings.TrimSpace(intake.Text) == "" {
		return nil, nil, fmt.Errorf("intake: complaint text is required")
	}

	var missing []string
	if intake.Location == nil {
		missing = append(missing, "location")
	}
	// Default on the issue, not on the caller's intake
	language := intake.Language
	if language == "" {
		missing = append(missing, "language")
		language = "en"
	}

	cfg := o.registry.Snapshot(intake.CityID)
	now := time.Now()
	issueID := "cf-" + uuid.New().String()[:8]
	workflowID := "wf-" + uuid.New().String()[:8]

	issue := &types.Issue{
		ID:            issueID,
		CityID:        intake.CityID,
		Text:          intake.Text,
		Language:      language,
		Location:      intake.Location,
		SubmittedAt:   now,
		CitizenRef:    intake.CitizenRef,
		Status:        types.StatusReceived,
		WorkflowID:    workflowID,
		AffectedCount: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	state := types.NewWorkflowState(workflowID, issueID, intake.CityID, cfg.SequenceOrder)

	if err := o.store.CreateIssue(ctx, issue); err != nil {
		return nil, nil, fmt.Errorf("failed to accept issue: %w", err)
	}
	if err := o.store.SaveWorkflow(ctx, state); err != nil {
		return nil, nil, fmt.Errorf("failed to create workflow for %s: %w", issueID, err)
	}
	// The intake record precedes every agent record in the trail
	if err := o.store.AppendRecord(ctx, audit.NewIntakeRecord(issue)); err != nil {
		return nil, nil, fmt.Errorf("failed to record intake for %s: %w", issueID, err)
	}

	o.mu.Lock()
	o.snapshots[workflowID] = cfg
	o.mu.Unlock()

	fmt.Printf("Accepted issue %s for %s (workflow %s)\n", issueID, intake.CityID, workflowID)

	if len(missing) > 0 {
		return issue, &types.ValidationError{MissingFields: missing}, nil
	}
	return issue, nil, nil
}

// Process runs an issue's workflow synchronously until it completes,
// escalates, or fails.
func (o *Orchestrator) Process(ctx context.Context, cityID, issueID string) error {
	issue, err := o.store.GetIssue(ctx, cityID, issueID)
	if err != nil {
		return err
	}
	state, err := o.store.GetWorkflow(ctx, cityID, issue.WorkflowID)
	if err != nil {
		return err
	}
	return o.processWorkflow(ctx, issue, state)
}

// ProcessAsync schedules an issue's workflow on the bounded worker pool
func (o *Orchestrator) ProcessAsync(ctx context.Context, cityID, issueID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sem.Acquire(ctx, 1); err != nil {
			fmt.Fprintf(os.Stderr, "workflow for %s not started: %v\n", issueID, err)
			return
		}
		defer o.sem.Release(1)

		if err := o.Process(ctx, cityID, issueID); err != nil && !types.NeedsIntervention(err) {
			fmt.Fprintf(os.Stderr, "workflow for %s: %v\n", issueID, err)
		}
	}()
}

// Wait blocks until all asynchronous workflows have finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// configFor returns the config snapshot captured at intake, falling back
// to the registry for workflows resumed after a restart.
func (o *Orchestrator) configFor(state *types.WorkflowState) *cityconfig.WorkflowConfig {
	o.mu.Lock()
	cfg, ok := o.snapshots[state.WorkflowID]
	o.mu.Unlock()
	if ok {
		return cfg
	}
	return o.registry.Snapshot(state.CityID)
}

// forget drops the in-memory config snapshot once a workflow is done
func (o *Orchestrator) forget(workflowID string) {
	o.mu.Lock()
	delete(o.snapshots, workflowID)
	o.mu.Unlock()
}
