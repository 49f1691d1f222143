// Package agents defines the uniform capability contract every AI agent
// implements, and the dispatcher that invokes agents with bounded
// concurrency, rate limiting, timeouts, and a circuit breaker.
//
// Providers are configuration, not branching logic: the orchestrator only
// ever sees the Agent interface, whether the capability behind it is an
// Anthropic model, the deterministic rules provider, or the local
// similarity engine.
package agents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/civicflow/civicflow/internal/cityconfig"
	"github.com/civicflow/civicflow/internal/types"
)

// Agent is the uniform capability contract. Implementations must treat
// low confidence as a normal result, never an error; an error return
// means the invocation itself failed (network, provider, timeout).
type Agent interface {
	// Type identifies the capability this agent provides
	Type() types.AgentType

	// Execute runs the capability against the issue and the accumulated
	// pipeline context. Implementations must honor ctx cancellation.
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Context carries the outputs of prior steps so later agents can see
// them: the priority scorer receives the classification, the duplicate
// detector receives both.
type Context struct {
	Classification *types.Classification    `json:"classification,omitempty"`
	Priority       *types.PriorityScore     `json:"priority,omitempty"`
	Similar        []types.SimilarityResult `json:"similar,omitempty"`
}

// Request is one agent invocation. Issue and Config are snapshots owned
// by the caller; agents must not mutate them.
type Request struct {
	Issue   *types.Issue
	Context *Context
	Config  *cityconfig.WorkflowConfig
}

// Payload serializes the request for the audit trail's opaque input slot
func (r *Request) Payload() json.RawMessage {
	payload, err := json.Marshal(map[string]interface{}{
		"issue_id": r.Issue.ID,
		"text":     r.Issue.Text,
		"language": r.Issue.Language,
		"context":  r.Context,
	})
	if err != nil {
		return nil
	}
	return payload
}

// Result is the outcome of a successful invocation. Exactly one of the
// typed payloads is set, depending on the agent type.
type Result struct {
	// Classification is set by classifier agents
	Classification *types.Classification
	// Priority is set by priority scorer agents
	Priority *types.PriorityScore
	// Similar is set by duplicate detector agents
	Similar []types.SimilarityResult

	// Confidence is the agent's confidence in its own output, [0,1]
	Confidence float64
	// Reasoning is the human-readable explanation; surfaced verbatim by
	// the explainability engine, so it must never be empty
	Reasoning string
	// Latency is how long the provider call took
	Latency time.Duration
}

// Payload serializes the typed output for the audit trail
func (r *Result) Payload() json.RawMessage {
	out := map[string]interface{}{
		"confidence": r.Confidence,
		"reasoning":  r.Reasoning,
		"latency_ms": r.Latency.Milliseconds(),
	}
	if r.Classification != nil {
		out["classification"] = r.Classification
	}
	if r.Priority != nil {
		out["priority"] = r.Priority
	}
	if r.Similar != nil {
		out["similar"] = r.Similar
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return payload
}
