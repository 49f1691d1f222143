package agents

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/civicflow/civicflow/internal/types"
)

// Model selection is tiered by task complexity: classification and
// priority scoring need real reasoning, report narration does not.
//
// Environment variable overrides:
// - CIVICFLOW_MODEL_DEFAULT: override the default model
// - CIVICFLOW_MODEL_SIMPLE: override the model for simple tasks
const (
	// ModelSonnet is the high-end model for reasoning tasks
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for simple tasks
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// DefaultModel returns the default model, checking CIVICFLOW_MODEL_DEFAULT first
func DefaultModel() string {
	if model := os.Getenv("CIVICFLOW_MODEL_DEFAULT"); model != "" {
		return model
	}
	return ModelSonnet
}

// SimpleTaskModel returns the model for simple tasks, checking CIVICFLOW_MODEL_SIMPLE first
func SimpleTaskModel() string {
	if model := os.Getenv("CIVICFLOW_MODEL_SIMPLE"); model != "" {
		return model
	}
	return ModelHaiku
}

// ProviderConfig holds Anthropic provider configuration
type ProviderConfig struct {
	// APIKey is the Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	APIKey string
	// Model is the reasoning model (default: DefaultModel())
	Model string
	// SimpleModel is the model for narration tasks (default: SimpleTaskModel())
	SimpleModel string
}

// AnthropicProvider backs the classifier and priority scorer agents with
// the Anthropic API. One provider serves all cities; per-city behavior
// comes from the request's config snapshot, not from provider state.
type AnthropicProvider struct {
	client      *anthropic.Client
	model       string
	simpleModel string
}

// NewAnthropicProvider creates the provider
func NewAnthropicProvider(cfg *ProviderConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel()
	}
	simpleModel := cfg.SimpleModel
	if simpleModel == "" {
		simpleModel = SimpleTaskModel()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		client:      &client,
		model:       model,
		simpleModel: simpleModel,
	}, nil
}

// Classifier returns the classification agent backed by this provider
func (p *AnthropicProvider) Classifier() Agent {
	return &anthropicClassifier{provider: p}
}

// PriorityScorer returns the priority scoring agent backed by this provider
func (p *AnthropicProvider) PriorityScorer() Agent {
	return &anthropicPriorityScorer{provider: p}
}

// Narrate produces free-form prose for report narration using the
// cost-efficient model.
func (p *AnthropicProvider) Narrate(ctx context.Context, prompt string) (string, error) {
	return p.complete(ctx, p.simpleModel, prompt)
}

// Translate renders text into the target language without adding or
// removing content. Used by the explanation surface; decisions themselves
// are never re-derived here.
func (p *AnthropicProvider) Translate(ctx context.Context, text, lang string) (string, error) {
	prompt := fmt.Sprintf(`Translate the following text into the language with ISO 639-1 code %q.
Preserve the meaning exactly, add nothing, omit nothing. Reply with the translation only.

%s`, lang, text)
	return p.complete(ctx, p.simpleModel, prompt)
}

// complete sends one prompt and concatenates the text blocks of the reply
func (p *AnthropicProvider) complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic API returned an empty response")
	}
	return text.String(), nil
}

type anthropicClassifier struct {
	provider *AnthropicProvider
}

func (a *anthropicClassifier) Type() types.AgentType { return types.AgentClassifier }

// classifierWire is the JSON shape the model is asked to produce
type classifierWire struct {
	Domain       string   `json:"domain"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	Alternatives []string `json:"alternatives"`
}

func (a *anthropicClassifier) Execute(ctx context.Context, req *Request) (*Result, error) {
	prompt := buildClassifierPrompt(req)
	start := time.Now()

	text, err := a.provider.complete(ctx, a.provider.model, prompt)
	if err != nil {
		return nil, err
	}

	var wire classifierWire
	if err := decodeResponse(text, &wire); err != nil {
		return nil, fmt.Errorf("classifier response: %w", err)
	}
	if wire.Confidence < 0 {
		wire.Confidence = 0
	}
	if wire.Confidence > 1 {
		wire.Confidence = 1
	}
	if !req.Config.HasDomain(wire.Domain) {
		return nil, fmt.Errorf("classifier returned domain %q which is not in the city catalogue", wire.Domain)
	}

	classification := &types.Classification{
		Domain:       wire.Domain,
		Confidence:   wire.Confidence,
		Reasoning:    wire.Reasoning,
		Alternatives: wire.Alternatives,
	}
	if err := classification.Validate(); err != nil {
		return nil, fmt.Errorf("classifier response: %w", err)
	}

	return &Result{
		Classification: classification,
		Confidence:     classification.Confidence,
		Reasoning:      classification.Reasoning,
		Latency:        time.Since(start),
	}, nil
}

func buildClassifierPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("You classify civic complaints for a city grievance system.\n\n")
	fmt.Fprintf(&b, "Complaint (language: %s):\n%s\n\n", req.Issue.Language, req.Issue.Text)
	if req.Issue.Location != nil && req.Issue.Location.Area != "" {
		fmt.Fprintf(&b, "Reported area: %s\n\n", req.Issue.Location.Area)
	}
	b.WriteString("Choose exactly one domain from this catalogue:\n")
	for _, d := range req.Config.Domains {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	b.WriteString(`
Respond with JSON only:
{
  "domain": "<one catalogue entry, verbatim>",
  "confidence": <0.0-1.0>,
  "reasoning": "<one or two sentences a citizen could understand>",
  "alternatives": ["<other plausible domains, most likely first>"]
}
If the complaint is ambiguous, pick the best match and lower your confidence.`)
	return b.String()
}

type anthropicPriorityScorer struct {
	provider *AnthropicProvider
}

func (a *anthropicPriorityScorer) Type() types.AgentType { return types.AgentPriorityScorer }

type priorityWire struct {
	Severity   int     `json:"severity"`
	Urgency    int     `json:"urgency"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (a *anthropicPriorityScorer) Execute(ctx context.Context, req *Request) (*Result, error) {
	prompt := buildPriorityPrompt(req)
	start := time.Now()

	text, err := a.provider.complete(ctx, a.provider.model, prompt)
	if err != nil {
		return nil, err
	}

	var wire priorityWire
	if err := decodeResponse(text, &wire); err != nil {
		return nil, fmt.Errorf("priority response: %w", err)
	}
	if wire.Confidence < 0 {
		wire.Confidence = 0
	}
	if wire.Confidence > 1 {
		wire.Confidence = 1
	}

	score := &types.PriorityScore{
		Severity:  wire.Severity,
		Urgency:   wire.Urgency,
		Reasoning: wire.Reasoning,
	}
	// Derived fields are computed locally, never trusted from the wire
	score.Normalize()
	if err := score.Validate(); err != nil {
		return nil, fmt.Errorf("priority response: %w", err)
	}

	return &Result{
		Priority:   score,
		Confidence: wire.Confidence,
		Reasoning:  score.Reasoning,
		Latency:    time.Since(start),
	}, nil
}

func buildPriorityPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("You score civic complaints for severity and urgency.\n\n")
	fmt.Fprintf(&b, "Complaint:\n%s\n\n", req.Issue.Text)
	if req.Context != nil && req.Context.Classification != nil {
		fmt.Fprintf(&b, "Classified domain: %s\n\n", req.Context.Classification.Domain)
	}
	if req.Issue.AffectedCount > 1 {
		fmt.Fprintf(&b, "Linked duplicate reports: %d citizens affected\n\n", req.Issue.AffectedCount)
	}
	b.WriteString(`Severity is how harmful the issue is (1 = cosmetic, 5 = danger to life).
Urgency is how time-critical a response is (1 = can wait weeks, 5 = respond today).

Respond with JSON only:
{
  "severity": <1-5 integer>,
  "urgency": <1-5 integer>,
  "confidence": <0.0-1.0>,
  "reasoning": "<one or two sentences a citizen could understand>"
}`)
	return b.String()
}
