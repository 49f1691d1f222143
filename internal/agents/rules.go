package agents

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/civicflow/civicflow/internal/types"
)

// RulesProvider backs the classifier and priority scorer with
// deterministic keyword rules. It serves development and test
// environments where no API key is available, and cities that opt out of
// model-backed processing. Same interface, same audit records, no
// network.
type RulesProvider struct{}

// NewRulesProvider creates the deterministic provider
func NewRulesProvider() *RulesProvider {
	return &RulesProvider{}
}

// Classifier returns the keyword-rule classification agent
func (p *RulesProvider) Classifier() Agent {
	return &rulesClassifier{}
}

// PriorityScorer returns the keyword-rule priority agent
func (p *RulesProvider) PriorityScorer() Agent {
	return &rulesPriorityScorer{}
}

// domainRule maps trigger keywords to a catalogue domain. Rules are
// checked in order; the rule with the most keyword hits wins.
type domainRule struct {
	domain   string
	keywords []string
}

var domainRules = []domainRule{
	{"Electricity/Street Lighting", []string{"streetlight", "street light", "lamp post", "lamppost", "street lamp"}},
	{"Electricity/Power Outage", []string{"power cut", "power outage", "no electricity", "blackout", "transformer"}},
	{"Roads/Potholes", []string{"pothole", "road damage", "crater", "road caved"}},
	{"Roads/Footpaths", []string{"footpath", "pavement", "sidewalk"}},
	{"Water Supply", []string{"water supply", "no water", "water pipe", "pipeline leak", "tap water"}},
	{"Sewage/Drainage", []string{"sewage", "drain", "drainage", "manhole", "gutter"}},
	{"Garbage/Sanitation", []string{"garbage", "trash", "waste", "rubbish", "dump"}},
	{"Parks/Public Spaces", []string{"park", "playground", "public garden"}},
	{"Traffic/Signals", []string{"traffic signal", "traffic light", "signal not working", "zebra crossing"}},
	{"Public Transport", []string{"bus stop", "bus shelter", "metro station"}},
	{"Stray Animals", []string{"stray dog", "stray cattle", "stray animal", "monkey menace"}},
	{"Mosquito/Pest Control", []string{"mosquito", "fogging", "pest", "rats"}},
	{"Illegal Construction", []string{"illegal construction", "unauthorised construction", "unauthorized building"}},
	{"Encroachment", []string{"encroachment", "footpath occupied", "illegal parking"}},
	{"Noise Pollution", []string{"noise", "loudspeaker", "loud music"}},
	{"Air Pollution", []string{"smoke", "air pollution", "burning waste", "dust"}},
	{"Public Health", []string{"dengue", "epidemic", "contaminated", "food safety"}},
}

type rulesClassifier struct{}

func (c *rulesClassifier) Type() types.AgentType { return types.AgentClassifier }

func (c *rulesClassifier) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.ToLower(req.Issue.Text)

	type match struct {
		domain  string
		hits    int
		keyword string
	}
	var matches []match
	for _, rule := range domainRules {
		if !req.Config.HasDomain(rule.domain) {
			continue
		}
		hits := 0
		first := ""
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				hits++
				if first == "" {
					first = kw
				}
			}
		}
		if hits > 0 {
			matches = append(matches, match{domain: rule.domain, hits: hits, keyword: first})
		}
	}

	if len(matches) == 0 {
		domain := "Other"
		if !req.Config.HasDomain(domain) {
			domain = req.Config.Domains[0]
		}
		classification := &types.Classification{
			Domain:     domain,
			Confidence: 0.3,
			Reasoning:  "no known complaint keywords matched; needs manual categorisation",
		}
		return &Result{
			Classification: classification,
			Confidence:     classification.Confidence,
			Reasoning:      classification.Reasoning,
		}, nil
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].hits > matches[j].hits })
	best := matches[0]

	confidence := 0.85
	if len(matches) > 1 && matches[1].hits == best.hits {
		// Competing domains matched equally well
		confidence = 0.55
	}
	var alternatives []string
	for _, m := range matches[1:] {
		alternatives = append(alternatives, m.domain)
	}

	classification := &types.Classification{
		Domain:       best.domain,
		Confidence:   confidence,
		Reasoning:    fmt.Sprintf("complaint mentions %q, which maps to %s", best.keyword, best.domain),
		Alternatives: alternatives,
	}
	return &Result{
		Classification: classification,
		Confidence:     classification.Confidence,
		Reasoning:      classification.Reasoning,
	}, nil
}

// severity/urgency keyword tiers, strongest first
var (
	criticalSeverityWords = []string{"electrocut", "death", "fatal", "life-threatening", "collapsed building", "gas leak"}
	highSeverityWords     = []string{"live wire", "sparking", "accident", "injur", "fire", "flood", "open manhole", "sewage overflow", "unsafe", "danger"}
	highUrgencyWords      = []string{"immediately", "urgent", "emergency", "right now", "today"}
	midUrgencyWords       = []string{"school", "hospital", "children", "elderly", "main road"}
)

// A problem left unfixed for weeks or months stops being routine even
// when no hazard words appear
var longstandingPattern = regexp.MustCompile(`for (?:the past )?(?:\d+|a|two|three|four|several|many) (?:week|month)s?\b|for (?:weeks|months)\b|since last`)

type rulesPriorityScorer struct{}

func (s *rulesPriorityScorer) Type() types.AgentType { return types.AgentPriorityScorer }

func (s *rulesPriorityScorer) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.ToLower(req.Issue.Text)

	severity := 2
	severityWhy := "no hazard indicators in the complaint"
	switch {
	case containsAny(text, criticalSeverityWords):
		severity = 5
		severityWhy = "complaint describes a life-threatening hazard"
	case containsAny(text, highSeverityWords):
		severity = 4
		severityWhy = "complaint describes a safety hazard"
	}

	urgency := 2
	urgencyWhy := "no time-critical indicators"
	switch {
	case containsAny(text, highUrgencyWords) || severity >= 4:
		urgency = 4
		urgencyWhy = "complaint asks for immediate action"
	case containsAny(text, midUrgencyWords):
		urgency = 3
		urgencyWhy = "complaint affects a sensitive location"
	case longstandingPattern.MatchString(text):
		urgency = 3
		urgencyWhy = "problem has gone unfixed for an extended period"
	}

	// Many citizens reporting the same problem raises urgency
	if req.Issue.AffectedCount > 5 && urgency < 4 {
		urgency++
		urgencyWhy = fmt.Sprintf("%d citizens reported the same problem", req.Issue.AffectedCount)
	}

	score := &types.PriorityScore{
		Severity:  severity,
		Urgency:   urgency,
		Reasoning: fmt.Sprintf("severity %d: %s; urgency %d: %s", severity, severityWhy, urgency, urgencyWhy),
	}
	score.Normalize()

	return &Result{
		Priority:   score,
		Confidence: 0.8,
		Reasoning:  score.Reasoning,
	}, nil
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
