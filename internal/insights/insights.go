// Package insights builds reporting on top of the storage aggregates:
// weekly summaries, emerging issue detection against a rolling baseline,
// and resolution metrics. Report generation runs off the per-issue path
// and never mutates issue or workflow state.
package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/civicflow/civicflow/internal/storage"
)

// Narrator turns a report summary into prose. The AI provider satisfies
// this; reports work without one.
type Narrator interface {
	Narrate(ctx context.Context, prompt string) (string, error)
}

// Config tunes emerging-issue detection
type Config struct {
	// Window is the reporting period (default one week)
	Window time.Duration
	// BaselineWindows is how many prior windows form the rolling baseline
	BaselineWindows int
	// GrowthThreshold flags a (domain, area) pair when its count exceeds
	// the baseline average by this factor
	GrowthThreshold float64
	// MinCount suppresses noise from tiny absolute counts
	MinCount int
	// TopN caps the domain and area lists in reports
	TopN int
}

// DefaultConfig returns the default insights configuration
func DefaultConfig() Config {
	return Config{
		Window:          7 * 24 * time.Hour,
		BaselineWindows: 4,
		GrowthThreshold: 1.5,
		MinCount:        3,
		TopN:            5,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("insights: window must be positive (got %v)", c.Window)
	}
	if c.BaselineWindows < 1 {
		return fmt.Errorf("insights: baseline_windows must be at least 1 (got %d)", c.BaselineWindows)
	}
	if c.GrowthThreshold <= 1.0 {
		return fmt.Errorf("insights: growth_threshold must exceed 1.0 (got %.2f)", c.GrowthThreshold)
	}
	if c.MinCount < 1 {
		return fmt.Errorf("insights: min_count must be at least 1 (got %d)", c.MinCount)
	}
	if c.TopN < 1 {
		return fmt.Errorf("insights: top_n must be at least 1 (got %d)", c.TopN)
	}
	return nil
}

// EmergingIssue flags a (domain, area) pair whose complaint volume and
// severity are growing against their rolling baselines.
type EmergingIssue struct {
	Domain string `json:"domain"`
	// Area is the reported area; empty when the complaints carried none
	Area string `json:"area,omitempty"`
	// Current is the count in the reporting window
	Current int `json:"current"`
	// Baseline is the average count per prior window
	Baseline float64 `json:"baseline"`
	// Growth is Current relative to Baseline; 0 when there is no baseline
	Growth float64 `json:"growth"`
	// Severity is the mean reported severity in the window
	Severity float64 `json:"severity"`
	// BaselineSeverity is the mean over the prior windows
	BaselineSeverity float64 `json:"baseline_severity"`
}

// Label renders the pair for display
func (e EmergingIssue) Label() string {
	if e.Area == "" {
		return e.Domain
	}
	return e.Domain + " in " + e.Area
}

// WeeklyReport is the periodic summary for a city
type WeeklyReport struct {
	CityID      string                   `json:"city_id"`
	From        time.Time                `json:"from"`
	To          time.Time                `json:"to"`
	TotalIssues int                      `json:"total_issues"`
	TopDomains  []storage.DomainCount    `json:"top_domains"`
	TopAreas    []storage.AreaCount      `json:"top_areas"`
	Resolution  []storage.ResolutionStat `json:"resolution"`
	Emerging    []EmergingIssue          `json:"emerging"`
	Narrative   string                   `json:"narrative,omitempty"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// Generator produces reports from storage aggregates
type Generator struct {
	store    storage.Storage
	narrator Narrator
	config   Config
}

// NewGenerator creates a report generator. The narrator may be nil;
// reports then carry a plain summary instead of prose.
func NewGenerator(store storage.Storage, narrator Narrator, cfg Config) (*Generator, error) {
	if store == nil {
		return nil, fmt.Errorf("insights: storage is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{store: store, narrator: narrator, config: cfg}, nil
}

// WeeklyReport builds the summary for the window ending at asOf
func (g *Generator) WeeklyReport(ctx context.Context, cityID string, asOf time.Time) (*WeeklyReport, error) {
	from := asOf.Add(-g.config.Window)

	domains, err := g.store.CountByDomain(ctx, cityID, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("weekly report for %s: %w", cityID, err)
	}
	areas, err := g.store.CountByArea(ctx, cityID, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("weekly report for %s: %w", cityID, err)
	}
	resolution, err := g.store.ResolutionStats(ctx, cityID, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("weekly report for %s: %w", cityID, err)
	}
	emerging, err := g.IdentifyEmergingIssues(ctx, cityID, asOf)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, d := range domains {
		total += d.Count
	}

	report := &WeeklyReport{
		CityID:      cityID,
		From:        from,
		To:          asOf,
		TotalIssues: total,
		TopDomains:  topDomains(domains, g.config.TopN),
		TopAreas:    topAreas(areas, g.config.TopN),
		Resolution:  resolution,
		Emerging:    emerging,
		GeneratedAt: time.Now(),
	}
	report.Narrative = g.narrative(ctx, report)
	return report, nil
}

// IdentifyEmergingIssues compares each (domain, area) pair's count and
// mean severity in the current window against their averages over the
// prior baseline windows. Both signals must clear their baseline: volume
// by the growth factor, severity by not dropping below the prior mean. A
// pair with no baseline is flagged as soon as it clears MinCount.
func (g *Generator) IdentifyEmergingIssues(ctx context.Context, cityID string, asOf time.Time) ([]EmergingIssue, error) {
	from := asOf.Add(-g.config.Window)
	current, err := g.store.CountByDomainArea(ctx, cityID, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("emerging issues for %s: %w", cityID, err)
	}

	baselineFrom := from.Add(-time.Duration(g.config.BaselineWindows) * g.config.Window)
	prior, err := g.store.CountByDomainArea(ctx, cityID, baselineFrom, from)
	if err != nil {
		return nil, fmt.Errorf("emerging issues for %s: %w", cityID, err)
	}
	type pair struct{ domain, area string }
	type base struct {
		count    float64
		severity float64
	}
	baseline := make(map[pair]base, len(prior))
	for _, s := range prior {
		baseline[pair{s.Domain, s.Area}] = base{
			count:    float64(s.Count) / float64(g.config.BaselineWindows),
			severity: s.AvgSeverity,
		}
	}

	var emerging []EmergingIssue
	for _, s := range current {
		if s.Count < g.config.MinCount {
			continue
		}
		b := baseline[pair{s.Domain, s.Area}]
		if b.count == 0 {
			emerging = append(emerging, EmergingIssue{
				Domain: s.Domain, Area: s.Area, Current: s.Count, Severity: s.AvgSeverity,
			})
			continue
		}
		growth := float64(s.Count) / b.count
		if growth >= g.config.GrowthThreshold && s.AvgSeverity >= b.severity {
			emerging = append(emerging, EmergingIssue{
				Domain:           s.Domain,
				Area:             s.Area,
				Current:          s.Count,
				Baseline:         b.count,
				Growth:           growth,
				Severity:         s.AvgSeverity,
				BaselineSeverity: b.severity,
			})
		}
	}
	sort.Slice(emerging, func(i, j int) bool {
		if emerging[i].Current != emerging[j].Current {
			return emerging[i].Current > emerging[j].Current
		}
		if emerging[i].Domain != emerging[j].Domain {
			return emerging[i].Domain < emerging[j].Domain
		}
		return emerging[i].Area < emerging[j].Area
	})
	return emerging, nil
}

// AnalyzeResolutionMetrics returns per-domain resolution stats for the
// window, slowest domains first.
func (g *Generator) AnalyzeResolutionMetrics(ctx context.Context, cityID string, since, until time.Time) ([]storage.ResolutionStat, error) {
	stats, err := g.store.ResolutionStats(ctx, cityID, since, until)
	if err != nil {
		return nil, fmt.Errorf("resolution metrics for %s: %w", cityID, err)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].AvgResolution != stats[j].AvgResolution {
			return stats[i].AvgResolution > stats[j].AvgResolution
		}
		return stats[i].Domain < stats[j].Domain
	})
	return stats, nil
}

// CompareAreas returns per-area complaint counts for the window, busiest
// areas first.
func (g *Generator) CompareAreas(ctx context.Context, cityID string, since, until time.Time) ([]storage.AreaCount, error) {
	areas, err := g.store.CountByArea(ctx, cityID, since, until)
	if err != nil {
		return nil, fmt.Errorf("area comparison for %s: %w", cityID, err)
	}
	sort.Slice(areas, func(i, j int) bool {
		if areas[i].Count != areas[j].Count {
			return areas[i].Count > areas[j].Count
		}
		return areas[i].Area < areas[j].Area
	})
	return areas, nil
}

// narrative asks the provider for prose over the report facts, falling
// back to the plain summary when no narrator is configured or the call
// fails. A narration failure never fails the report.
func (g *Generator) narrative(ctx context.Context, report *WeeklyReport) string {
	summary := summarize(report)
	if g.narrator == nil {
		return summary
	}
	prompt := fmt.Sprintf(`Write a short weekly civic issues briefing for city administrators.
Use only the facts below, do not invent numbers.

%s`, summary)
	prose, err := g.narrator.Narrate(ctx, prompt)
	if err != nil || strings.TrimSpace(prose) == "" {
		fmt.Printf("Report narration unavailable for %s, using plain summary\n", report.CityID)
		return summary
	}
	return strings.TrimSpace(prose)
}

func summarize(r *WeeklyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d issues reported in %s between %s and %s.\n",
		r.TotalIssues, r.CityID, r.From.Format("2006-01-02"), r.To.Format("2006-01-02"))
	for _, d := range r.TopDomains {
		fmt.Fprintf(&b, "- %s: %d\n", d.Domain, d.Count)
	}
	for _, e := range r.Emerging {
		if e.Baseline == 0 {
			fmt.Fprintf(&b, "Emerging: %s (%d new, no prior reports)\n", e.Label(), e.Current)
		} else {
			fmt.Fprintf(&b, "Emerging: %s (%d vs weekly baseline %.1f, %.1fx, severity %.1f vs %.1f)\n",
				e.Label(), e.Current, e.Baseline, e.Growth, e.Severity, e.BaselineSeverity)
		}
	}
	for _, s := range r.Resolution {
		fmt.Fprintf(&b, "Resolution: %s averaged %s over %d resolved\n",
			s.Domain, s.AvgResolution.Round(time.Hour), s.Resolved)
	}
	return b.String()
}

func topDomains(counts []storage.DomainCount, n int) []storage.DomainCount {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Domain < counts[j].Domain
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

func topAreas(counts []storage.AreaCount, n int) []storage.AreaCount {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Area < counts[j].Area
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
