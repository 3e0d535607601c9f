package correlation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hive-corporation/threatscope/internal/cache"
	"github.com/hive-corporation/threatscope/internal/core/domain"
	"github.com/hive-corporation/threatscope/internal/core/ports"
)

func newTestEngine(t *testing.T, connectors []ports.Connector, reasoner ports.Reasoner, weights map[string]float64) *Engine {
	t.Helper()
	store := cache.NewMemoryStore(0)
	reportCache := cache.New(store, nil)
	t.Cleanup(func() { reportCache.Close() })

	rules, err := NewRuleEngine("")
	if err != nil {
		t.Fatal(err)
	}
	kb := newFakeTaxonomy()
	return NewEngine(
		NewAggregator(connectors, reasoner, nil),
		NewMapper(kb, DefaultFuzzyThreshold),
		NewScorer(weights, "llm-reasoner"),
		rules,
		kb,
		reportCache,
		EngineConfig{GatherTimeout: time.Second, CacheTTL: time.Hour},
		nil,
	)
}

func TestCorrelateKnownBadIP(t *testing.T) {
	connectors := []ports.Connector{
		&stubConnector{name: "feed-a", finding: okFinding([]string{"phishing", "command and control"}, 80)},
		&stubConnector{name: "feed-b", finding: okFinding([]string{"phishing"}, 60)},
		&stubConnector{name: "feed-c", err: context.DeadlineExceeded},
	}
	weights := map[string]float64{"feed-a": 0.4, "feed-b": 0.4, "feed-c": 0.2}
	e := newTestEngine(t, connectors, nil, weights)

	report, hit, err := e.Correlate(context.Background(), "192.168.1.100", "")
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("first correlation must not be a cache hit")
	}

	// feed-c's weight redistributed: (0.4/0.8)*80 + (0.4/0.8)*60 = 70.
	if report.Score != 70 {
		t.Errorf("score = %d, want 70", report.Score)
	}
	if report.Severity != "HIGH" {
		t.Errorf("severity = %s, want HIGH", report.Severity)
	}
	if report.IOC.CacheKey() != "ip:192.168.1.100" {
		t.Errorf("cache key = %s", report.IOC.CacheKey())
	}

	// Techniques deduped across sources and ordered by ID.
	if len(report.Techniques) != 2 ||
		report.Techniques[0].TechniqueID != "T1071" ||
		report.Techniques[1].TechniqueID != "T1566" {
		t.Errorf("techniques = %+v", report.Techniques)
	}
	// Phishing corroborated by both feeds: noisy-or lifts confidence above
	// a single exact match would alone... both are 1.0 here, so exactly 1.
	if report.Techniques[1].AggregateConfidence != 1 {
		t.Errorf("T1566 confidence = %v", report.Techniques[1].AggregateConfidence)
	}

	if len(report.SourcesConsulted) != 3 {
		t.Errorf("consulted = %v", report.SourcesConsulted)
	}
	if len(report.SourcesFailed) != 1 || report.SourcesFailed[0] != "feed-c" {
		t.Errorf("failed = %v", report.SourcesFailed)
	}
	if report.CoverageRatio != 1 {
		t.Errorf("coverage = %v, want 1", report.CoverageRatio)
	}
	if report.TaxonomyVersion != "test-taxonomy-1" {
		t.Errorf("taxonomy version = %s", report.TaxonomyVersion)
	}
	if len(report.Recommendations) == 0 {
		t.Error("no recommendations for a HIGH report")
	}
	if report.ID == "" || report.ComputedAt.IsZero() || report.TTLExpiresAt.IsZero() {
		t.Errorf("metadata incomplete: %+v", report)
	}

	total := 0.0
	for _, c := range report.ScoreBreakdown {
		total += c
	}
	if total < 69.5 || total > 70.5 {
		t.Errorf("breakdown sums to %v, want ~70", total)
	}
}

func TestCorrelateServesFromCache(t *testing.T) {
	connectors := []ports.Connector{
		&stubConnector{name: "feed-a", finding: okFinding([]string{"phishing"}, 80)},
	}
	e := newTestEngine(t, connectors, nil, map[string]float64{"feed-a": 1})

	first, hit, err := e.Correlate(context.Background(), "192.168.1.100", "")
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	second, hit, err := e.Correlate(context.Background(), "192.168.1.100", "")
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Error("second call must be a cache hit")
	}
	if second.ID != first.ID {
		t.Errorf("cached report differs: %s vs %s", second.ID, first.ID)
	}

	stats := e.CacheStats()
	if stats.Computations != 1 || stats.Hits != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCorrelateInvalidIOCLeavesNoTrace(t *testing.T) {
	calls := 0
	counting := &countingConnector{inner: &stubConnector{name: "feed-a", finding: okFinding(nil, 50)}, calls: &calls}
	e := newTestEngine(t, []ports.Connector{counting}, nil, map[string]float64{"feed-a": 1})

	_, _, err := e.Correlate(context.Background(), "!!!not-an-ioc!!!", "")
	if err == nil {
		t.Fatal("expected error for invalid indicator")
	}
	if calls != 0 {
		t.Errorf("sources were queried %d times for an invalid indicator", calls)
	}
	if stats := e.CacheStats(); stats.Computations != 0 || stats.Misses != 0 {
		t.Errorf("cache was touched: %+v", stats)
	}
}

func TestCorrelateAllSourcesFailing(t *testing.T) {
	connectors := []ports.Connector{
		&stubConnector{name: "feed-a", err: context.DeadlineExceeded},
		&stubConnector{name: "feed-b", err: errors.New("upstream exploded")},
	}
	e := newTestEngine(t, connectors, nil, map[string]float64{"feed-a": 0.5, "feed-b": 0.5})

	report, hit, err := e.Correlate(context.Background(), "192.168.1.100", "")
	if err != nil {
		t.Fatalf("total source failure must still yield a report, got error: %v", err)
	}
	if hit {
		t.Error("first correlation must not be a cache hit")
	}
	if report.Score != 0 || report.Severity != "INFO" {
		t.Errorf("score = %d severity = %s, want 0 / INFO", report.Score, report.Severity)
	}
	if len(report.Techniques) != 0 {
		t.Errorf("techniques = %+v, want none", report.Techniques)
	}
	if len(report.SourcesFailed) != 2 {
		t.Errorf("failed = %v, want both sources", report.SourcesFailed)
	}
	if report.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 with no responders", report.Confidence)
	}

	// The degraded report is still cached like any other.
	second, hit, err := e.Correlate(context.Background(), "192.168.1.100", "")
	if err != nil {
		t.Fatal(err)
	}
	if !hit || second.ID != report.ID {
		t.Errorf("second call: hit=%v id=%s, want cached report %s", hit, second.ID, report.ID)
	}
}

func TestCorrelateSurfacesRelatedThreats(t *testing.T) {
	connectors := []ports.Connector{
		&stubConnector{name: "feed-a", finding: okFinding([]string{"phishing"}, 80)},
	}
	e := newTestEngine(t, connectors, nil, map[string]float64{"feed-a": 1})

	first, _, err := e.Correlate(context.Background(), "10.0.1.5", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.RelatedThreats) != 0 {
		t.Errorf("first report has relations: %+v", first.RelatedThreats)
	}

	// Same /24 subnet: the earlier indicator shows up as related.
	second, _, err := e.Correlate(context.Background(), "10.0.1.200", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(second.RelatedThreats) != 1 {
		t.Fatalf("related = %+v, want the earlier neighbour", second.RelatedThreats)
	}
	rel := second.RelatedThreats[0]
	if rel.Value != "10.0.1.5" || rel.Type != domain.IPAddress || rel.Similarity != 0.8 {
		t.Errorf("relation = %+v", rel)
	}
	if rel.Score != first.Score || rel.Severity != first.Severity {
		t.Errorf("relation carries %d/%s, want %d/%s", rel.Score, rel.Severity, first.Score, first.Severity)
	}

	stats := e.CorrelatorStats()
	if stats.TotalThreats != 2 || stats.ByType["ip"] != 2 {
		t.Errorf("correlator stats = %+v", stats)
	}
}

func TestCorrelateDeterministicForSameEvidence(t *testing.T) {
	build := func() *Engine {
		return newTestEngine(t, []ports.Connector{
			&stubConnector{name: "feed-a", finding: okFinding([]string{"phishing", "brute force"}, 75)},
			&stubConnector{name: "feed-b", finding: okFinding([]string{"command and control"}, 55)},
		}, nil, map[string]float64{"feed-a": 0.6, "feed-b": 0.4})
	}

	r1, _, err := build().Correlate(context.Background(), "192.168.1.100", "")
	if err != nil {
		t.Fatal(err)
	}
	r2, _, err := build().Correlate(context.Background(), "192.168.1.100", "")
	if err != nil {
		t.Fatal(err)
	}

	if r1.Score != r2.Score {
		t.Errorf("scores differ: %d vs %d", r1.Score, r2.Score)
	}
	if len(r1.Techniques) != len(r2.Techniques) {
		t.Fatalf("technique counts differ: %d vs %d", len(r1.Techniques), len(r2.Techniques))
	}
	for i := range r1.Techniques {
		if r1.Techniques[i].TechniqueID != r2.Techniques[i].TechniqueID {
			t.Errorf("technique order differs at %d: %s vs %s",
				i, r1.Techniques[i].TechniqueID, r2.Techniques[i].TechniqueID)
		}
	}
}

func TestCorrelateReasonerDescriptionAndConfidence(t *testing.T) {
	reasoner := &stubReasoner{result: domain.ReasoningResult{
		FreeText:   "likely phishing infrastructure",
		Confidence: 0.8,
		Labels:     []string{"phishing"},
	}}
	e := newTestEngine(t, []ports.Connector{
		&stubConnector{name: "feed-a", finding: okFinding([]string{"phishing"}, 80)},
	}, reasoner, map[string]float64{"feed-a": 0.7, "llm-reasoner": 0.3})

	report, _, err := e.Correlate(context.Background(), "192.168.1.100", "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Description != "likely phishing infrastructure" {
		t.Errorf("description = %q", report.Description)
	}
	if report.Confidence != 0.8 {
		t.Errorf("confidence = %v, want reasoner's 0.8", report.Confidence)
	}
}

func TestReportConfidenceWithoutReasoner(t *testing.T) {
	tests := []struct {
		ok   int
		want float64
	}{
		{0, 0}, {1, 0.5}, {2, 0.65}, {3, 0.75}, {4, 0.75},
	}
	for _, tt := range tests {
		var findings []domain.SourceFinding
		for i := 0; i < tt.ok; i++ {
			findings = append(findings, okFinding(nil, 50))
		}
		if got := reportConfidence(findings, tt.ok); got != tt.want {
			t.Errorf("reportConfidence(%d responders) = %v, want %v", tt.ok, got, tt.want)
		}
	}
}

func TestAggregateTechniquesNoisyOr(t *testing.T) {
	mappings := []domain.TTPMapping{
		{TechniqueID: "T1566", Confidence: 0.9, MatchKind: domain.MatchExact},
		{TechniqueID: "T1566", Confidence: 0.8, MatchKind: domain.MatchFuzzy},
		{MatchKind: domain.MatchUnmapped},
	}
	out := aggregateTechniques(mappings, func(string) []string { return []string{"TA0001"} })
	if len(out) != 1 {
		t.Fatalf("got %d techniques, want 1", len(out))
	}
	want := 1 - (1-0.9)*(1-0.8)
	if diff := out[0].AggregateConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", out[0].AggregateConfidence, want)
	}
}

// countingConnector counts Fetch calls.
type countingConnector struct {
	inner ports.Connector
	calls *int
}

func (c *countingConnector) Name() string { return c.inner.Name() }

func (c *countingConnector) Fetch(ctx context.Context, ioc domain.IOC) (domain.SourceFinding, error) {
	*c.calls++
	return c.inner.Fetch(ctx, ioc)
}
