package correlation

import (
	"context"
	"time"

	"github.com/hive-corporation/threatscope/internal/core/domain"
	"github.com/hive-corporation/threatscope/internal/core/ports"
)

// fakeTaxonomy resolves from a fixed table, in the same deterministic order
// the real knowledge base guarantees.
type fakeTaxonomy struct {
	labels  map[string][]ports.TechniqueCandidate
	tactics map[string][]string
}

func newFakeTaxonomy() *fakeTaxonomy {
	return &fakeTaxonomy{
		labels: map[string][]ports.TechniqueCandidate{
			"phishing":            {{TechniqueID: "T1566", Similarity: 1, Exact: true}},
			"spearphishing":       {{TechniqueID: "T1566", Similarity: 1, Alias: true}},
			"phishin":             {{TechniqueID: "T1566", Similarity: 0.875}},
			"command and control": {{TechniqueID: "T1071", Similarity: 1, Exact: true}},
			"brute force":         {{TechniqueID: "T1110", Similarity: 1, Exact: true}},
			"weak match":          {{TechniqueID: "T1071", Similarity: 0.6}},
		},
		tactics: map[string][]string{
			"T1566": {"TA0001"},
			"T1071": {"TA0011"},
			"T1110": {"TA0006"},
		},
	}
}

func (f *fakeTaxonomy) Version() string { return "test-taxonomy-1" }

func (f *fakeTaxonomy) ResolveLabel(label string) []ports.TechniqueCandidate {
	return f.labels[label]
}

func (f *fakeTaxonomy) TacticsFor(techniqueID string) []string {
	return f.tactics[techniqueID]
}

// stubConnector returns a canned finding, optionally after a delay or error.
type stubConnector struct {
	name    string
	finding domain.SourceFinding
	err     error
	delay   time.Duration
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Fetch(ctx context.Context, _ domain.IOC) (domain.SourceFinding, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.SourceFinding{}, ctx.Err()
		}
	}
	if s.err != nil {
		return domain.SourceFinding{}, s.err
	}
	return s.finding, nil
}

// stubReasoner records the labels it was grounded on.
type stubReasoner struct {
	result     domain.ReasoningResult
	err        error
	seenLabels []string
}

func (s *stubReasoner) Name() string { return "llm-reasoner" }

func (s *stubReasoner) Reason(_ context.Context, _ domain.IOC, knownLabels []string) (domain.ReasoningResult, error) {
	s.seenLabels = append([]string(nil), knownLabels...)
	if s.err != nil {
		return domain.ReasoningResult{}, s.err
	}
	return s.result, nil
}

func okFinding(labels []string, severity float64) domain.SourceFinding {
	return domain.SourceFinding{Status: domain.StatusOK, SeverityRaw: &severity, Labels: labels}
}

func float64Ptr(v float64) *float64 { return &v }
