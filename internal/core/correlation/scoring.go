package correlation

import (
	"math"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

// Scorer combines per-source severities and mapping evidence into one threat
// score with an auditable per-source breakdown.
//
// Weights are configuration and sum to 1 across all configured sources. When
// some sources fail, their weight is redistributed proportionally among the
// responders, so a missing source never depresses the score relative to a
// configuration it was simply absent from.
type Scorer struct {
	weights    map[string]float64
	reasonerID string
}

func NewScorer(weights map[string]float64, reasonerID string) *Scorer {
	w := make(map[string]float64, len(weights))
	for id, v := range weights {
		if v > 0 {
			w[id] = v
		}
	}
	return &Scorer{weights: w, reasonerID: reasonerID}
}

// Aggregate computes the final score and the pre-rounding contribution of
// every responding source. With zero successful findings the score is
// exactly 0 and the breakdown is empty.
func (s *Scorer) Aggregate(findings []domain.SourceFinding, mappings []domain.TTPMapping, tacticsFor func(string) []string) (int, map[string]float64) {
	breakdown := make(map[string]float64)

	respondingWeight := 0.0
	for _, f := range findings {
		if f.Status == domain.StatusOK {
			respondingWeight += s.weights[f.SourceID]
		}
	}
	if respondingWeight == 0 {
		return 0, breakdown
	}

	total := 0.0
	for _, f := range findings {
		if f.Status != domain.StatusOK {
			continue
		}
		weight, ok := s.weights[f.SourceID]
		if !ok {
			continue
		}
		severity := s.severityOf(f, mappings, tacticsFor)
		contribution := (weight / respondingWeight) * severity
		breakdown[f.SourceID] = contribution
		total += contribution
	}

	score := int(math.Round(total))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, breakdown
}

func (s *Scorer) severityOf(f domain.SourceFinding, mappings []domain.TTPMapping, tacticsFor func(string) []string) float64 {
	if f.SourceID == s.reasonerID {
		return s.reasonerSeverity(f, mappings, tacticsFor)
	}
	if f.SeverityRaw == nil {
		// A source that answered without a severity signal carries no
		// numeric evidence; it still absorbs its weight share.
		return 0
	}
	return clamp(*f.SeverityRaw, 0, 100)
}

// reasonerSeverity derives the backend's severity from its self-reported
// confidence and the breadth of what it surfaced: more techniques and more
// distinct tactics raise the estimate, saturating at 100.
func (s *Scorer) reasonerSeverity(f domain.SourceFinding, mappings []domain.TTPMapping, tacticsFor func(string) []string) float64 {
	confidence := 0.0
	if f.Confidence != nil {
		confidence = clamp(*f.Confidence, 0, 1)
	}

	techniques := make(map[string]bool)
	tactics := make(map[string]bool)
	for _, m := range mappings {
		if m.SourceID != f.SourceID || m.MatchKind == domain.MatchUnmapped {
			continue
		}
		techniques[m.TechniqueID] = true
		for _, tactic := range tacticsFor(m.TechniqueID) {
			tactics[tactic] = true
		}
	}

	estimate := 25 + 12*float64(len(techniques)) + 15*float64(len(tactics))
	return confidence * clamp(estimate, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
