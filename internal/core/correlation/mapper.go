package correlation

import (
	"strings"

	"github.com/hive-corporation/threatscope/internal/core/domain"
	"github.com/hive-corporation/threatscope/internal/core/ports"
)

// DefaultFuzzyThreshold is the minimum similarity for a fuzzy label match.
const DefaultFuzzyThreshold = 0.80

// Mapper resolves free-text and source-specific labels onto canonical
// ATT&CK technique identifiers via the taxonomy knowledge base.
type Mapper struct {
	taxonomy  ports.Taxonomy
	threshold float64
}

func NewMapper(taxonomy ports.Taxonomy, threshold float64) *Mapper {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultFuzzyThreshold
	}
	return &Mapper{taxonomy: taxonomy, threshold: threshold}
}

// Map resolves every label of every successful finding. Labels that resolve
// below the fuzzy threshold are kept as MatchUnmapped so coverage can be
// diagnosed, and are dropped later during report assembly.
//
// A label matching several techniques above threshold maps to the single
// highest-similarity one; confidence is never split across techniques.
func (m *Mapper) Map(findings []domain.SourceFinding) []domain.TTPMapping {
	var out []domain.TTPMapping
	for _, f := range findings {
		if f.Status != domain.StatusOK {
			continue
		}
		seen := make(map[string]bool, len(f.Labels))
		for _, label := range f.Labels {
			trimmed := strings.TrimSpace(label)
			if trimmed == "" {
				continue
			}
			// The same label repeated by one source is one piece of evidence.
			key := strings.ToLower(trimmed)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m.mapLabel(f.SourceID, trimmed))
		}
	}
	return out
}

func (m *Mapper) mapLabel(sourceID, label string) domain.TTPMapping {
	mapping := domain.TTPMapping{
		SourceID:    sourceID,
		SourceLabel: label,
		MatchKind:   domain.MatchUnmapped,
	}

	candidates := m.taxonomy.ResolveLabel(label)
	if len(candidates) == 0 {
		return mapping
	}

	best := candidates[0]
	switch {
	case best.Exact:
		mapping.MatchKind = domain.MatchExact
	case best.Alias:
		mapping.MatchKind = domain.MatchAlias
	case best.Similarity >= m.threshold:
		mapping.MatchKind = domain.MatchFuzzy
	default:
		return mapping
	}

	mapping.TechniqueID = best.TechniqueID
	mapping.Confidence = best.Similarity
	return mapping
}

// CoverageRatio is the fraction of attempted labels that mapped to a
// canonical technique. No labels at all counts as full coverage.
func CoverageRatio(mappings []domain.TTPMapping) float64 {
	if len(mappings) == 0 {
		return 1
	}
	mapped := 0
	for _, m := range mappings {
		if m.MatchKind != domain.MatchUnmapped {
			mapped++
		}
	}
	return float64(mapped) / float64(len(mappings))
}
