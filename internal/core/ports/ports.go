package ports

import (
	"context"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

// Connector queries one intelligence source for a single indicator.
// Expected absence of data is not an error: implementations return a finding
// with StatusUnavailable. An error return is reserved for unexpected faults
// and is downgraded to StatusError by the aggregator.
type Connector interface {
	Name() string
	Fetch(ctx context.Context, ioc domain.IOC) (domain.SourceFinding, error)
}

// Reasoner is the language-model reasoning backend. Labels already gathered
// from other sources are passed in to ground the model; with none available
// it is queried on the bare indicator.
type Reasoner interface {
	Name() string
	Reason(ctx context.Context, ioc domain.IOC, knownLabels []string) (domain.ReasoningResult, error)
}

// TechniqueCandidate is one taxonomy resolution candidate for a label.
type TechniqueCandidate struct {
	TechniqueID string
	Similarity  float64
	Exact       bool
	Alias       bool
}

// Taxonomy is the read-only, versioned ATT&CK knowledge base.
// Candidates are returned ordered by descending similarity with ties broken
// by ascending technique ID, so resolution is deterministic per version.
type Taxonomy interface {
	Version() string
	ResolveLabel(label string) []TechniqueCandidate
	TacticsFor(techniqueID string) []string
}

// SightingRepository looks up locally ingested intelligence records.
type SightingRepository interface {
	FindAllByValue(ctx context.Context, value string) ([]domain.Sighting, error)
}
