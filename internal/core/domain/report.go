package domain

import (
	"encoding/json"
	"time"
)

type SourceStatus string

const (
	StatusOK          SourceStatus = "ok"
	StatusTimeout     SourceStatus = "timeout"
	StatusError       SourceStatus = "error"
	StatusUnavailable SourceStatus = "unavailable"
)

// SourceFinding is one connector's (or the reasoning backend's) raw output
// for a single correlation attempt. Produced once, never mutated.
type SourceFinding struct {
	SourceID    string          `json:"source_id"`
	Status      SourceStatus    `json:"status"`
	SeverityRaw *float64        `json:"severity_raw,omitempty"` // [0,100], absent on failure
	Confidence  *float64        `json:"confidence,omitempty"`   // [0,1], reasoning backend only
	Labels      []string        `json:"labels,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	Latency     time.Duration   `json:"latency"`
}

// ReasoningResult is what the reasoning backend returns for a prompt.
type ReasoningResult struct {
	FreeText   string   `json:"free_text"`
	Confidence float64  `json:"confidence"`
	Labels     []string `json:"labels"`
}

type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchAlias    MatchKind = "alias"
	MatchFuzzy    MatchKind = "fuzzy"
	MatchUnmapped MatchKind = "unmapped"
)

// TTPMapping resolves one source label to a canonical ATT&CK technique.
// Several mappings may point at the same technique from different sources;
// that is corroborating evidence, not redundancy.
type TTPMapping struct {
	SourceID    string    `json:"source_id"`
	SourceLabel string    `json:"source_label"`
	TechniqueID string    `json:"technique_id,omitempty"`
	Confidence  float64   `json:"confidence"`
	MatchKind   MatchKind `json:"match_kind"`
}

// Technique is one aggregated technique entry of a ThreatReport.
type Technique struct {
	TechniqueID         string   `json:"technique_id"`
	AggregateConfidence float64  `json:"aggregate_confidence"`
	TacticIDs           []string `json:"tactic_ids"`
}

// RelatedThreat points at a previously correlated indicator that resembles
// the current one. Similarity is [0,1]; Relationship names the heuristic
// that linked the two.
type RelatedThreat struct {
	Value        string  `json:"value"`
	Type         IOCType `json:"type"`
	Similarity   float64 `json:"similarity"`
	Relationship string  `json:"relationship"`
	Score        int     `json:"score"`
	Severity     string  `json:"severity"`
}

// ThreatReport is the unit of value returned to callers and held in the
// correlation cache. ScoreBreakdown contributions sum (pre-rounding) to Score.
type ThreatReport struct {
	ID               string             `json:"id"`
	IOC              IOC                `json:"ioc"`
	Score            int                `json:"score"`
	Severity         string             `json:"severity"`
	ScoreBreakdown   map[string]float64 `json:"score_breakdown"`
	Techniques       []Technique        `json:"techniques"`
	Recommendations  []string           `json:"recommendations"`
	Description      string             `json:"description,omitempty"`
	Confidence       float64            `json:"confidence"`
	RelatedThreats   []RelatedThreat    `json:"related_threats,omitempty"`
	SourcesConsulted []string           `json:"sources_consulted"`
	SourcesFailed    []string           `json:"sources_failed"`
	CoverageRatio    float64            `json:"coverage_ratio"`
	TaxonomyVersion  string             `json:"taxonomy_version"`
	ComputedAt       time.Time          `json:"computed_at"`
	TTLExpiresAt     time.Time          `json:"ttl_expires_at"`
}

// Expired reports whether the report's own expiry timestamp has passed.
// The cache trusts this field, not the store's native TTL, so a lagging
// store can never serve a stale report.
func (r *ThreatReport) Expired(now time.Time) bool {
	return !now.Before(r.TTLExpiresAt)
}

// SeverityForScore bands a threat score into an analyst-facing severity.
func SeverityForScore(score int) string {
	switch {
	case score >= 80:
		return "CRITICAL"
	case score >= 60:
		return "HIGH"
	case score >= 40:
		return "MEDIUM"
	case score >= 20:
		return "LOW"
	default:
		return "INFO"
	}
}

// Sighting is one locally ingested intelligence record for an indicator,
// as stored by the sightings repository.
type Sighting struct {
	Value      string    `json:"value"`
	Type       IOCType   `json:"type"`
	Source     string    `json:"source"`
	ThreatType string    `json:"threat_type"`
	Tags       []string  `json:"tags"`
	FirstSeen  time.Time `json:"first_seen"`
}
