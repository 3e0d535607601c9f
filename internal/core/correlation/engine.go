// Package correlation implements the scoring pipeline: fan-out to
// intelligence sources, label-to-technique mapping, weighted score
// aggregation, and report assembly.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/threatscope/internal/cache"
	"github.com/hive-corporation/threatscope/internal/core/domain"
	"github.com/hive-corporation/threatscope/internal/core/ports"
)

// Engine ties the pipeline together behind the correlation cache. It is safe
// for concurrent use.
type Engine struct {
	aggregator *Aggregator
	mapper     *Mapper
	scorer     *Scorer
	rules      *RuleEngine
	taxonomy   ports.Taxonomy
	cache      *cache.Cache
	index      *ThreatIndex
	log        *logrus.Logger

	gatherTimeout time.Duration
	cacheTTL      time.Duration
}

// maxRelatedThreats bounds the related-indicator list on each report.
const maxRelatedThreats = 10

type EngineConfig struct {
	GatherTimeout time.Duration
	CacheTTL      time.Duration
}

func NewEngine(aggregator *Aggregator, mapper *Mapper, scorer *Scorer, rules *RuleEngine, taxonomy ports.Taxonomy, reportCache *cache.Cache, cfg EngineConfig, log *logrus.Logger) *Engine {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		aggregator:    aggregator,
		mapper:        mapper,
		scorer:        scorer,
		rules:         rules,
		taxonomy:      taxonomy,
		cache:         reportCache,
		index:         NewThreatIndex(),
		log:           log,
		gatherTimeout: cfg.GatherTimeout,
		cacheTTL:      cfg.CacheTTL,
	}
}

// Correlate normalizes the raw indicator and returns its threat report,
// serving from the cache when a fresh report exists. typeHint may be empty;
// when set it must agree with what the value parses as.
//
// Invalid indicators fail before any source is queried and leave no trace in
// the cache.
func (e *Engine) Correlate(ctx context.Context, raw string, typeHint domain.IOCType) (*domain.ThreatReport, bool, error) {
	start := time.Now()

	ioc, err := domain.Normalize(raw, typeHint)
	if err != nil {
		RecordRequest("invalid_ioc")
		return nil, false, fmt.Errorf("normalize %q: %w", raw, err)
	}

	report, hit, err := e.cache.GetOrCompute(ctx, ioc.CacheKey(), e.cacheTTL, func(cctx context.Context) (*domain.ThreatReport, error) {
		return e.compute(cctx, ioc)
	})
	RecordDuration(time.Since(start))
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			RecordRequest("canceled")
		} else {
			RecordRequest("error")
		}
		return nil, false, err
	}
	if hit {
		RecordRequest("cache_hit")
	} else {
		RecordRequest("computed")
	}
	return report, hit, nil
}

// compute runs one full pipeline pass. Partial source failure is normal
// operation; compute fails only when the pipeline itself cannot produce a
// report.
func (e *Engine) compute(ctx context.Context, ioc domain.IOC) (*domain.ThreatReport, error) {
	gctx, cancel := context.WithTimeout(ctx, e.gatherTimeout)
	defer cancel()

	findings := e.aggregator.Gather(gctx, ioc)
	mappings := e.mapper.Map(findings)
	score, breakdown := e.scorer.Aggregate(findings, mappings, e.taxonomy.TacticsFor)
	coverage := CoverageRatio(mappings)

	var consulted, failed []string
	okCount := 0
	for _, f := range findings {
		consulted = append(consulted, f.SourceID)
		if f.Status == domain.StatusOK {
			okCount++
		} else {
			failed = append(failed, f.SourceID)
			RecordSourceFailure(f.SourceID, string(f.Status))
		}
	}

	techniques := aggregateTechniques(mappings, e.taxonomy.TacticsFor)
	report := &domain.ThreatReport{
		ID:               uuid.NewString(),
		IOC:              ioc,
		Score:            score,
		Severity:         domain.SeverityForScore(score),
		ScoreBreakdown:   breakdown,
		Techniques:       techniques,
		Recommendations:  e.rules.Recommend(score, techniques),
		Description:      reasonerDescription(findings),
		Confidence:       reportConfidence(findings, okCount),
		SourcesConsulted: consulted,
		SourcesFailed:    failed,
		CoverageRatio:    coverage,
		TaxonomyVersion:  e.taxonomy.Version(),
		ComputedAt:       time.Now().UTC(),
	}
	report.RelatedThreats = e.index.FindRelated(ioc, maxRelatedThreats)
	e.index.Record(report)

	RecordScore(score)
	RecordCoverage(coverage)
	e.log.WithFields(logrus.Fields{
		"ioc":      ioc.CacheKey(),
		"score":    score,
		"severity": report.Severity,
		"sources":  okCount,
		"failed":   len(failed),
	}).Info("🎯 threat report computed")

	return report, nil
}

// CacheStats exposes the underlying cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// CorrelatorStats exposes the related-threat index counters.
func (e *Engine) CorrelatorStats() IndexStats {
	return e.index.Stats()
}

// aggregateTechniques collapses mappings onto distinct techniques. A
// technique corroborated by several labels gets the noisy-or of their
// confidences, so independent evidence raises confidence without ever
// exceeding 1. Output is ordered by technique ID for determinism.
func aggregateTechniques(mappings []domain.TTPMapping, tacticsFor func(string) []string) []domain.Technique {
	miss := make(map[string]float64)
	for _, m := range mappings {
		if m.MatchKind == domain.MatchUnmapped {
			continue
		}
		if _, ok := miss[m.TechniqueID]; !ok {
			miss[m.TechniqueID] = 1
		}
		miss[m.TechniqueID] *= 1 - clamp(m.Confidence, 0, 1)
	}

	techniques := make([]domain.Technique, 0, len(miss))
	for id, p := range miss {
		techniques = append(techniques, domain.Technique{
			TechniqueID:         id,
			AggregateConfidence: 1 - p,
			TacticIDs:           tacticsFor(id),
		})
	}
	sort.Slice(techniques, func(i, j int) bool {
		return techniques[i].TechniqueID < techniques[j].TechniqueID
	})
	return techniques
}

// reasonerDescription extracts the backend's free-text summary, if it
// responded. The reasoner is the only source that reports a confidence.
func reasonerDescription(findings []domain.SourceFinding) string {
	for _, f := range findings {
		if f.Status != domain.StatusOK || f.Confidence == nil {
			continue
		}
		var rr domain.ReasoningResult
		if err := json.Unmarshal(f.RawPayload, &rr); err == nil {
			return rr.FreeText
		}
	}
	return ""
}

// reportConfidence reflects how much evidence backed the report. With the
// reasoner responding, its self-reported confidence carries; otherwise
// confidence rises with the number of corroborating connectors.
func reportConfidence(findings []domain.SourceFinding, okCount int) float64 {
	for _, f := range findings {
		if f.Status == domain.StatusOK && f.Confidence != nil {
			return clamp(*f.Confidence, 0, 1)
		}
	}
	switch {
	case okCount == 0:
		return 0
	case okCount == 1:
		return 0.5
	case okCount == 2:
		return 0.65
	default:
		return 0.75
	}
}
