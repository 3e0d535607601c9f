package correlation

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

const (
	relatedSimilarityFloor = 0.5
	maxIndexedPerType      = 1000
)

// ThreatIndex remembers every freshly computed report so later correlations
// can surface indicators that look related: neighbouring IP subnets, sibling
// domains. Entries are keyed by canonical value, so re-correlating an
// indicator updates its entry instead of duplicating it.
type ThreatIndex struct {
	mu      sync.RWMutex
	byType  map[domain.IOCType][]indexedThreat
	entries map[string]int // cache key -> position in its type slice
}

type indexedThreat struct {
	value    string
	iocType  domain.IOCType
	score    int
	severity string
	seenAt   time.Time
}

// IndexStats summarizes what the index has seen.
type IndexStats struct {
	TotalThreats int            `json:"total_threats"`
	ByType       map[string]int `json:"by_type"`
}

func NewThreatIndex() *ThreatIndex {
	return &ThreatIndex{
		byType:  make(map[domain.IOCType][]indexedThreat),
		entries: make(map[string]int),
	}
}

// Record adds the report's indicator to the index, replacing any previous
// entry for the same indicator. Each type bucket is bounded; when full, the
// oldest entry makes room.
func (idx *ThreatIndex) Record(report *domain.ThreatReport) {
	if report == nil {
		return
	}
	ioc := report.IOC
	entry := indexedThreat{
		value:    ioc.CanonicalValue,
		iocType:  ioc.Type,
		score:    report.Score,
		severity: report.Severity,
		seenAt:   report.ComputedAt,
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := ioc.CacheKey()
	bucket := idx.byType[ioc.Type]
	if pos, ok := idx.entries[key]; ok {
		bucket[pos] = entry
		return
	}
	if len(bucket) >= maxIndexedPerType {
		oldest := 0
		for i := 1; i < len(bucket); i++ {
			if bucket[i].seenAt.Before(bucket[oldest].seenAt) {
				oldest = i
			}
		}
		delete(idx.entries, string(bucket[oldest].iocType)+":"+bucket[oldest].value)
		bucket[oldest] = entry
		idx.entries[key] = oldest
		return
	}
	idx.byType[ioc.Type] = append(bucket, entry)
	idx.entries[key] = len(bucket)
}

// FindRelated returns up to max indicators of the same type whose similarity
// to ioc clears the floor, most similar first. The indicator itself is never
// its own relation. Ties break on value so output is deterministic.
func (idx *ThreatIndex) FindRelated(ioc domain.IOC, max int) []domain.RelatedThreat {
	idx.mu.RLock()
	bucket := idx.byType[ioc.Type]
	related := make([]domain.RelatedThreat, 0, len(bucket))
	for _, entry := range bucket {
		if entry.value == ioc.CanonicalValue {
			continue
		}
		sim := iocSimilarity(ioc.CanonicalValue, entry.value, ioc.Type)
		if sim <= relatedSimilarityFloor {
			continue
		}
		related = append(related, domain.RelatedThreat{
			Value:        entry.value,
			Type:         entry.iocType,
			Similarity:   sim,
			Relationship: "same_type",
			Score:        entry.score,
			Severity:     entry.severity,
		})
	}
	idx.mu.RUnlock()

	sort.Slice(related, func(i, j int) bool {
		if related[i].Similarity != related[j].Similarity {
			return related[i].Similarity > related[j].Similarity
		}
		return related[i].Value < related[j].Value
	})
	if max > 0 && len(related) > max {
		related = related[:max]
	}
	return related
}

// Stats reports index counters for the statistics endpoint.
func (idx *ThreatIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := IndexStats{ByType: make(map[string]int, len(idx.byType))}
	for t, bucket := range idx.byType {
		stats.ByType[string(t)] = len(bucket)
		stats.TotalThreats += len(bucket)
	}
	return stats
}

// iocSimilarity estimates how related two canonical values of the same type
// are, in [0,1]. IPv4 neighbours in the same /24 score 0.8, same /16 0.6;
// domains sharing a registrable parent score 0.8, sharing only the TLD 0.6;
// hashes relate only on exact equality.
func iocSimilarity(a, b string, t domain.IOCType) float64 {
	switch t {
	case domain.IPAddress:
		pa := strings.Split(a, ".")
		pb := strings.Split(b, ".")
		if len(pa) != 4 || len(pb) != 4 {
			return 0.3
		}
		if pa[0] == pb[0] && pa[1] == pb[1] {
			if pa[2] == pb[2] {
				return 0.8
			}
			return 0.6
		}
	case domain.Domain:
		la := strings.Split(a, ".")
		lb := strings.Split(b, ".")
		if la[len(la)-1] == lb[len(lb)-1] {
			if len(la) >= 2 && len(lb) >= 2 && la[len(la)-2] == lb[len(lb)-2] {
				return 0.8
			}
			return 0.6
		}
	case domain.FileHash:
		if a == b {
			return 1
		}
		return 0
	}
	return 0.3
}
