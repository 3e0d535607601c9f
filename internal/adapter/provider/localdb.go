package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hive-corporation/threatscope/internal/core/domain"
	"github.com/hive-corporation/threatscope/internal/core/ports"
)

// LocalDBConnector serves sightings previously ingested into the local
// Postgres store. Severity grows with the number of distinct upstream feeds
// that have reported the indicator; threat types and tags become labels.
type LocalDBConnector struct {
	repo ports.SightingRepository
}

func NewLocalDBConnector(repo ports.SightingRepository) *LocalDBConnector {
	return &LocalDBConnector{repo: repo}
}

func (c *LocalDBConnector) Name() string {
	return "local-db"
}

func (c *LocalDBConnector) Fetch(ctx context.Context, ioc domain.IOC) (domain.SourceFinding, error) {
	sightings, err := c.repo.FindAllByValue(ctx, ioc.CanonicalValue)
	if err != nil {
		return domain.SourceFinding{}, fmt.Errorf("sighting lookup: %w", err)
	}
	if len(sightings) == 0 {
		return domain.SourceFinding{Status: domain.StatusUnavailable}, nil
	}

	feeds := make(map[string]bool)
	var labels []string
	seen := make(map[string]bool)
	addLabel := func(l string) {
		if l != "" && !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	for _, s := range sightings {
		feeds[s.Source] = true
		addLabel(s.ThreatType)
		for _, tag := range s.Tags {
			addLabel(tag)
		}
	}

	var severity float64
	switch {
	case len(feeds) >= 3:
		severity = 90
	case len(feeds) == 2:
		severity = 75
	default:
		severity = 60
	}

	payload, _ := json.Marshal(sightings)
	return domain.SourceFinding{
		Status:      domain.StatusOK,
		SeverityRaw: float64Ptr(severity),
		Labels:      labels,
		RawPayload:  payload,
	}, nil
}
