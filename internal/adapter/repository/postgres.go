// Package repository implements the sightings store on Postgres. The store
// is read-mostly from the engine's perspective; writes come from whatever
// feed tooling populates the sightings table out of band.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindAllByValue returns every sighting recorded for an indicator value,
// most recent first. Lookups are against the canonical form, so callers must
// normalize before querying.
func (r *PostgresRepository) FindAllByValue(ctx context.Context, value string) ([]domain.Sighting, error) {
	query := `
		SELECT value, type, source, threat_type, tags, first_seen
		FROM sightings
		WHERE value = $1
		ORDER BY first_seen DESC
	`

	rows, err := r.db.Query(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()

	var sightings []domain.Sighting
	for rows.Next() {
		var s domain.Sighting
		if err := rows.Scan(&s.Value, &s.Type, &s.Source, &s.ThreatType, &s.Tags, &s.FirstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		sightings = append(sightings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sightings, nil
}
