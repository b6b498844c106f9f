package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// UpsertPersonality replaces the owner's model. A model built from fewer
// reflections than the stored one is ignored so a slow rebuild cannot
// overwrite a newer one; applied reports whether the row was written.
func (s *Store) UpsertPersonality(ctx context.Context, p *Personality) (applied bool, err error) {
	facets, err := json.Marshal(p.Facets)
	if err != nil {
		return false, fmt.Errorf("encode facets: %w", err)
	}
	if p.LastBuiltAt.IsZero() {
		p.LastBuiltAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO personality_models (owner_id, facets, generation_directive, confidence_score, total_reflections_considered, last_built_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			facets = excluded.facets,
			generation_directive = excluded.generation_directive,
			confidence_score = excluded.confidence_score,
			total_reflections_considered = excluded.total_reflections_considered,
			last_built_at = excluded.last_built_at
		WHERE excluded.total_reflections_considered >= personality_models.total_reflections_considered`,
		p.OwnerID, string(facets), p.GenerationDirective, p.ConfidenceScore,
		p.TotalReflectionsConsidered, toUnix(p.LastBuiltAt),
	)
	if err != nil {
		return false, fmt.Errorf("upsert personality: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetPersonality(ctx context.Context, ownerID string) (*Personality, error) {
	var (
		p      Personality
		facets string
		built  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, facets, generation_directive, confidence_score, total_reflections_considered, last_built_at
		FROM personality_models WHERE owner_id = ?`, ownerID,
	).Scan(&p.OwnerID, &facets, &p.GenerationDirective, &p.ConfidenceScore, &p.TotalReflectionsConsidered, &built)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(facets), &p.Facets); err != nil {
		return nil, fmt.Errorf("decode facets: %w", err)
	}
	p.LastBuiltAt = fromUnix(built)
	return &p, nil
}
