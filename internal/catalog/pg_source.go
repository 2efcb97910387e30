package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// PgSource reads definitions from the assessment_definitions table, where
// the content system (or attemptctl catalog import) stores them as JSONB.
type PgSource struct {
	pool *pgxpool.Pool
}

// NewPgSource creates a new PgSource.
func NewPgSource(pool *pgxpool.Pool) *PgSource {
	return &PgSource{pool: pool}
}

// Get retrieves a definition by id.
func (s *PgSource) Get(ctx context.Context, assessmentID string) (*model.AssessmentDefinition, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM assessment_definitions WHERE id = $1`, assessmentID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDefinitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}

	var def model.AssessmentDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	return &def, nil
}

// ListPublished returns every published definition.
func (s *PgSource) ListPublished(ctx context.Context) ([]model.AssessmentDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM assessment_definitions WHERE published = TRUE ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []model.AssessmentDefinition
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var def model.AssessmentDefinition
		if err := json.Unmarshal(doc, &def); err != nil {
			return nil, fmt.Errorf("decode definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Upsert stores a definition document.
func (s *PgSource) Upsert(ctx context.Context, def *model.AssessmentDefinition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO assessment_definitions (id, document, published, updated_at)
		 VALUES ($1, $2::jsonb, $3, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		     document   = EXCLUDED.document,
		     published  = EXCLUDED.published,
		     updated_at = NOW()`,
		def.ID, doc, def.Published,
	)
	return err
}
