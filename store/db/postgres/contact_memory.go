package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haleyard/recall/store"
)

func (d *DB) GetContactMemory(ctx context.Context, find *store.FindContactMemory) (*store.ContactMemory, error) {
	if find == nil || find.ContactRef == "" {
		return nil, fmt.Errorf("contact_ref is required")
	}

	query := `SELECT contact_ref, preferences, pain_points, objections_addressed, products_discussed, current_stage, next_step, last_extracted_at, extraction_count, created_ts, updated_ts
		FROM contact_memory WHERE contact_ref = $1`

	m := &store.ContactMemory{}
	var preferences, painPoints, objections, products string
	err := d.db.QueryRowContext(ctx, query, find.ContactRef).Scan(
		&m.ContactRef,
		&preferences,
		&painPoints,
		&objections,
		&products,
		&m.CurrentStage,
		&m.NextStep,
		&m.LastExtractedAt,
		&m.ExtractionCount,
		&m.CreatedTs,
		&m.UpdatedTs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact_memory: %w", err)
	}

	if err := json.Unmarshal([]byte(preferences), &m.Preferences); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(painPoints), &m.PainPoints); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pain_points: %w", err)
	}
	if err := json.Unmarshal([]byte(objections), &m.ObjectionsAddressed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal objections_addressed: %w", err)
	}
	if err := json.Unmarshal([]byte(products), &m.ProductsDiscussed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal products_discussed: %w", err)
	}
	return m, nil
}

func (d *DB) UpsertContactMemory(ctx context.Context, upsert *store.UpsertContactMemory) (bool, error) {
	m := upsert.ContactMemory
	now := time.Now().Unix()
	if m.CreatedTs == 0 {
		m.CreatedTs = now
	}
	m.UpdatedTs = now

	preferences, err := json.Marshal(m.Preferences)
	if err != nil {
		return false, fmt.Errorf("failed to marshal preferences: %w", err)
	}
	painPoints, err := json.Marshal(m.PainPoints)
	if err != nil {
		return false, fmt.Errorf("failed to marshal pain_points: %w", err)
	}
	objections, err := json.Marshal(m.ObjectionsAddressed)
	if err != nil {
		return false, fmt.Errorf("failed to marshal objections_addressed: %w", err)
	}
	products, err := json.Marshal(m.ProductsDiscussed)
	if err != nil {
		return false, fmt.Errorf("failed to marshal products_discussed: %w", err)
	}

	// The extraction counter is the write guard: a merge computed from a
	// stale profile carries a stale counter and is rejected here.
	stmt := `INSERT INTO contact_memory (contact_ref, preferences, pain_points, objections_addressed, products_discussed, current_stage, next_step, last_extracted_at, extraction_count, created_ts, updated_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (contact_ref) DO UPDATE SET
			preferences = EXCLUDED.preferences,
			pain_points = EXCLUDED.pain_points,
			objections_addressed = EXCLUDED.objections_addressed,
			products_discussed = EXCLUDED.products_discussed,
			current_stage = EXCLUDED.current_stage,
			next_step = EXCLUDED.next_step,
			last_extracted_at = GREATEST(contact_memory.last_extracted_at, EXCLUDED.last_extracted_at),
			extraction_count = EXCLUDED.extraction_count,
			updated_ts = EXCLUDED.updated_ts
		WHERE EXCLUDED.extraction_count > contact_memory.extraction_count`
	result, err := d.db.ExecContext(ctx, stmt,
		m.ContactRef, string(preferences), string(painPoints), string(objections), string(products),
		m.CurrentStage, m.NextStep, m.LastExtractedAt, m.ExtractionCount,
		m.CreatedTs, m.UpdatedTs,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert contact_memory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
