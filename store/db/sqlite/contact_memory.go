package sqlite

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
		FROM contact_memory WHERE contact_ref = ?`

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

	if err := unmarshalContactFields(m, preferences, painPoints, objections, products); err != nil {
		return nil, err
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

	preferences, painPoints, objections, products, err := marshalContactFields(m)
	if err != nil {
		return false, err
	}

	// The extraction counter is the write guard: a merge computed from a
	// stale profile carries a stale counter and is rejected here.
	stmt := `INSERT INTO contact_memory (contact_ref, preferences, pain_points, objections_addressed, products_discussed, current_stage, next_step, last_extracted_at, extraction_count, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_ref) DO UPDATE SET
			preferences = excluded.preferences,
			pain_points = excluded.pain_points,
			objections_addressed = excluded.objections_addressed,
			products_discussed = excluded.products_discussed,
			current_stage = excluded.current_stage,
			next_step = excluded.next_step,
			last_extracted_at = MAX(contact_memory.last_extracted_at, excluded.last_extracted_at),
			extraction_count = excluded.extraction_count,
			updated_ts = excluded.updated_ts
		WHERE excluded.extraction_count > contact_memory.extraction_count`
	result, err := d.db.ExecContext(ctx, stmt,
		m.ContactRef, preferences, painPoints, objections, products,
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

func marshalContactFields(m *store.ContactMemory) (preferences, painPoints, objections, products string, err error) {
	buf, err := json.Marshal(m.Preferences)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal preferences: %w", err)
	}
	preferences = string(buf)

	buf, err = json.Marshal(m.PainPoints)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal pain_points: %w", err)
	}
	painPoints = string(buf)

	buf, err = json.Marshal(m.ObjectionsAddressed)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal objections_addressed: %w", err)
	}
	objections = string(buf)

	buf, err = json.Marshal(m.ProductsDiscussed)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal products_discussed: %w", err)
	}
	products = string(buf)
	return preferences, painPoints, objections, products, nil
}

func unmarshalContactFields(m *store.ContactMemory, preferences, painPoints, objections, products string) error {
	if err := json.Unmarshal([]byte(preferences), &m.Preferences); err != nil {
		return fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(painPoints), &m.PainPoints); err != nil {
		return fmt.Errorf("failed to unmarshal pain_points: %w", err)
	}
	if err := json.Unmarshal([]byte(objections), &m.ObjectionsAddressed); err != nil {
		return fmt.Errorf("failed to unmarshal objections_addressed: %w", err)
	}
	if err := json.Unmarshal([]byte(products), &m.ProductsDiscussed); err != nil {
		return fmt.Errorf("failed to unmarshal products_discussed: %w", err)
	}
	return nil
}
