package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haleyard/recall/store"
)

func (d *DB) CreateMemoryConsent(ctx context.Context, create *store.MemoryConsent) (*store.MemoryConsent, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if create.Status == "" {
		create.Status = store.ConsentStatusPending
	}

	fields := []string{"uid", "contact_ref", "session_id", "status", "fact_type", "category", "value", "confidence", "source_text", "created_ts", "resolved_ts"}
	args := []any{
		create.UID,
		create.ContactRef,
		create.SessionID,
		create.Status,
		create.FactType,
		create.Category,
		create.Value,
		create.Confidence,
		create.SourceText,
		create.CreatedTs,
		create.ResolvedTs,
	}

	stmt := `INSERT INTO memory_consent (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create memory_consent: %w", err)
	}

	return create, nil
}

func (d *DB) ListMemoryConsents(ctx context.Context, find *store.FindMemoryConsent) ([]*store.MemoryConsent, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.ContactRef != nil {
		where, args = append(where, "contact_ref = ?"), append(args, *find.ContactRef)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = ?"), append(args, *find.SessionID)
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, *find.Status)
	}

	query := `SELECT id, uid, contact_ref, session_id, status, fact_type, category, value, confidence, source_text, created_ts, resolved_ts
		FROM memory_consent WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id DESC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory_consents: %w", err)
	}
	defer rows.Close()

	list := make([]*store.MemoryConsent, 0)
	for rows.Next() {
		consent := &store.MemoryConsent{}
		if err := rows.Scan(
			&consent.ID,
			&consent.UID,
			&consent.ContactRef,
			&consent.SessionID,
			&consent.Status,
			&consent.FactType,
			&consent.Category,
			&consent.Value,
			&consent.Confidence,
			&consent.SourceText,
			&consent.CreatedTs,
			&consent.ResolvedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan memory_consent: %w", err)
		}
		list = append(list, consent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) ResolveMemoryConsent(ctx context.Context, resolve *store.ResolveMemoryConsent) (bool, error) {
	// Consents only ever leave PENDING once; the guard lives in the
	// statement, not the caller.
	stmt := `UPDATE memory_consent SET status = ?, resolved_ts = ? WHERE id = ? AND status = ?`
	result, err := d.db.ExecContext(ctx, stmt, resolve.Status, resolve.ResolvedTs, resolve.ID, store.ConsentStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to resolve memory_consent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (d *DB) ExpireMemoryConsents(ctx context.Context, expire *store.ExpireMemoryConsents) (int64, error) {
	stmt := `UPDATE memory_consent SET status = ?, resolved_ts = ? WHERE status = ? AND created_ts < ?`
	result, err := d.db.ExecContext(ctx, stmt, store.ConsentStatusExpired, expire.ExpiredTs, store.ConsentStatusPending, expire.CreatedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to expire memory_consents: %w", err)
	}
	return result.RowsAffected()
}
