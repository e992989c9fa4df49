package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haleyard/recall/store"
)

func (d *DB) CreateOperatorNote(ctx context.Context, create *store.OperatorNote) (*store.OperatorNote, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = create.CreatedTs
	}

	fields := []string{"uid", "target_type", "target_id", "category", "content", "priority", "pinned", "expires_at", "created_ts", "updated_ts"}
	args := []any{
		create.UID,
		create.TargetType,
		create.TargetID,
		create.Category,
		create.Content,
		create.Priority,
		create.Pinned,
		create.ExpiresAt,
		create.CreatedTs,
		create.UpdatedTs,
	}

	stmt := `INSERT INTO operator_note (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create operator_note: %w", err)
	}

	return create, nil
}

func (d *DB) ListOperatorNotes(ctx context.Context, find *store.FindOperatorNote) ([]*store.OperatorNote, error) {
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
	if find.TargetType != nil {
		where, args = append(where, "target_type = ?"), append(args, *find.TargetType)
	}
	if find.TargetID != nil {
		where, args = append(where, "target_id = ?"), append(args, *find.TargetID)
	}
	if find.Pinned != nil {
		where, args = append(where, "pinned = ?"), append(args, *find.Pinned)
	}
	if find.NotExpiredAt != nil {
		where, args = append(where, "(expires_at = 0 OR expires_at > ?)"), append(args, *find.NotExpiredAt)
	}

	query := `SELECT id, uid, target_type, target_id, category, content, priority, pinned, expires_at, created_ts, updated_ts
		FROM operator_note WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts, id`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operator_notes: %w", err)
	}
	defer rows.Close()

	list := make([]*store.OperatorNote, 0)
	for rows.Next() {
		note := &store.OperatorNote{}
		if err := rows.Scan(
			&note.ID,
			&note.UID,
			&note.TargetType,
			&note.TargetID,
			&note.Category,
			&note.Content,
			&note.Priority,
			&note.Pinned,
			&note.ExpiresAt,
			&note.CreatedTs,
			&note.UpdatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan operator_note: %w", err)
		}
		list = append(list, note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateOperatorNote(ctx context.Context, update *store.UpdateOperatorNote) (*store.OperatorNote, error) {
	set, args := []string{}, []any{}
	if update.Content != nil {
		set, args = append(set, "content = ?"), append(args, *update.Content)
	}
	if update.Category != nil {
		set, args = append(set, "category = ?"), append(args, *update.Category)
	}
	if update.Priority != nil {
		set, args = append(set, "priority = ?"), append(args, *update.Priority)
	}
	if update.Pinned != nil {
		set, args = append(set, "pinned = ?"), append(args, *update.Pinned)
	}
	if update.ExpiresAt != nil {
		set, args = append(set, "expires_at = ?"), append(args, *update.ExpiresAt)
	}
	set, args = append(set, "updated_ts = ?"), append(args, time.Now().Unix())
	args = append(args, update.ID)

	stmt := `UPDATE operator_note SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to update operator_note: %w", err)
	}

	notes, err := d.ListOperatorNotes(ctx, &store.FindOperatorNote{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("operator_note %d not found", update.ID)
	}
	return notes[0], nil
}

func (d *DB) DeleteOperatorNote(ctx context.Context, delete *store.DeleteOperatorNote) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM operator_note WHERE id = ?`, delete.ID); err != nil {
		return fmt.Errorf("failed to delete operator_note: %w", err)
	}
	return nil
}
