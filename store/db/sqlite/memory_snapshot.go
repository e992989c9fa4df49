package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haleyard/recall/store"
)

func (d *DB) CreateMemorySnapshot(ctx context.Context, create *store.MemorySnapshot) (*store.MemorySnapshot, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	fields := []string{"uid", "session_id", "kind", "content", "message_count_at_snapshot", "created_ts"}
	args := []any{create.UID, create.SessionID, create.Kind, create.Content, create.MessageCountAtSnapshot, create.CreatedTs}

	stmt := `INSERT INTO memory_snapshot (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create memory_snapshot: %w", err)
	}

	return create, nil
}

func (d *DB) ListMemorySnapshots(ctx context.Context, find *store.FindMemorySnapshot) ([]*store.MemorySnapshot, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = ?"), append(args, *find.SessionID)
	}
	if find.Kind != nil {
		where, args = append(where, "kind = ?"), append(args, *find.Kind)
	}

	query := `SELECT id, uid, session_id, kind, content, message_count_at_snapshot, created_ts
		FROM memory_snapshot WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id DESC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory_snapshots: %w", err)
	}
	defer rows.Close()

	list := make([]*store.MemorySnapshot, 0)
	for rows.Next() {
		snapshot := &store.MemorySnapshot{}
		if err := rows.Scan(
			&snapshot.ID,
			&snapshot.UID,
			&snapshot.SessionID,
			&snapshot.Kind,
			&snapshot.Content,
			&snapshot.MessageCountAtSnapshot,
			&snapshot.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan memory_snapshot: %w", err)
		}
		list = append(list, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
