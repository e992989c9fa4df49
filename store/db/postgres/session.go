package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haleyard/recall/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = create.CreatedTs
	}

	fields := []string{"uid", "contact_ref", "channel", "last_message_at", "current_summary", "last_summary_at", "messages_since_summary", "is_reactivation", "reactivation_brief", "created_ts", "updated_ts"}
	args := []any{
		create.UID,
		create.ContactRef,
		create.Channel,
		create.LastMessageAt,
		create.CurrentSummary,
		create.LastSummaryAt,
		create.MessagesSinceSummary,
		create.IsReactivation,
		create.ReactivationBrief,
		create.CreatedTs,
		create.UpdatedTs,
	}

	stmt := `INSERT INTO session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return create, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.ContactRef != nil {
		where, args = append(where, "contact_ref = "+placeholder(len(args)+1)), append(args, *find.ContactRef)
	}
	if find.Channel != nil {
		where, args = append(where, "channel = "+placeholder(len(args)+1)), append(args, *find.Channel)
	}
	if find.LastMessageBefore != nil {
		where, args = append(where, "last_message_at < "+placeholder(len(args)+1)), append(args, *find.LastMessageBefore)
	}

	query := `SELECT id, uid, contact_ref, channel, last_message_at, current_summary, last_summary_at, messages_since_summary, is_reactivation, reactivation_brief, created_ts, updated_ts
		FROM session WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
		if find.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Session, 0)
	for rows.Next() {
		s := &store.Session{}
		if err := rows.Scan(
			&s.ID,
			&s.UID,
			&s.ContactRef,
			&s.Channel,
			&s.LastMessageAt,
			&s.CurrentSummary,
			&s.LastSummaryAt,
			&s.MessagesSinceSummary,
			&s.IsReactivation,
			&s.ReactivationBrief,
			&s.CreatedTs,
			&s.UpdatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	set, args := []string{}, []any{}
	if update.LastMessageAt != nil {
		set, args = append(set, "last_message_at = "+placeholder(len(args)+1)), append(args, *update.LastMessageAt)
	}
	if update.IsReactivation != nil {
		set, args = append(set, "is_reactivation = "+placeholder(len(args)+1)), append(args, *update.IsReactivation)
	}
	if update.ReactivationBrief != nil {
		set, args = append(set, "reactivation_brief = "+placeholder(len(args)+1)), append(args, *update.ReactivationBrief)
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())
	args = append(args, update.ID)

	stmt := `UPDATE session SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	sessions, err := d.ListSessions(ctx, &store.FindSession{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %d not found", update.ID)
	}
	return sessions[0], nil
}

func (d *DB) RecordSessionTurn(ctx context.Context, record *store.RecordSessionTurn) error {
	stmt := `UPDATE session SET
			messages_since_summary = messages_since_summary + 1,
			last_message_at = GREATEST(last_message_at, $1),
			is_reactivation = CASE WHEN $2 THEN FALSE ELSE is_reactivation END,
			updated_ts = $3
		WHERE id = $4`
	if _, err := d.db.ExecContext(ctx, stmt, record.LastMessageAt, record.ClearReactivation, time.Now().Unix(), record.SessionID); err != nil {
		return fmt.Errorf("failed to record session turn: %w", err)
	}
	return nil
}

func (d *DB) ApplySessionSummary(ctx context.Context, apply *store.ApplySessionSummary) (bool, error) {
	// Monotonic write: a stale job loses on last_summary_at and must not
	// reset the counter a newer summary already owns.
	stmt := `UPDATE session SET
			current_summary = $1,
			last_summary_at = $2,
			messages_since_summary = 0,
			updated_ts = $3
		WHERE id = $4 AND last_summary_at < $5`
	result, err := d.db.ExecContext(ctx, stmt, apply.Summary, apply.SummaryTs, time.Now().Unix(), apply.SessionID, apply.SummaryTs)
	if err != nil {
		return false, fmt.Errorf("failed to apply session summary: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (d *DB) SetSessionReactivation(ctx context.Context, set *store.SetSessionReactivation) error {
	stmt := `UPDATE session SET is_reactivation = TRUE, reactivation_brief = $1, updated_ts = $2 WHERE id = $3`
	if _, err := d.db.ExecContext(ctx, stmt, set.Brief, time.Now().Unix(), set.SessionID); err != nil {
		return fmt.Errorf("failed to set session reactivation: %w", err)
	}
	return nil
}

func (d *DB) CreateTurn(ctx context.Context, create *store.Turn) (*store.Turn, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	stmt := `INSERT INTO turn (session_id, role, text, created_ts) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, create.SessionID, create.Role, create.Text, create.CreatedTs).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create turn: %w", err)
	}
	return create, nil
}

func (d *DB) ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}

	// Ordering ties on created_ts break by insertion order (id), never
	// re-sorted.
	query := `SELECT id, session_id, role, text, created_ts FROM turn
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts, id`
	if find.Last > 0 {
		query = `SELECT id, session_id, role, text, created_ts FROM (
				SELECT id, session_id, role, text, created_ts FROM turn
				WHERE ` + strings.Join(where, " AND ") + `
				ORDER BY created_ts DESC, id DESC LIMIT ` + fmt.Sprintf("%d", find.Last) + `
			) AS recent ORDER BY created_ts, id`
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Turn, 0)
	for rows.Next() {
		t := &store.Turn{}
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Text, &t.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) CountTurns(ctx context.Context, sessionID int32) (int32, error) {
	var count int32
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turn WHERE session_id = $1`, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}
