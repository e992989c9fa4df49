// Package reactivation spots contacts coming back after a long silence and
// prepares a short re-entry brief before their next exchange, so the live
// turn never pays for it.
package reactivation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/haleyard/recall/server/ai"
	"github.com/haleyard/recall/store"
)

// Store is the slice of the store the detector needs.
type Store interface {
	GetSession(ctx context.Context, id int32) (*store.Session, error)
	ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error)
	CountTurns(ctx context.Context, sessionID int32) (int32, error)
	GetContactMemory(ctx context.Context, find *store.FindContactMemory) (*store.ContactMemory, error)
	ListOperatorNotes(ctx context.Context, find *store.FindOperatorNote) ([]*store.OperatorNote, error)
	CreateMemorySnapshot(ctx context.Context, create *store.MemorySnapshot) (*store.MemorySnapshot, error)
	SetSessionReactivation(ctx context.Context, set *store.SetSessionReactivation) error
}

// Detector flags long-idle sessions and generates their re-entry briefs.
type Detector struct {
	store   Store
	invoker ai.Invoker
	idle    time.Duration
	nowFn   func() time.Time
}

func NewDetector(st Store, invoker ai.Invoker, idle time.Duration) *Detector {
	return &Detector{
		store:   st,
		invoker: invoker,
		idle:    idle,
		nowFn:   time.Now,
	}
}

// FindIdle returns sessions due for a re-entry brief: past the idle window,
// not already flagged, with at least one exchange on record. A session with
// no history has nothing to come back to.
func (d *Detector) FindIdle(ctx context.Context, limit int) ([]*store.Session, error) {
	cutoff := d.nowFn().Add(-d.idle).Unix()
	sessions, err := d.store.ListSessions(ctx, &store.FindSession{
		LastMessageBefore: &cutoff,
		Limit:             limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list idle sessions")
	}

	var due []*store.Session
	for _, session := range sessions {
		if session.IsReactivation || session.LastMessageAt == 0 {
			continue
		}
		count, err := d.store.CountTurns(ctx, session.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to count turns")
		}
		if count == 0 {
			continue
		}
		due = append(due, session)
	}
	return due, nil
}

// PrepareBrief generates and caches the re-entry brief for one idle session.
// The brief condenses what the relationship already holds: the rolling
// summary, the contact profile, pinned operator notes, and how long the
// contact has been away.
func (d *Detector) PrepareBrief(ctx context.Context, sessionID int32) error {
	if d.invoker == nil {
		return errors.New("model provider not configured")
	}

	session, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to get session")
	}
	if session == nil || session.IsReactivation {
		return nil
	}
	now := d.nowFn()
	if session.LastMessageAt == 0 || now.Sub(time.Unix(session.LastMessageAt, 0)) < d.idle {
		return nil
	}

	profile, err := d.store.GetContactMemory(ctx, &store.FindContactMemory{ContactRef: session.ContactRef})
	if err != nil {
		return errors.Wrap(err, "failed to get contact memory")
	}
	notes, err := d.loadPinnedNotes(ctx, session, now)
	if err != nil {
		return err
	}

	prompt := buildBriefPrompt(session, profile, notes, now)
	completion, err := d.invoker.Invoke(ctx, ai.InstructionReactivationBrief, prompt)
	if err != nil {
		return errors.Wrap(err, "failed to generate brief")
	}
	brief := strings.TrimSpace(completion.Text)
	if brief == "" {
		return errors.New("model returned an empty brief")
	}

	turnCount, err := d.store.CountTurns(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to count turns")
	}
	if _, err := d.store.CreateMemorySnapshot(ctx, &store.MemorySnapshot{
		UID:                    shortuuid.New(),
		SessionID:              sessionID,
		Kind:                   store.SnapshotKindReactivationContext,
		Content:                brief,
		MessageCountAtSnapshot: turnCount,
	}); err != nil {
		return errors.Wrap(err, "failed to create brief snapshot")
	}
	if err := d.store.SetSessionReactivation(ctx, &store.SetSessionReactivation{
		SessionID: sessionID,
		Brief:     brief,
	}); err != nil {
		return errors.Wrap(err, "failed to set reactivation")
	}

	slog.Info("re-entry brief prepared",
		slog.Int("session", int(sessionID)),
		slog.String("contact", session.ContactRef))
	return nil
}

// loadPinnedNotes gathers the live pinned operator notes scoped to the
// session and to the contact, the same sources the allocator reads.
func (d *Detector) loadPinnedNotes(ctx context.Context, session *store.Session, now time.Time) ([]*store.OperatorNote, error) {
	pinned := true
	notBefore := now.Unix()

	var notes []*store.OperatorNote
	for _, scope := range []struct {
		targetType store.NoteTargetType
		targetID   string
	}{
		{store.NoteTargetSession, session.UID},
		{store.NoteTargetContact, session.ContactRef},
	} {
		scope := scope
		found, err := d.store.ListOperatorNotes(ctx, &store.FindOperatorNote{
			TargetType:   &scope.targetType,
			TargetID:     &scope.targetID,
			Pinned:       &pinned,
			NotExpiredAt: &notBefore,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to list operator notes")
		}
		notes = append(notes, found...)
	}
	return notes, nil
}

func buildBriefPrompt(session *store.Session, profile *store.ContactMemory, notes []*store.OperatorNote, now time.Time) string {
	var sb strings.Builder
	awayDays := int(now.Sub(time.Unix(session.LastMessageAt, 0)).Hours() / 24)
	fmt.Fprintf(&sb, "The contact has been away for about %d days.\n", awayDays)
	if session.CurrentSummary != "" {
		sb.WriteString("\nLast conversation summary:\n")
		sb.WriteString(session.CurrentSummary)
		sb.WriteString("\n")
	}
	if profile != nil {
		if profile.CurrentStage != "" {
			sb.WriteString("\nFunnel stage: " + string(profile.CurrentStage) + "\n")
		}
		if profile.NextStep != "" {
			sb.WriteString("Agreed next step: " + profile.NextStep + "\n")
		}
		if len(profile.PainPoints) > 0 {
			sb.WriteString("Known pain points: " + strings.Join(profile.PainPoints, "; ") + "\n")
		}
	}
	if len(notes) > 0 {
		sb.WriteString("\nOperator notes:\n")
		for _, note := range notes {
			sb.WriteString("- " + note.Content + "\n")
		}
	}
	return sb.String()
}
