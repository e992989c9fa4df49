// Package summarizer decides when a session's thread needs a fresh rolling
// summary and produces it off the turn path. Summaries are written through a
// monotonic guard so a slow job finishing late can never clobber a newer one.
package summarizer

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

// Store is the slice of the store the scheduler needs.
type Store interface {
	GetSession(ctx context.Context, id int32) (*store.Session, error)
	ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error)
	CountTurns(ctx context.Context, sessionID int32) (int32, error)
	CreateMemorySnapshot(ctx context.Context, create *store.MemorySnapshot) (*store.MemorySnapshot, error)
	ApplySessionSummary(ctx context.Context, apply *store.ApplySessionSummary) (bool, error)
}

type Config struct {
	// Threshold triggers a summary once this many turns accumulated since
	// the last one.
	Threshold int32
	// IdleAfter triggers a summary when a session with unsummarized turns
	// has been quiet this long.
	IdleAfter time.Duration
	// WindowTurns caps how much of the thread tail feeds one summary.
	WindowTurns int
}

// Scheduler produces rolling session summaries.
type Scheduler struct {
	store   Store
	invoker ai.Invoker
	config  Config
	nowFn   func() time.Time
}

func NewScheduler(st Store, invoker ai.Invoker, config Config) *Scheduler {
	if config.WindowTurns <= 0 {
		config.WindowTurns = 50
	}
	return &Scheduler{
		store:   st,
		invoker: invoker,
		config:  config,
		nowFn:   time.Now,
	}
}

// ShouldSummarize reports whether the session is due, and why.
func (s *Scheduler) ShouldSummarize(session *store.Session, now time.Time) (bool, string) {
	if session.MessagesSinceSummary <= 0 {
		return false, ""
	}
	if session.MessagesSinceSummary >= s.config.Threshold {
		return true, "turn count threshold"
	}
	if session.LastMessageAt > 0 && now.Sub(time.Unix(session.LastMessageAt, 0)) >= s.config.IdleAfter {
		return true, "idle session"
	}
	return false, ""
}

// Summarize generates and stores a summary for the session. The trigger is
// re-checked first since the job may have been scheduled minutes ago; a
// session already summarized in the meantime is skipped. The summary is
// stamped with the timestamp of the newest turn it covers, and the store
// discards it if a newer summary landed first.
func (s *Scheduler) Summarize(ctx context.Context, sessionID int32) error {
	if s.invoker == nil {
		return errors.New("model provider not configured")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to get session")
	}
	if session == nil {
		return nil
	}
	if due, _ := s.ShouldSummarize(session, s.nowFn()); !due {
		return nil
	}

	turns, err := s.store.ListTurns(ctx, &store.FindTurn{
		SessionID: &sessionID,
		Last:      s.config.WindowTurns,
	})
	if err != nil {
		return errors.Wrap(err, "failed to list turns")
	}
	if len(turns) == 0 {
		return nil
	}
	coveredThrough := turns[len(turns)-1].CreatedTs

	prompt := buildPrompt(session.CurrentSummary, turns)
	completion, err := s.invoker.Invoke(ctx, ai.InstructionSummarize, prompt)
	if err != nil {
		return errors.Wrap(err, "failed to generate summary")
	}
	summary := strings.TrimSpace(completion.Text)
	if summary == "" {
		return errors.New("model returned an empty summary")
	}

	turnCount, err := s.store.CountTurns(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to count turns")
	}
	if _, err := s.store.CreateMemorySnapshot(ctx, &store.MemorySnapshot{
		UID:                    shortuuid.New(),
		SessionID:              sessionID,
		Kind:                   store.SnapshotKindSessionSummary,
		Content:                summary,
		MessageCountAtSnapshot: turnCount,
	}); err != nil {
		return errors.Wrap(err, "failed to create summary snapshot")
	}

	applied, err := s.store.ApplySessionSummary(ctx, &store.ApplySessionSummary{
		SessionID: sessionID,
		Summary:   summary,
		SummaryTs: coveredThrough,
	})
	if err != nil {
		return errors.Wrap(err, "failed to apply summary")
	}
	if !applied {
		slog.Debug("stale summary discarded", slog.Int("session", int(sessionID)))
		return nil
	}

	slog.Info("session summary updated",
		slog.Int("session", int(sessionID)),
		slog.Int("turns", len(turns)),
		slog.Int("tokens", completion.Usage.TotalTokens))
	return nil
}

func buildPrompt(previousSummary string, turns []*store.Turn) string {
	var sb strings.Builder
	if previousSummary != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(previousSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Conversation:\n")
	for _, turn := range turns {
		role := "Contact"
		if turn.Role == store.TurnRoleAssistant {
			role = "Agent"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, turn.Text)
	}
	return sb.String()
}
