package summarizer

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/haleyard/recall/server/ai"
	"github.com/haleyard/recall/store"
)

type fakeStore struct {
	session   *store.Session
	turns     []*store.Turn
	snapshots []*store.MemorySnapshot
	applied   []*store.ApplySessionSummary

	// rejectApply simulates a newer summary having landed first.
	rejectApply bool
}

func (f *fakeStore) GetSession(_ context.Context, id int32) (*store.Session, error) {
	if f.session != nil && f.session.ID == id {
		return f.session, nil
	}
	return nil, nil
}

func (f *fakeStore) ListTurns(_ context.Context, find *store.FindTurn) ([]*store.Turn, error) {
	turns := f.turns
	if find.Last > 0 && len(turns) > find.Last {
		turns = turns[len(turns)-find.Last:]
	}
	return turns, nil
}

func (f *fakeStore) CountTurns(_ context.Context, _ int32) (int32, error) {
	return int32(len(f.turns)), nil
}

func (f *fakeStore) CreateMemorySnapshot(_ context.Context, create *store.MemorySnapshot) (*store.MemorySnapshot, error) {
	f.snapshots = append(f.snapshots, create)
	return create, nil
}

func (f *fakeStore) ApplySessionSummary(_ context.Context, apply *store.ApplySessionSummary) (bool, error) {
	f.applied = append(f.applied, apply)
	if f.rejectApply {
		return false, nil
	}
	f.session.CurrentSummary = apply.Summary
	f.session.LastSummaryAt = apply.SummaryTs
	f.session.MessagesSinceSummary = 0
	return true, nil
}

type fakeInvoker struct {
	prompts []string
	text    string
	err     error
}

func (f *fakeInvoker) Invoke(_ context.Context, _ ai.InstructionKind, prompt string) (*ai.Completion, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Completion{Text: f.text}, nil
}

var testNow = time.Unix(1700000000, 0)

func newTestScheduler(st *fakeStore, invoker ai.Invoker) *Scheduler {
	s := NewScheduler(st, invoker, Config{
		Threshold:   10,
		IdleAfter:   24 * time.Hour,
		WindowTurns: 50,
	})
	s.nowFn = func() time.Time { return testNow }
	return s
}

func dueSession() *store.Session {
	return &store.Session{
		ID:                   1,
		UID:                  "sess-1",
		ContactRef:           "contact-1",
		LastMessageAt:        testNow.Unix() - 60,
		MessagesSinceSummary: 12,
	}
}

func TestShouldSummarize(t *testing.T) {
	s := newTestScheduler(&fakeStore{}, nil)

	t.Run("TurnCountThreshold", func(t *testing.T) {
		due, reason := s.ShouldSummarize(&store.Session{MessagesSinceSummary: 10, LastMessageAt: testNow.Unix()}, testNow)
		require.True(t, due)
		require.Equal(t, "turn count threshold", reason)
	})

	t.Run("BelowThresholdAndActive", func(t *testing.T) {
		due, _ := s.ShouldSummarize(&store.Session{MessagesSinceSummary: 9, LastMessageAt: testNow.Unix()}, testNow)
		require.False(t, due)
	})

	t.Run("IdleWithUnsummarizedTurns", func(t *testing.T) {
		due, reason := s.ShouldSummarize(&store.Session{
			MessagesSinceSummary: 2,
			LastMessageAt:        testNow.Add(-25 * time.Hour).Unix(),
		}, testNow)
		require.True(t, due)
		require.Equal(t, "idle session", reason)
	})

	t.Run("IdleButNothingNew", func(t *testing.T) {
		due, _ := s.ShouldSummarize(&store.Session{
			MessagesSinceSummary: 0,
			LastMessageAt:        testNow.Add(-48 * time.Hour).Unix(),
		}, testNow)
		require.False(t, due)
	})
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()

	t.Run("WritesSnapshotAndAppliesSummary", func(t *testing.T) {
		st := &fakeStore{
			session: dueSession(),
			turns: []*store.Turn{
				{ID: 1, SessionID: 1, Role: store.TurnRoleUser, Text: "Is the API rate limited?", CreatedTs: 100},
				{ID: 2, SessionID: 1, Role: store.TurnRoleAssistant, Text: "Yes, 100 requests per minute.", CreatedTs: 110},
			},
		}
		st.session.CurrentSummary = "Earlier: asked about pricing."
		invoker := &fakeInvoker{text: "Contact asked about pricing and API rate limits."}

		require.NoError(t, newTestScheduler(st, invoker).Summarize(ctx, 1))

		require.Len(t, st.snapshots, 1)
		require.Equal(t, store.SnapshotKindSessionSummary, st.snapshots[0].Kind)
		require.Equal(t, invoker.text, st.snapshots[0].Content)
		require.Equal(t, int32(2), st.snapshots[0].MessageCountAtSnapshot)

		require.Len(t, st.applied, 1)
		require.Equal(t, int64(110), st.applied[0].SummaryTs)
		require.Equal(t, invoker.text, st.session.CurrentSummary)
		require.Zero(t, st.session.MessagesSinceSummary)

		// The prompt folds the previous summary in.
		require.Len(t, invoker.prompts, 1)
		require.Contains(t, invoker.prompts[0], "Earlier: asked about pricing.")
		require.Contains(t, invoker.prompts[0], "Contact: Is the API rate limited?")
	})

	t.Run("SkipsWhenNoLongerDue", func(t *testing.T) {
		session := dueSession()
		session.MessagesSinceSummary = 0
		st := &fakeStore{session: session, turns: []*store.Turn{{ID: 1, SessionID: 1, CreatedTs: 100}}}
		invoker := &fakeInvoker{text: "unused"}

		require.NoError(t, newTestScheduler(st, invoker).Summarize(ctx, 1))
		require.Empty(t, invoker.prompts)
		require.Empty(t, st.applied)
	})

	t.Run("SkipsMissingSession", func(t *testing.T) {
		st := &fakeStore{}
		require.NoError(t, newTestScheduler(st, &fakeInvoker{text: "x"}).Summarize(ctx, 99))
	})

	t.Run("StaleSummaryDiscardedSilently", func(t *testing.T) {
		st := &fakeStore{
			session:     dueSession(),
			turns:       []*store.Turn{{ID: 1, SessionID: 1, Role: store.TurnRoleUser, Text: "hello", CreatedTs: 100}},
			rejectApply: true,
		}
		inv := &fakeInvoker{text: "a summary"}

		require.NoError(t, newTestScheduler(st, inv).Summarize(ctx, 1))
		require.Len(t, st.applied, 1)
		require.Empty(t, st.session.CurrentSummary)
	})

	t.Run("ModelFailureLeavesStateUntouched", func(t *testing.T) {
		st := &fakeStore{
			session: dueSession(),
			turns:   []*store.Turn{{ID: 1, SessionID: 1, Role: store.TurnRoleUser, Text: "hello", CreatedTs: 100}},
		}
		inv := &fakeInvoker{err: errors.New("model unavailable")}

		err := newTestScheduler(st, inv).Summarize(ctx, 1)
		require.Error(t, err)
		require.Empty(t, st.snapshots)
		require.Empty(t, st.applied)
		require.Equal(t, int32(12), st.session.MessagesSinceSummary)
	})
}
