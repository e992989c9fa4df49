package assembler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haleyard/recall/store"
)

type fakeStore struct {
	session *store.Session
	turns   []*store.Turn
	notes   []*store.OperatorNote
	profile *store.ContactMemory
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

func (f *fakeStore) ListOperatorNotes(_ context.Context, find *store.FindOperatorNote) ([]*store.OperatorNote, error) {
	var matched []*store.OperatorNote
	for _, note := range f.notes {
		if find.TargetType != nil && note.TargetType != *find.TargetType {
			continue
		}
		if find.TargetID != nil && note.TargetID != *find.TargetID {
			continue
		}
		if find.Pinned != nil && note.Pinned != *find.Pinned {
			continue
		}
		if find.NotExpiredAt != nil && note.ExpiresAt != 0 && note.ExpiresAt <= *find.NotExpiredAt {
			continue
		}
		matched = append(matched, note)
	}
	return matched, nil
}

func (f *fakeStore) GetContactMemory(_ context.Context, find *store.FindContactMemory) (*store.ContactMemory, error) {
	if f.profile != nil && f.profile.ContactRef == find.ContactRef {
		return f.profile, nil
	}
	return nil, nil
}

func newTestAssembler(st Store) *Assembler {
	a := New(st, 12)
	a.nowFn = func() time.Time { return time.Unix(1700000000, 0) }
	return a
}

func testSession() *store.Session {
	return &store.Session{
		ID:         1,
		UID:        "sess-1",
		ContactRef: "contact-1",
		Channel:    "whatsapp",
	}
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 0, EstimateTokens(""))
	require.Equal(t, 1, EstimateTokens("abc"))
	require.Equal(t, 1, EstimateTokens("abcd"))
	require.Equal(t, 2, EstimateTokens("abcde"))
	require.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func TestAssembleRecentOnly(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		session: testSession(),
		turns: []*store.Turn{
			{ID: 1, SessionID: 1, Role: store.TurnRoleUser, Text: "Hi, do you ship to Portugal?"},
			{ID: 2, SessionID: 1, Role: store.TurnRoleAssistant, Text: "We do, usually within five days."},
			{ID: 3, SessionID: 1, Role: store.TurnRoleUser, Text: "Great, what about returns?"},
		},
	}

	result, err := newTestAssembler(st).Assemble(ctx, 1, 500)
	require.NoError(t, err)
	require.Equal(t, []Layer{LayerRecent}, result.LayersIncluded)
	require.Equal(t,
		"Contact: Hi, do you ship to Portugal?\n"+
			"Agent: We do, usually within five days.\n"+
			"Contact: Great, what about returns?",
		result.Text)
	require.LessOrEqual(t, result.TokensEstimate, 500)
}

func TestAssembleEmptySession(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{session: testSession()}

	result, err := newTestAssembler(st).Assemble(ctx, 1, 100)
	require.NoError(t, err)
	require.Empty(t, result.Text)
	require.Empty(t, result.LayersIncluded)
	require.Zero(t, result.TokensEstimate)
}

func TestAssembleSessionNotFound(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}

	_, err := newTestAssembler(st).Assemble(ctx, 42, 500)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAssembleBudgetTooSmall(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		session: testSession(),
		turns: []*store.Turn{
			{ID: 1, SessionID: 1, Role: store.TurnRoleUser, Text: "hello"},
		},
		notes: []*store.OperatorNote{
			{ID: 1, TargetType: store.NoteTargetSession, TargetID: "sess-1", Category: store.NoteCategoryWarning, Content: "do not discount", Priority: store.NotePriorityHigh, Pinned: true},
			{ID: 2, TargetType: store.NoteTargetContact, TargetID: "contact-1", Category: store.NoteCategoryStrategy, Content: "lead with annual plan", Priority: store.NotePriorityMedium, Pinned: true},
		},
	}

	// Two pinned notes plus the recent floor need 24*2+32 = 80 tokens.
	_, err := newTestAssembler(st).Assemble(ctx, 1, 79)
	require.ErrorIs(t, err, ErrBudgetTooSmall)

	result, err := newTestAssembler(st).Assemble(ctx, 1, 80)
	require.NoError(t, err)
	require.Contains(t, result.LayersIncluded, LayerPinnedNotes)
	require.Contains(t, result.LayersIncluded, LayerRecent)
}

func TestAssembleBudgetInvariant(t *testing.T) {
	ctx := context.Background()
	st := richStore()

	for _, budget := range []int{120, 200, 300, 500, 1000, 4096} {
		result, err := newTestAssembler(st).Assemble(ctx, 1, budget)
		require.NoError(t, err, "budget %d", budget)
		require.LessOrEqual(t, result.TokensEstimate, budget, "budget %d", budget)
		require.Equal(t, EstimateTokens(result.Text), result.TokensEstimate)
	}
}

func TestAssembleDeterminism(t *testing.T) {
	ctx := context.Background()
	st := richStore()
	a := newTestAssembler(st)

	first, err := a.Assemble(ctx, 1, 600)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		next, err := a.Assemble(ctx, 1, 600)
		require.NoError(t, err)
		require.Equal(t, first, next)
	}
}

func TestAssemblePinnedNotePriority(t *testing.T) {
	ctx := context.Background()
	long := strings.Repeat("margin guidance and escalation detail. ", 20)
	st := &fakeStore{
		session: testSession(),
		notes: []*store.OperatorNote{
			{ID: 1, TargetType: store.NoteTargetContact, TargetID: "contact-1", Category: store.NoteCategoryWarning, Content: "never offer more than 10% off", Priority: store.NotePriorityHigh, Pinned: true, CreatedTs: 10},
			{ID: 2, TargetType: store.NoteTargetContact, TargetID: "contact-1", Category: store.NoteCategoryContext, Content: long, Priority: store.NotePriorityLow, Pinned: true, CreatedTs: 20},
		},
	}

	// Tight enough that the low-priority note must shed text, roomy enough
	// for the high-priority note to survive whole.
	result, err := newTestAssembler(st).Assemble(ctx, 1, 90)
	require.NoError(t, err)
	require.Equal(t, []Layer{LayerPinnedNotes}, result.LayersIncluded)
	require.Contains(t, result.Text, "never offer more than 10% off")
	require.NotContains(t, result.Text, long)
	require.LessOrEqual(t, result.TokensEstimate, 90)
}

func TestAssembleNoteTruncationFloor(t *testing.T) {
	ctx := context.Background()
	long := strings.Repeat("detail ", 60)
	st := &fakeStore{
		session: testSession(),
		notes: []*store.OperatorNote{
			{ID: 1, TargetType: store.NoteTargetContact, TargetID: "contact-1", Category: store.NoteCategoryContext, Content: long, Priority: store.NotePriorityLow, Pinned: true},
		},
	}

	result, err := newTestAssembler(st).Assemble(ctx, 1, MinNoteTokens)
	require.NoError(t, err)
	require.Equal(t, []Layer{LayerPinnedNotes}, result.LayersIncluded)
	require.LessOrEqual(t, result.TokensEstimate, MinNoteTokens)
	require.True(t, strings.HasPrefix(result.Text, "- [CONTEXT] "))
}

func TestAssembleExpiredNotesSkipped(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		session: testSession(),
		notes: []*store.OperatorNote{
			{ID: 1, TargetType: store.NoteTargetContact, TargetID: "contact-1", Category: store.NoteCategoryContext, Content: "stale promo note", Priority: store.NotePriorityHigh, Pinned: true, ExpiresAt: 1600000000},
			{ID: 2, TargetType: store.NoteTargetContact, TargetID: "contact-1", Category: store.NoteCategoryContext, Content: "unpinned aside", Priority: store.NotePriorityHigh, Pinned: false},
		},
	}

	result, err := newTestAssembler(st).Assemble(ctx, 1, 500)
	require.NoError(t, err)
	require.Empty(t, result.LayersIncluded)
	require.Empty(t, result.Text)
}

func TestAssembleTightBudget(t *testing.T) {
	ctx := context.Background()
	longTurn := strings.Repeat("we talked about the enterprise tier pricing and the onboarding timeline. ", 6)
	st := richStore()
	st.session.IsReactivation = false
	st.turns = []*store.Turn{
		{ID: 1, SessionID: 1, Role: store.TurnRoleUser, Text: longTurn},
		{ID: 2, SessionID: 1, Role: store.TurnRoleAssistant, Text: longTurn},
	}

	result, err := newTestAssembler(st).Assemble(ctx, 1, 200)
	require.NoError(t, err)
	require.Equal(t, []Layer{LayerPinnedNotes, LayerRecent}, result.LayersIncluded)
	require.Contains(t, result.Text, "never offer more than 10% off")
	require.NotContains(t, result.LayersIncluded, LayerSummary)
	require.NotContains(t, result.LayersIncluded, LayerProfile)
	require.LessOrEqual(t, result.TokensEstimate, 200)
}

func TestAssembleSummaryCeiling(t *testing.T) {
	ctx := context.Background()
	session := testSession()
	session.CurrentSummary = strings.Repeat("the contact compared our plans against a competitor. ", 4)
	st := &fakeStore{session: session}

	t.Run("IncludedWhenUnderCeiling", func(t *testing.T) {
		result, err := newTestAssembler(st).Assemble(ctx, 1, 500)
		require.NoError(t, err)
		require.Equal(t, []Layer{LayerSummary}, result.LayersIncluded)
		require.Contains(t, result.Text, "Conversation summary:")
	})

	t.Run("DroppedWholeWhenOverCeiling", func(t *testing.T) {
		// The summary costs ~58 tokens; at a 60-token budget the 85%
		// ceiling (51) excludes it entirely rather than truncating.
		result, err := newTestAssembler(st).Assemble(ctx, 1, 60)
		require.NoError(t, err)
		require.Empty(t, result.LayersIncluded)
	})
}

func TestAssembleReactivationBrief(t *testing.T) {
	ctx := context.Background()
	session := testSession()
	session.IsReactivation = true
	session.ReactivationBrief = "Returning after three weeks; was evaluating the team plan."
	st := &fakeStore{session: session}

	result, err := newTestAssembler(st).Assemble(ctx, 1, 500)
	require.NoError(t, err)
	require.Equal(t, []Layer{LayerReactivation}, result.LayersIncluded)
	require.Contains(t, result.Text, "Re-entry brief:")

	session.IsReactivation = false
	result, err = newTestAssembler(st).Assemble(ctx, 1, 500)
	require.NoError(t, err)
	require.Empty(t, result.LayersIncluded)
}

func TestAssembleProfileAllOrNothing(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		session: testSession(),
		profile: &store.ContactMemory{
			ContactRef:   "contact-1",
			CurrentStage: store.ContactStageConsideration,
			PainPoints:   []string{strings.Repeat("slow manual reporting process ", 10)},
		},
	}

	fits, err := newTestAssembler(st).Assemble(ctx, 1, 500)
	require.NoError(t, err)
	require.Equal(t, []Layer{LayerProfile}, fits.LayersIncluded)

	tight, err := newTestAssembler(st).Assemble(ctx, 1, 100)
	require.NoError(t, err)
	require.Empty(t, tight.LayersIncluded)
	require.NotContains(t, tight.Text, "Pain points")
}

func richStore() *fakeStore {
	session := testSession()
	session.CurrentSummary = strings.Repeat("summary of the earlier pricing discussion. ", 8)
	session.IsReactivation = true
	session.ReactivationBrief = "Back after a long gap; pick up the trial conversation."
	return &fakeStore{
		session: session,
		turns: []*store.Turn{
			{ID: 1, SessionID: 1, Role: store.TurnRoleUser, Text: "Can you resend the quote?"},
			{ID: 2, SessionID: 1, Role: store.TurnRoleAssistant, Text: "Sure, sending it now."},
			{ID: 3, SessionID: 1, Role: store.TurnRoleUser, Text: "Thanks, and does it include support?"},
		},
		notes: []*store.OperatorNote{
			{ID: 1, TargetType: store.NoteTargetContact, TargetID: "contact-1", Category: store.NoteCategoryWarning, Content: "never offer more than 10% off", Priority: store.NotePriorityHigh, Pinned: true, CreatedTs: 10},
		},
		profile: &store.ContactMemory{
			ContactRef:   "contact-1",
			CurrentStage: store.ContactStageDecision,
			NextStep:     "send contract draft",
			Preferences:  map[string]string{"channel": "email"},
			PainPoints:   []string{"manual invoicing"},
		},
	}
}
