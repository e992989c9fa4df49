package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/haleyard/recall/internal/profile"
	"github.com/haleyard/recall/store"
	"github.com/haleyard/recall/store/db"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	p := &profile.Profile{
		Mode:               "dev",
		Driver:             "sqlite",
		DSN:                filepath.Join(t.TempDir(), "recall_test.db"),
		MaxContextTokens:   4096,
		RecentMaxTurns:     12,
		SummarizeThreshold: 10,
		SummarizeIdle:      24 * time.Hour,
		ReactivationIdle:   168 * time.Hour,
		ConsentTTL:         168 * time.Hour,
		JobWorkers:         1,
	}
	driver, err := db.NewDBDriver(p)
	require.NoError(t, err)

	st := store.New(driver, p)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})
	require.NoError(t, st.Migrate(context.Background()))

	return NewService(p, st, nil), st
}

func TestRecordTurnCreatesSession(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	session, turn, err := svc.RecordTurn(ctx, &RecordTurnRequest{
		ContactRef: "contact-1",
		Channel:    "whatsapp",
		Role:       store.TurnRoleUser,
		Text:       "hi there",
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, "contact-1", session.ContactRef)
	require.Equal(t, int32(1), session.MessagesSinceSummary)
	require.Equal(t, session.ID, turn.SessionID)

	count, err := st.CountTurns(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, int32(1), count)
}

func TestRecordTurnConcurrentFirstTurns(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	// One connection serializes sqlite writes; the lookup/insert race at
	// the service layer is still live across goroutines.
	st.GetDriver().GetDB().SetMaxOpenConns(1)

	const writers = 8
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, _, err := svc.RecordTurn(ctx, &RecordTurnRequest{
				ContactRef: "contact-1",
				Channel:    "whatsapp",
				Role:       store.TurnRoleUser,
				Text:       "racing first turn",
			})
			return err
		})
	}
	// Every writer lands a turn; a loser of the session insert adopts the
	// winner's row instead of failing on the unique index.
	require.NoError(t, g.Wait())

	contactRef, channel := "contact-1", "whatsapp"
	sessions, err := st.ListSessions(ctx, &store.FindSession{
		ContactRef: &contactRef,
		Channel:    &channel,
	})
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	count, err := st.CountTurns(ctx, sessions[0].ID)
	require.NoError(t, err)
	require.Equal(t, int32(writers), count)
}
