package assembler

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/haleyard/recall/store"
)

// TurnReader is the slice of the store the recent-context layer needs.
type TurnReader interface {
	ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error)
}

// RecentFormatter renders the tail of a session's message thread as
// alternating speaker-labeled lines, oldest first.
type RecentFormatter struct {
	turns TurnReader
}

func NewRecentFormatter(turns TurnReader) *RecentFormatter {
	return &RecentFormatter{turns: turns}
}

// FormatRecent returns the last maxTurns turns of the session as plain text.
// A missing or empty session yields an empty string rather than an error.
func (f *RecentFormatter) FormatRecent(ctx context.Context, sessionID int32, maxTurns int) (string, error) {
	if maxTurns <= 0 {
		return "", nil
	}

	turns, err := f.turns.ListTurns(ctx, &store.FindTurn{
		SessionID: &sessionID,
		Last:      maxTurns,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to list turns")
	}
	return renderTurns(turns), nil
}

func renderTurns(turns []*store.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, turn := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(speakerLabel(turn.Role))
		sb.WriteString(": ")
		sb.WriteString(turn.Text)
	}
	return sb.String()
}

func speakerLabel(role store.TurnRole) string {
	if role == store.TurnRoleAssistant {
		return "Agent"
	}
	return "Contact"
}
