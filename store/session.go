package store

// Session is one ongoing conversation thread, a (channel, contact) pairing.
type Session struct {
	ID         int32
	UID        string
	ContactRef string
	Channel    string

	LastMessageAt        int64
	CurrentSummary       string
	LastSummaryAt        int64
	MessagesSinceSummary int32
	IsReactivation       bool
	ReactivationBrief    string

	CreatedTs int64
	UpdatedTs int64
}

type FindSession struct {
	ID         *int32
	UID        *string
	ContactRef *string
	Channel    *string

	// LastMessageBefore filters sessions whose last message is older than
	// the given unix timestamp. Used by the idle sweeps.
	LastMessageBefore *int64

	Limit  int
	Offset int
}

type UpdateSession struct {
	ID int32

	LastMessageAt     *int64
	IsReactivation    *bool
	ReactivationBrief *string
	UpdatedTs         *int64
}

// RecordSessionTurn is the per-turn session mutation: bumps the
// messages-since-summary counter and advances last_message_at forward only.
// ClearReactivation drops the reactivation flag once an exchange completed.
type RecordSessionTurn struct {
	SessionID         int32
	LastMessageAt     int64
	ClearReactivation bool
}

// ApplySessionSummary is the monotonic summary write. The driver applies it
// only when summary_ts is strictly greater than the stored last_summary_at,
// so a stale concurrent job can never regress session state.
type ApplySessionSummary struct {
	SessionID int32
	Summary   string
	SummaryTs int64
}

// SetSessionReactivation caches a freshly generated re-entry brief and flips
// the reactivation flag on.
type SetSessionReactivation struct {
	SessionID int32
	Brief     string
}

// TurnRole is the author of a conversation turn.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "USER"
	TurnRoleAssistant TurnRole = "ASSISTANT"
)

// Turn is a single conversation message. Turns are append-only and immutable
// once written; ordering is created_ts then insertion order.
type Turn struct {
	ID        int32
	SessionID int32
	Role      TurnRole
	Text      string
	CreatedTs int64
}

type FindTurn struct {
	SessionID *int32

	// Last returns only the most recent N turns (still in chronological
	// order).
	Last int
}
