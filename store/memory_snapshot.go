package store

// SnapshotKind identifies what a memory snapshot holds.
type SnapshotKind string

const (
	SnapshotKindSessionSummary      SnapshotKind = "SESSION_SUMMARY"
	SnapshotKindContactExtraction   SnapshotKind = "CONTACT_EXTRACTION"
	SnapshotKindReactivationContext SnapshotKind = "REACTIVATION_CONTEXT"
)

// MemorySnapshot is a versioned artifact produced by a background task.
// Snapshots are append-only: for a (session, kind) pair only the most recent
// row is authoritative, older rows are retained for auditability.
type MemorySnapshot struct {
	ID        int32
	UID       string
	SessionID int32
	Kind      SnapshotKind
	Content   string
	// MessageCountAtSnapshot is the turn-log length when the snapshot was
	// produced.
	MessageCountAtSnapshot int32
	CreatedTs              int64
}

type FindMemorySnapshot struct {
	ID        *int32
	SessionID *int32
	Kind      *SnapshotKind

	Limit int
}
