package store

// NoteTargetType says what an operator note is attached to.
type NoteTargetType string

const (
	NoteTargetSession NoteTargetType = "SESSION"
	NoteTargetContact NoteTargetType = "CONTACT"
)

// NoteCategory classifies an operator note.
type NoteCategory string

const (
	NoteCategoryStrategy     NoteCategory = "STRATEGY"
	NoteCategoryRelationship NoteCategory = "RELATIONSHIP"
	NoteCategoryContext      NoteCategory = "CONTEXT"
	NoteCategoryWarning      NoteCategory = "WARNING"
	NoteCategoryOpportunity  NoteCategory = "OPPORTUNITY"
)

// NotePriority orders notes under budget pressure.
type NotePriority string

const (
	NotePriorityHigh   NotePriority = "HIGH"
	NotePriorityMedium NotePriority = "MEDIUM"
	NotePriorityLow    NotePriority = "LOW"
)

// OperatorNote is human-authored strategic context, independent of turns.
// Expired notes are excluded from assembly reads but not deleted here;
// deletion belongs to a separate retention job.
type OperatorNote struct {
	ID         int32
	UID        string
	TargetType NoteTargetType
	TargetID   string
	Category   NoteCategory
	Content    string
	Priority   NotePriority
	Pinned     bool
	ExpiresAt  int64 // unix seconds, 0 means never

	CreatedTs int64
	UpdatedTs int64
}

type FindOperatorNote struct {
	ID         *int32
	UID        *string
	TargetType *NoteTargetType
	TargetID   *string
	Pinned     *bool

	// NotExpiredAt excludes notes whose expires_at is set and older than the
	// given unix timestamp.
	NotExpiredAt *int64

	Limit int
}

type UpdateOperatorNote struct {
	ID int32

	Content   *string
	Category  *NoteCategory
	Priority  *NotePriority
	Pinned    *bool
	ExpiresAt *int64
	UpdatedTs *int64
}

type DeleteOperatorNote struct {
	ID int32
}
