package store

// ConsentStatus is the state of a proposed fact in the consent gate.
// Transitions: PENDING -> ACCEPTED | DECLINED | EXPIRED. The transition out
// of PENDING is enforced at the write boundary, not by convention.
type ConsentStatus string

const (
	ConsentStatusPending  ConsentStatus = "PENDING"
	ConsentStatusAccepted ConsentStatus = "ACCEPTED"
	ConsentStatusDeclined ConsentStatus = "DECLINED"
	ConsentStatusExpired  ConsentStatus = "EXPIRED"
)

// MemoryConsent tracks an AI-proposed fact pending human accept/decline.
// Only accepted consents may be merged into ContactMemory.
type MemoryConsent struct {
	ID         int32
	UID        string
	ContactRef string
	SessionID  int32
	Status     ConsentStatus

	FactType   string
	Category   string
	Value      string
	Confidence float64
	SourceText string

	CreatedTs  int64
	ResolvedTs int64
}

type FindMemoryConsent struct {
	ID         *int32
	UID        *string
	ContactRef *string
	SessionID  *int32
	Status     *ConsentStatus

	Limit int
}

// ResolveMemoryConsent moves a consent out of PENDING. The driver applies it
// with a conditional update on the current status; resolving an already
// resolved consent is a no-op (applied=false).
type ResolveMemoryConsent struct {
	ID         int32
	Status     ConsentStatus
	ResolvedTs int64
}

// ExpireMemoryConsents ages out pending consents created before the cutoff.
type ExpireMemoryConsents struct {
	CreatedBefore int64
	ExpiredTs     int64
}
