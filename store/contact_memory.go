package store

// ContactStage is the funnel position of a contact.
type ContactStage string

const (
	ContactStageAwareness     ContactStage = "AWARENESS"
	ContactStageConsideration ContactStage = "CONSIDERATION"
	ContactStageDecision      ContactStage = "DECISION"
	ContactStageCustomer      ContactStage = "CUSTOMER"
	ContactStageChurned       ContactStage = "CHURNED"
)

// Objection is one objection raised by the contact and whether it was
// addressed.
type Objection struct {
	Objection  string `json:"objection"`
	Resolved   bool   `json:"resolved"`
	Resolution string `json:"resolution,omitempty"`
}

// ContactMemory is the persistent profile accumulated for a contact across
// all sessions and channels. Mutated only through the merge engine; list
// fields only ever grow (append with de-duplication).
type ContactMemory struct {
	ContactRef string

	Preferences         map[string]string
	PainPoints          []string
	ObjectionsAddressed []Objection
	ProductsDiscussed   []string
	CurrentStage        ContactStage
	NextStep            string

	LastExtractedAt int64
	ExtractionCount int32

	CreatedTs int64
	UpdatedTs int64
}

type FindContactMemory struct {
	ContactRef string
}

// UpsertContactMemory writes a merged profile. The driver guards the write
// with the extraction counter: an upsert whose ExtractionCount is not greater
// than the stored one is a stale loser and is rejected (applied=false), never
// an error.
type UpsertContactMemory struct {
	ContactMemory *ContactMemory
}
