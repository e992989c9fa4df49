package extraction

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/haleyard/recall/server/ai"
	"github.com/haleyard/recall/store"
)

var ErrConsentNotFound = errors.New("consent not found")

// upsertRetries bounds the re-read loop when a concurrent extraction wins
// the guarded profile upsert.
const upsertRetries = 3

// Store is the slice of the store the extraction engine needs.
type Store interface {
	GetSession(ctx context.Context, id int32) (*store.Session, error)
	ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error)
	CountTurns(ctx context.Context, sessionID int32) (int32, error)
	GetContactMemory(ctx context.Context, find *store.FindContactMemory) (*store.ContactMemory, error)
	UpsertContactMemory(ctx context.Context, upsert *store.UpsertContactMemory) (bool, error)
	CreateMemorySnapshot(ctx context.Context, create *store.MemorySnapshot) (*store.MemorySnapshot, error)
	CreateMemoryConsent(ctx context.Context, create *store.MemoryConsent) (*store.MemoryConsent, error)
	ListMemoryConsents(ctx context.Context, find *store.FindMemoryConsent) ([]*store.MemoryConsent, error)
	ResolveMemoryConsent(ctx context.Context, resolve *store.ResolveMemoryConsent) (bool, error)
	ExpireMemoryConsents(ctx context.Context, expire *store.ExpireMemoryConsents) (int64, error)
}

// Engine runs fact extraction over finished conversation stretches and owns
// the consent gate in front of the contact profile. Nothing reaches the
// profile without an accepted consent.
type Engine struct {
	store       Store
	invoker     ai.Invoker
	policy      MergePolicy
	windowTurns int
	nowFn       func() time.Time
}

func NewEngine(st Store, invoker ai.Invoker, policy MergePolicy) *Engine {
	return &Engine{
		store:       st,
		invoker:     invoker,
		policy:      policy,
		windowTurns: 30,
		nowFn:       time.Now,
	}
}

// ExtractSession is the background job body: extract facts from the tail of
// the session thread, record an audit snapshot, and open a pending consent
// for every fact the gate lets through. Facts that do not clear the gate are
// dropped here and never stored anywhere but the snapshot.
func (e *Engine) ExtractSession(ctx context.Context, sessionID int32) error {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to get session")
	}
	if session == nil {
		return nil
	}

	turns, err := e.store.ListTurns(ctx, &store.FindTurn{
		SessionID: &sessionID,
		Last:      e.windowTurns,
	})
	if err != nil {
		return errors.Wrap(err, "failed to list turns")
	}
	if len(turns) == 0 {
		return nil
	}

	profile, err := e.store.GetContactMemory(ctx, &store.FindContactMemory{ContactRef: session.ContactRef})
	if err != nil {
		return errors.Wrap(err, "failed to get contact memory")
	}

	facts, err := ExtractFacts(ctx, e.invoker, renderConversation(turns), profile)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return nil
	}

	// The snapshot records the whole thread length, not the extraction
	// window, so audits can tell which stretch of the log it reflects.
	turnCount, err := e.store.CountTurns(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to count turns")
	}
	if raw, err := json.Marshal(factBatch{Facts: facts}); err == nil {
		if _, err := e.store.CreateMemorySnapshot(ctx, &store.MemorySnapshot{
			UID:                    shortuuid.New(),
			SessionID:              sessionID,
			Kind:                   store.SnapshotKindContactExtraction,
			Content:                string(raw),
			MessageCountAtSnapshot: turnCount,
		}); err != nil {
			return errors.Wrap(err, "failed to create extraction snapshot")
		}
	}

	opened := 0
	for _, fact := range facts {
		if !fact.SuggestRemember || fact.Confidence < MinRememberConfidence {
			continue
		}
		if _, err := e.store.CreateMemoryConsent(ctx, &store.MemoryConsent{
			UID:        shortuuid.New(),
			ContactRef: session.ContactRef,
			SessionID:  sessionID,
			Status:     store.ConsentStatusPending,
			FactType:   fact.Type,
			Category:   fact.Category,
			Value:      fact.Value,
			Confidence: fact.Confidence,
			SourceText: fact.SourceText,
		}); err != nil {
			return errors.Wrap(err, "failed to create consent")
		}
		opened++
	}
	if opened > 0 {
		slog.Info("extraction opened consents",
			slog.Int("session", int(sessionID)),
			slog.Int("facts", len(facts)),
			slog.Int("pending", opened))
	}
	return nil
}

// ResolveConsent settles a pending consent. Only the first resolution of a
// consent wins; an accept merges the fact into the contact profile, a
// decline just closes it. Resolving an already settled consent reports
// ErrConsentNotFound.
func (e *Engine) ResolveConsent(ctx context.Context, uid string, accepted bool) (*store.MemoryConsent, error) {
	consents, err := e.store.ListMemoryConsents(ctx, &store.FindMemoryConsent{UID: &uid})
	if err != nil {
		return nil, errors.Wrap(err, "failed to find consent")
	}
	if len(consents) == 0 {
		return nil, errors.Wrapf(ErrConsentNotFound, "consent %s", uid)
	}
	consent := consents[0]

	status := store.ConsentStatusDeclined
	if accepted {
		status = store.ConsentStatusAccepted
	}
	resolved, err := e.store.ResolveMemoryConsent(ctx, &store.ResolveMemoryConsent{
		ID:         consent.ID,
		Status:     status,
		ResolvedTs: e.nowFn().Unix(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve consent")
	}
	if !resolved {
		return nil, errors.Wrapf(ErrConsentNotFound, "consent %s is not pending", uid)
	}
	consent.Status = status

	if accepted {
		fact := Fact{
			Type:       consent.FactType,
			Category:   consent.Category,
			Value:      consent.Value,
			Confidence: consent.Confidence,
			SourceText: consent.SourceText,
		}
		if err := e.mergeAccepted(ctx, consent.ContactRef, fact); err != nil {
			return nil, err
		}
	}
	return consent, nil
}

// ExpirePending ages out pending consents older than ttl. Returns how many
// were expired.
func (e *Engine) ExpirePending(ctx context.Context, ttl time.Duration) (int64, error) {
	now := e.nowFn()
	return e.store.ExpireMemoryConsents(ctx, &store.ExpireMemoryConsents{
		CreatedBefore: now.Add(-ttl).Unix(),
		ExpiredTs:     now.Unix(),
	})
}

// mergeAccepted folds the fact into the stored profile. The store upsert is
// guarded against concurrent writers, so a lost race re-reads and retries on
// top of the winner's state.
func (e *Engine) mergeAccepted(ctx context.Context, contactRef string, fact Fact) error {
	for attempt := 0; attempt < upsertRetries; attempt++ {
		stored, err := e.store.GetContactMemory(ctx, &store.FindContactMemory{ContactRef: contactRef})
		if err != nil {
			return errors.Wrap(err, "failed to get contact memory")
		}
		// Merge on a copy: the store may hand out a shared cached profile.
		profile := cloneProfile(stored)
		if profile == nil {
			profile = &store.ContactMemory{ContactRef: contactRef}
		}

		changed := MergeFact(profile, fact, e.policy)
		if !changed {
			return nil
		}
		profile.ExtractionCount++
		profile.LastExtractedAt = e.nowFn().Unix()

		applied, err := e.store.UpsertContactMemory(ctx, &store.UpsertContactMemory{ContactMemory: profile})
		if err != nil {
			return errors.Wrap(err, "failed to upsert contact memory")
		}
		if applied {
			return nil
		}
	}
	return errors.Errorf("contact memory upsert kept losing for %s", contactRef)
}

func renderConversation(turns []*store.Turn) string {
	var sb strings.Builder
	for i, turn := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		role := "Contact"
		if turn.Role == store.TurnRoleAssistant {
			role = "Agent"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(turn.Text)
	}
	return sb.String()
}
