package store

import (
	"context"
	"fmt"
	"time"

	"github.com/haleyard/recall/internal/profile"
	"github.com/haleyard/recall/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Caches
	sessionCache *cache.Cache // cache for sessions, keyed by id
	contactCache *cache.Cache // cache for contact memories, keyed by contact ref
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
	}

	return &Store{
		driver:       driver,
		profile:      profile,
		sessionCache: cache.New(cacheConfig),
		contactCache: cache.New(cacheConfig),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.sessionCache.Close()
	s.contactCache.Close()
	return s.driver.Close()
}

func sessionCacheKey(id int32) string {
	return fmt.Sprintf("session:%d", id)
}

func (s *Store) CreateSession(ctx context.Context, create *Session) (*Session, error) {
	session, err := s.driver.CreateSession(ctx, create)
	if err != nil {
		return nil, err
	}
	s.sessionCache.Set(sessionCacheKey(session.ID), session)
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	return s.driver.ListSessions(ctx, find)
}

// GetSession returns a single session by id, serving from cache when warm.
func (s *Store) GetSession(ctx context.Context, id int32) (*Session, error) {
	if v, ok := s.sessionCache.Get(sessionCacheKey(id)); ok {
		if session, ok := v.(*Session); ok {
			return session, nil
		}
	}

	sessions, err := s.driver.ListSessions(ctx, &FindSession{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	s.sessionCache.Set(sessionCacheKey(id), sessions[0])
	return sessions[0], nil
}

// GetSessionByUID returns a single session by its public uid.
func (s *Store) GetSessionByUID(ctx context.Context, uid string) (*Session, error) {
	sessions, err := s.driver.ListSessions(ctx, &FindSession{UID: &uid})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error) {
	session, err := s.driver.UpdateSession(ctx, update)
	if err != nil {
		return nil, err
	}
	s.sessionCache.Set(sessionCacheKey(session.ID), session)
	return session, nil
}

func (s *Store) RecordSessionTurn(ctx context.Context, record *RecordSessionTurn) error {
	if err := s.driver.RecordSessionTurn(ctx, record); err != nil {
		return err
	}
	s.sessionCache.Delete(sessionCacheKey(record.SessionID))
	return nil
}

func (s *Store) ApplySessionSummary(ctx context.Context, apply *ApplySessionSummary) (bool, error) {
	applied, err := s.driver.ApplySessionSummary(ctx, apply)
	if err != nil {
		return false, err
	}
	if applied {
		s.sessionCache.Delete(sessionCacheKey(apply.SessionID))
	}
	return applied, nil
}

func (s *Store) SetSessionReactivation(ctx context.Context, set *SetSessionReactivation) error {
	if err := s.driver.SetSessionReactivation(ctx, set); err != nil {
		return err
	}
	s.sessionCache.Delete(sessionCacheKey(set.SessionID))
	return nil
}

func (s *Store) CreateTurn(ctx context.Context, create *Turn) (*Turn, error) {
	return s.driver.CreateTurn(ctx, create)
}

func (s *Store) ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error) {
	return s.driver.ListTurns(ctx, find)
}

func (s *Store) CountTurns(ctx context.Context, sessionID int32) (int32, error) {
	return s.driver.CountTurns(ctx, sessionID)
}

func (s *Store) CreateMemorySnapshot(ctx context.Context, create *MemorySnapshot) (*MemorySnapshot, error) {
	return s.driver.CreateMemorySnapshot(ctx, create)
}

func (s *Store) ListMemorySnapshots(ctx context.Context, find *FindMemorySnapshot) ([]*MemorySnapshot, error) {
	return s.driver.ListMemorySnapshots(ctx, find)
}

// GetLatestMemorySnapshot returns the authoritative snapshot for a
// (session, kind) pair, or nil when none exists.
func (s *Store) GetLatestMemorySnapshot(ctx context.Context, sessionID int32, kind SnapshotKind) (*MemorySnapshot, error) {
	snapshots, err := s.driver.ListMemorySnapshots(ctx, &FindMemorySnapshot{
		SessionID: &sessionID,
		Kind:      &kind,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return snapshots[0], nil
}

func (s *Store) GetContactMemory(ctx context.Context, find *FindContactMemory) (*ContactMemory, error) {
	if v, ok := s.contactCache.Get(find.ContactRef); ok {
		if memory, ok := v.(*ContactMemory); ok {
			return memory, nil
		}
	}

	memory, err := s.driver.GetContactMemory(ctx, find)
	if err != nil {
		return nil, err
	}
	if memory != nil {
		s.contactCache.Set(memory.ContactRef, memory)
	}
	return memory, nil
}

func (s *Store) UpsertContactMemory(ctx context.Context, upsert *UpsertContactMemory) (bool, error) {
	applied, err := s.driver.UpsertContactMemory(ctx, upsert)
	if err != nil {
		return false, err
	}
	if applied {
		s.contactCache.Delete(upsert.ContactMemory.ContactRef)
	}
	return applied, nil
}

func (s *Store) CreateOperatorNote(ctx context.Context, create *OperatorNote) (*OperatorNote, error) {
	return s.driver.CreateOperatorNote(ctx, create)
}

func (s *Store) ListOperatorNotes(ctx context.Context, find *FindOperatorNote) ([]*OperatorNote, error) {
	return s.driver.ListOperatorNotes(ctx, find)
}

func (s *Store) UpdateOperatorNote(ctx context.Context, update *UpdateOperatorNote) (*OperatorNote, error) {
	return s.driver.UpdateOperatorNote(ctx, update)
}

func (s *Store) DeleteOperatorNote(ctx context.Context, delete *DeleteOperatorNote) error {
	return s.driver.DeleteOperatorNote(ctx, delete)
}

func (s *Store) CreateMemoryConsent(ctx context.Context, create *MemoryConsent) (*MemoryConsent, error) {
	return s.driver.CreateMemoryConsent(ctx, create)
}

func (s *Store) ListMemoryConsents(ctx context.Context, find *FindMemoryConsent) ([]*MemoryConsent, error) {
	return s.driver.ListMemoryConsents(ctx, find)
}

func (s *Store) ResolveMemoryConsent(ctx context.Context, resolve *ResolveMemoryConsent) (bool, error) {
	return s.driver.ResolveMemoryConsent(ctx, resolve)
}

func (s *Store) ExpireMemoryConsents(ctx context.Context, expire *ExpireMemoryConsents) (int64, error) {
	return s.driver.ExpireMemoryConsents(ctx, expire)
}
