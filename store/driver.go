package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Session model related methods.
	CreateSession(ctx context.Context, create *Session) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)

	// RecordSessionTurn bumps the turn counter and advances last_message_at
	// forward only.
	RecordSessionTurn(ctx context.Context, record *RecordSessionTurn) error

	// ApplySessionSummary performs the monotonic summary write. Returns
	// applied=false when a newer summary already won.
	ApplySessionSummary(ctx context.Context, apply *ApplySessionSummary) (bool, error)

	// SetSessionReactivation caches the re-entry brief and sets the flag.
	SetSessionReactivation(ctx context.Context, set *SetSessionReactivation) error

	// Turn model related methods. Turns are append-only.
	CreateTurn(ctx context.Context, create *Turn) (*Turn, error)
	ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error)
	CountTurns(ctx context.Context, sessionID int32) (int32, error)

	// MemorySnapshot model related methods. Snapshots are append-only.
	CreateMemorySnapshot(ctx context.Context, create *MemorySnapshot) (*MemorySnapshot, error)
	ListMemorySnapshots(ctx context.Context, find *FindMemorySnapshot) ([]*MemorySnapshot, error)

	// ContactMemory model related methods.
	GetContactMemory(ctx context.Context, find *FindContactMemory) (*ContactMemory, error)
	UpsertContactMemory(ctx context.Context, upsert *UpsertContactMemory) (bool, error)

	// OperatorNote model related methods.
	CreateOperatorNote(ctx context.Context, create *OperatorNote) (*OperatorNote, error)
	ListOperatorNotes(ctx context.Context, find *FindOperatorNote) ([]*OperatorNote, error)
	UpdateOperatorNote(ctx context.Context, update *UpdateOperatorNote) (*OperatorNote, error)
	DeleteOperatorNote(ctx context.Context, delete *DeleteOperatorNote) error

	// MemoryConsent model related methods.
	CreateMemoryConsent(ctx context.Context, create *MemoryConsent) (*MemoryConsent, error)
	ListMemoryConsents(ctx context.Context, find *FindMemoryConsent) ([]*MemoryConsent, error)
	ResolveMemoryConsent(ctx context.Context, resolve *ResolveMemoryConsent) (bool, error)
	ExpireMemoryConsents(ctx context.Context, expire *ExpireMemoryConsents) (int64, error)
}
