// Package memory is the engine facade. It owns the layer assembler, the
// summarization scheduler, the fact-extraction engine, the reactivation
// detector and the background queue that keeps all of them off the turn
// path.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/haleyard/recall/internal/profile"
	"github.com/haleyard/recall/plugin/memory/assembler"
	"github.com/haleyard/recall/plugin/memory/extraction"
	"github.com/haleyard/recall/plugin/memory/jobs"
	"github.com/haleyard/recall/plugin/memory/reactivation"
	"github.com/haleyard/recall/plugin/memory/summarizer"
	"github.com/haleyard/recall/server/ai"
	"github.com/haleyard/recall/store"
)

// extractionDelay gives a conversation stretch a moment to settle before
// facts are pulled from it.
const extractionDelay = time.Minute

// Service is the memory engine entry point the server talks to.
type Service struct {
	store   *store.Store
	profile *profile.Profile
	invoker ai.Invoker

	assembler *assembler.Assembler
	scheduler *summarizer.Scheduler
	extractor *extraction.Engine
	detector  *reactivation.Detector
	queue     *jobs.Queue
	nowFn     func() time.Time
}

func NewService(p *profile.Profile, st *store.Store, invoker ai.Invoker) *Service {
	s := &Service{
		store:     st,
		profile:   p,
		invoker:   invoker,
		assembler: assembler.New(st, p.RecentMaxTurns),
		scheduler: summarizer.NewScheduler(st, invoker, summarizer.Config{
			Threshold: int32(p.SummarizeThreshold),
			IdleAfter: p.SummarizeIdle,
		}),
		extractor: extraction.NewEngine(st, invoker, extraction.DefaultMergePolicy()),
		detector:  reactivation.NewDetector(st, invoker, p.ReactivationIdle),
		queue:     jobs.NewQueue(p.JobWorkers, 256),
		nowFn:     time.Now,
	}

	s.queue.Register(jobs.KindSummarize, func(ctx context.Context, task jobs.Task) error {
		return s.scheduler.Summarize(ctx, task.SessionID)
	})
	s.queue.Register(jobs.KindExtract, func(ctx context.Context, task jobs.Task) error {
		return s.extractor.ExtractSession(ctx, task.SessionID)
	})
	s.queue.Register(jobs.KindBrief, func(ctx context.Context, task jobs.Task) error {
		return s.detector.PrepareBrief(ctx, task.SessionID)
	})
	return s
}

// Queue exposes the background queue so the runner can own its lifecycle.
func (s *Service) Queue() *jobs.Queue {
	return s.queue
}

// RecordTurnRequest appends one turn to a conversation. A session is keyed
// by contact and channel; the first inbound turn creates it.
type RecordTurnRequest struct {
	ContactRef string
	Channel    string
	Role       store.TurnRole
	Text       string
}

// RecordTurn is the synchronous write on the turn path. It appends the turn,
// bumps the session counters, and only schedules background work; nothing
// here waits for a model call.
func (s *Service) RecordTurn(ctx context.Context, req *RecordTurnRequest) (*store.Session, *store.Turn, error) {
	if req.ContactRef == "" || req.Channel == "" {
		return nil, nil, errors.New("contact_ref and channel are required")
	}
	if req.Text == "" {
		return nil, nil, errors.New("text is required")
	}
	if req.Role != store.TurnRoleUser && req.Role != store.TurnRoleAssistant {
		return nil, nil, errors.Errorf("unknown role %q", req.Role)
	}

	session, err := s.getOrCreateSession(ctx, req.ContactRef, req.Channel)
	if err != nil {
		return nil, nil, err
	}

	now := s.nowFn()
	turn, err := s.store.CreateTurn(ctx, &store.Turn{
		SessionID: session.ID,
		Role:      req.Role,
		Text:      req.Text,
		CreatedTs: now.Unix(),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create turn")
	}

	// An assistant turn completes the exchange the re-entry brief was
	// prepared for, so the flag comes down with it.
	clearReactivation := req.Role == store.TurnRoleAssistant && session.IsReactivation
	if err := s.store.RecordSessionTurn(ctx, &store.RecordSessionTurn{
		SessionID:         session.ID,
		LastMessageAt:     now.Unix(),
		ClearReactivation: clearReactivation,
	}); err != nil {
		return nil, nil, errors.Wrap(err, "failed to record session turn")
	}

	session, err = s.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to reload session")
	}

	if req.Role == store.TurnRoleAssistant {
		s.notifyExchangeComplete(session, now)
	}
	return session, turn, nil
}

// notifyExchangeComplete schedules the async work a finished exchange may
// warrant. Dropped tasks are fine: the periodic sweeps re-detect them.
func (s *Service) notifyExchangeComplete(session *store.Session, now time.Time) {
	if s.invoker == nil {
		return
	}
	if due, reason := s.scheduler.ShouldSummarize(session, now); due {
		s.queue.Enqueue(jobs.Task{
			Key:       fmt.Sprintf("summarize/%d", session.ID),
			Kind:      jobs.KindSummarize,
			SessionID: session.ID,
			NotBefore: now.Add(s.profile.SummarizeDelay),
		})
		slog.Debug("summary scheduled", slog.Int("session", int(session.ID)), slog.String("reason", reason))
	}
	s.queue.Enqueue(jobs.Task{
		Key:       fmt.Sprintf("extract/%d", session.ID),
		Kind:      jobs.KindExtract,
		SessionID: session.ID,
		NotBefore: now.Add(extractionDelay),
	})
}

func (s *Service) getOrCreateSession(ctx context.Context, contactRef, channel string) (*store.Session, error) {
	sessions, err := s.store.ListSessions(ctx, &store.FindSession{
		ContactRef: &contactRef,
		Channel:    &channel,
		Limit:      1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to find session")
	}
	if len(sessions) > 0 {
		return sessions[0], nil
	}
	session, err := s.store.CreateSession(ctx, &store.Session{
		UID:        shortuuid.New(),
		ContactRef: contactRef,
		Channel:    channel,
	})
	if err != nil {
		// Two first turns can race past the lookup; the unique index on
		// (contact_ref, channel) fails the loser, which adopts the
		// winner's row.
		sessions, findErr := s.store.ListSessions(ctx, &store.FindSession{
			ContactRef: &contactRef,
			Channel:    &channel,
			Limit:      1,
		})
		if findErr == nil && len(sessions) > 0 {
			return sessions[0], nil
		}
		return nil, errors.Wrap(err, "failed to create session")
	}
	return session, nil
}

// Assemble builds the context payload for a session. A non-positive budget
// falls back to the configured default.
func (s *Service) Assemble(ctx context.Context, sessionID int32, maxTokens int) (*assembler.Result, error) {
	if maxTokens <= 0 {
		maxTokens = s.profile.MaxContextTokens
	}
	return s.assembler.Assemble(ctx, sessionID, maxTokens)
}

// ResolveConsent settles one pending retention consent.
func (s *Service) ResolveConsent(ctx context.Context, uid string, accepted bool) (*store.MemoryConsent, error) {
	return s.extractor.ResolveConsent(ctx, uid, accepted)
}

// SweepIdleSummaries schedules summaries for sessions that went quiet with
// unsummarized turns.
func (s *Service) SweepIdleSummaries(ctx context.Context) error {
	if s.invoker == nil {
		return nil
	}
	cutoff := s.nowFn().Add(-s.profile.SummarizeIdle).Unix()
	sessions, err := s.store.ListSessions(ctx, &store.FindSession{
		LastMessageBefore: &cutoff,
		Limit:             200,
	})
	if err != nil {
		return errors.Wrap(err, "failed to list idle sessions")
	}
	for _, session := range sessions {
		if session.MessagesSinceSummary <= 0 {
			continue
		}
		s.queue.Enqueue(jobs.Task{
			Key:       fmt.Sprintf("summarize/%d", session.ID),
			Kind:      jobs.KindSummarize,
			SessionID: session.ID,
		})
	}
	return nil
}

// SweepReactivations schedules re-entry briefs for long-idle sessions.
func (s *Service) SweepReactivations(ctx context.Context) error {
	if s.invoker == nil {
		return nil
	}
	due, err := s.detector.FindIdle(ctx, 200)
	if err != nil {
		return err
	}
	for _, session := range due {
		s.queue.Enqueue(jobs.Task{
			Key:       fmt.Sprintf("brief/%d", session.ID),
			Kind:      jobs.KindBrief,
			SessionID: session.ID,
		})
	}
	return nil
}

// SweepExpiredConsents ages out pending consents past their TTL.
func (s *Service) SweepExpiredConsents(ctx context.Context) error {
	n, err := s.extractor.ExpirePending(ctx, s.profile.ConsentTTL)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("expired stale consents", slog.Int64("count", n))
	}
	return nil
}
