package assembler

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/haleyard/recall/store"
)

var (
	// ErrBudgetTooSmall is returned when the token budget cannot hold the
	// minimum allowance of every pinned note plus the recent-context floor.
	// It signals a configuration problem, not a degraded assembly.
	ErrBudgetTooSmall = errors.New("context budget too small")

	ErrSessionNotFound = errors.New("session not found")
)

// Store is the slice of the store the assembler reads from.
type Store interface {
	GetSession(ctx context.Context, id int32) (*store.Session, error)
	ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error)
	ListOperatorNotes(ctx context.Context, find *store.FindOperatorNote) ([]*store.OperatorNote, error)
	GetContactMemory(ctx context.Context, find *store.FindContactMemory) (*store.ContactMemory, error)
}

// Result is one assembled context payload.
type Result struct {
	Text           string
	TokensEstimate int
	// LayersIncluded lists the admitted layers in priority order.
	LayersIncluded []Layer
}

// Assembler allocates a per-turn token budget across the context layers.
// Given the same stored state and the same budget it always produces the
// same payload.
type Assembler struct {
	store    Store
	maxTurns int
	nowFn    func() time.Time
}

func New(st Store, maxTurns int) *Assembler {
	return &Assembler{
		store:    st,
		maxTurns: maxTurns,
		nowFn:    time.Now,
	}
}

type segment struct {
	layer Layer
	text  string
	cost  int
}

// Assemble builds the context payload for the session within maxTokens.
// Layers are admitted highest priority first; a layer that does not fit is
// dropped or truncated per its own rule and never takes budget from a
// higher-priority layer.
func (a *Assembler) Assemble(ctx context.Context, sessionID int32, maxTokens int) (*Result, error) {
	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}
	if session == nil {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %d", sessionID)
	}

	notes, err := a.loadPinnedNotes(ctx, session)
	if err != nil {
		return nil, err
	}
	turns, err := a.store.ListTurns(ctx, &store.FindTurn{
		SessionID: &session.ID,
		Last:      a.maxTurns,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list turns")
	}

	floor := len(notes) * MinNoteTokens
	if len(turns) > 0 {
		floor += MinRecentTokens
	}
	if maxTokens < floor || maxTokens <= 0 {
		return nil, errors.Wrapf(ErrBudgetTooSmall, "budget %d below floor %d for %d pinned notes", maxTokens, floor, len(notes))
	}

	var segments []segment
	used := 0
	admit := func(seg segment) {
		if len(segments) > 0 {
			used++ // blank-line separator
		}
		segments = append(segments, seg)
		used += seg.cost
	}

	// Layer 1: pinned operator notes, truncated lowest priority first and
	// never below the per-note allowance.
	noteBudget := maxTokens
	if len(turns) > 0 {
		noteBudget -= MinRecentTokens
	}
	if noteText, cost := fitNotes(notes, noteBudget); noteText != "" {
		admit(segment{layer: LayerPinnedNotes, text: noteText, cost: cost})
	}

	// Layer 2: recent turns. The window shrinks before the text does; a
	// single turn that still overflows is truncated, not dropped.
	if len(turns) > 0 {
		remaining := maxTokens - used
		if len(segments) > 0 {
			remaining--
		}
		text, cost := fitRecent(turns, remaining)
		admit(segment{layer: LayerRecent, text: text, cost: cost})
	}

	// Layers 3-5 are all-or-nothing against their consumption ceilings.
	sep := func() int {
		if len(segments) > 0 {
			return 1
		}
		return 0
	}
	if profile, err := a.store.GetContactMemory(ctx, &store.FindContactMemory{ContactRef: session.ContactRef}); err != nil {
		return nil, errors.Wrap(err, "failed to get contact memory")
	} else if profile != nil {
		text := formatProfile(profile)
		if cost := EstimateTokens(text); used+sep()+cost <= maxTokens*profileCeilingPct/100 {
			admit(segment{layer: LayerProfile, text: text, cost: cost})
		}
	}
	if session.CurrentSummary != "" {
		text := "Conversation summary:\n" + session.CurrentSummary
		if cost := EstimateTokens(text); used+sep()+cost <= maxTokens*summaryCeilingPct/100 {
			admit(segment{layer: LayerSummary, text: text, cost: cost})
		}
	}
	if session.IsReactivation && session.ReactivationBrief != "" {
		text := "Re-entry brief:\n" + session.ReactivationBrief
		if cost := EstimateTokens(text); used+sep()+cost <= maxTokens*reactivationCeilingPct/100 {
			admit(segment{layer: LayerReactivation, text: text, cost: cost})
		}
	}

	return buildResult(segments), nil
}

func (a *Assembler) loadPinnedNotes(ctx context.Context, session *store.Session) ([]*store.OperatorNote, error) {
	pinned := true
	notBefore := a.nowFn().Unix()

	var notes []*store.OperatorNote
	for _, scope := range []struct {
		targetType store.NoteTargetType
		targetID   string
	}{
		{store.NoteTargetSession, session.UID},
		{store.NoteTargetContact, session.ContactRef},
	} {
		scope := scope
		found, err := a.store.ListOperatorNotes(ctx, &store.FindOperatorNote{
			TargetType:   &scope.targetType,
			TargetID:     &scope.targetID,
			Pinned:       &pinned,
			NotExpiredAt: &notBefore,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to list operator notes")
		}
		notes = append(notes, found...)
	}

	sort.SliceStable(notes, func(i, j int) bool {
		ri, rj := priorityRank(notes[i].Priority), priorityRank(notes[j].Priority)
		if ri != rj {
			return ri < rj
		}
		if notes[i].CreatedTs != notes[j].CreatedTs {
			return notes[i].CreatedTs < notes[j].CreatedTs
		}
		return notes[i].ID < notes[j].ID
	})
	return notes, nil
}

func priorityRank(p store.NotePriority) int {
	switch p {
	case store.NotePriorityHigh:
		return 0
	case store.NotePriorityMedium:
		return 1
	default:
		return 2
	}
}

// fitNotes renders the pinned notes and squeezes them into budget. Lower
// priority notes give up text first; every note keeps at least its minimum
// allowance.
func fitNotes(notes []*store.OperatorNote, budget int) (string, int) {
	if len(notes) == 0 {
		return "", 0
	}

	rendered := make([]string, len(notes))
	costs := make([]int, len(notes))
	total := 0
	for i, note := range notes {
		rendered[i] = "- [" + string(note.Category) + "] " + note.Content
		costs[i] = EstimateTokens(rendered[i])
		total += costs[i]
	}
	// One newline joins every pair of notes.
	total += (len(notes) - 1 + 3) / 4

	for rank := 2; rank >= 0; rank-- {
		for i, note := range notes {
			if total <= budget {
				break
			}
			if priorityRank(note.Priority) != rank {
				continue
			}
			allowance := costs[i] - (total - budget)
			if allowance < MinNoteTokens {
				allowance = MinNoteTokens
			}
			if allowance >= costs[i] {
				continue
			}
			rendered[i] = truncateToTokens(rendered[i], allowance)
			total -= costs[i] - allowance
			costs[i] = allowance
		}
	}

	text := strings.Join(rendered, "\n")
	return text, total
}

// fitRecent shrinks the turn window until the rendered text fits, then
// truncates the last remaining turn if it alone still overflows.
func fitRecent(turns []*store.Turn, budget int) (string, int) {
	for n := len(turns); n >= 1; n-- {
		text := renderTurns(turns[len(turns)-n:])
		if cost := EstimateTokens(text); cost <= budget {
			return text, cost
		}
	}
	text := truncateToTokens(renderTurns(turns[len(turns)-1:]), budget)
	return text, EstimateTokens(text)
}

func formatProfile(profile *store.ContactMemory) string {
	var sb strings.Builder
	sb.WriteString("Contact profile:")
	if profile.CurrentStage != "" {
		sb.WriteString("\nStage: " + string(profile.CurrentStage))
	}
	if profile.NextStep != "" {
		sb.WriteString("\nNext step: " + profile.NextStep)
	}
	if len(profile.Preferences) > 0 {
		keys := make([]string, 0, len(profile.Preferences))
		for k := range profile.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nPreferences:")
		for _, k := range keys {
			sb.WriteString("\n- " + k + ": " + profile.Preferences[k])
		}
	}
	if len(profile.PainPoints) > 0 {
		sb.WriteString("\nPain points:")
		for _, p := range profile.PainPoints {
			sb.WriteString("\n- " + p)
		}
	}
	if len(profile.ProductsDiscussed) > 0 {
		sb.WriteString("\nProducts discussed: " + strings.Join(profile.ProductsDiscussed, ", "))
	}
	if len(profile.ObjectionsAddressed) > 0 {
		sb.WriteString("\nObjections:")
		for _, o := range profile.ObjectionsAddressed {
			line := "\n- " + o.Objection
			if o.Resolved {
				line += " (resolved"
				if o.Resolution != "" {
					line += ": " + o.Resolution
				}
				line += ")"
			}
			sb.WriteString(line)
		}
	}
	return sb.String()
}

func buildResult(segments []segment) *Result {
	layers := make([]Layer, 0, len(segments))
	for _, priority := range []Layer{LayerPinnedNotes, LayerRecent, LayerProfile, LayerSummary, LayerReactivation} {
		for _, seg := range segments {
			if seg.layer == priority {
				layers = append(layers, priority)
			}
		}
	}

	// Presentation order keeps the recent turns adjacent to the live
	// message, after the durable layers.
	presentation := []Layer{LayerPinnedNotes, LayerProfile, LayerSummary, LayerReactivation, LayerRecent}
	parts := make([]string, 0, len(segments))
	for _, layer := range presentation {
		for _, seg := range segments {
			if seg.layer == layer {
				parts = append(parts, seg.text)
			}
		}
	}

	text := strings.Join(parts, "\n\n")
	return &Result{
		Text:           text,
		TokensEstimate: EstimateTokens(text),
		LayersIncluded: layers,
	}
}
