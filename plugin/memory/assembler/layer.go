// Package assembler builds the token-bounded context payload for a live
// conversational turn. It composes five layers with a strict priority order
// and deterministic truncation; it performs only store reads and never calls
// the model.
package assembler

// Layer is one named source of assembled context. The set is closed:
// the allocator walks it in a fixed priority order, highest first.
type Layer string

const (
	LayerPinnedNotes  Layer = "pinned_notes"
	LayerRecent       Layer = "recent"
	LayerProfile      Layer = "profile"
	LayerSummary      Layer = "summary"
	LayerReactivation Layer = "reactivation"
)

// Consumption ceilings, in percent of the total budget. Each lower-priority
// layer is admitted only while consumption stays under its ceiling; budget
// shares round down, token estimates round up, so the allocator always errs
// on the conservative side of the true downstream limit.
const (
	profileCeilingPct      = 70
	summaryCeilingPct      = 85
	reactivationCeilingPct = 95
)

const (
	// MinNoteTokens is the per-note allowance a pinned note is never
	// truncated below.
	MinNoteTokens = 24
	// MinRecentTokens is the floor reserved for the recent-context layer
	// whenever the session has any turns.
	MinRecentTokens = 32
)

// EstimateTokens approximates the token count of content. It is a cheap
// deterministic heuristic (about four runes per token), rounded up.
func EstimateTokens(content string) int {
	n := 0
	for range content {
		n++
	}
	return (n + 3) / 4
}

// truncateToTokens cuts content so its estimate is at most maxTokens.
func truncateToTokens(content string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}

	runes := []rune(content)
	limit := maxTokens * 4
	if len(runes) <= limit {
		return content
	}
	if limit > 3 {
		return string(runes[:limit-3]) + "..."
	}
	return string(runes[:limit])
}
