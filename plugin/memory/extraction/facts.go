// Package extraction turns finished conversation stretches into structured
// facts about the contact, routes fact retention through an explicit consent
// gate, and merges accepted facts into the durable contact profile.
package extraction

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/haleyard/recall/server/ai"
	"github.com/haleyard/recall/store"
)

// Fact categories the extractor may emit. Anything else marks the whole
// batch malformed.
const (
	CategoryPreference = "preference"
	CategoryPainPoint  = "pain_point"
	CategoryObjection  = "objection"
	CategoryProduct    = "product"
	CategoryStage      = "stage"
	CategoryNextStep   = "next_step"
)

// MinRememberConfidence is the floor below which a fact is never proposed
// for retention, whatever the model claims.
const MinRememberConfidence = 0.7

// Fact is one structured observation extracted from a conversation.
type Fact struct {
	Type            string  `json:"type"`
	Category        string  `json:"category"`
	Value           string  `json:"value"`
	Confidence      float64 `json:"confidence"`
	SourceText      string  `json:"source_text"`
	SuggestRemember bool    `json:"suggest_remember"`
}

type factBatch struct {
	Facts []Fact `json:"facts"`
}

var validCategories = map[string]bool{
	CategoryPreference: true,
	CategoryPainPoint:  true,
	CategoryObjection:  true,
	CategoryProduct:    true,
	CategoryStage:      true,
	CategoryNextStep:   true,
}

// ExtractFacts runs the extraction instruction over the conversation text and
// parses the structured reply. The model output is untrusted: a reply that is
// not valid JSON, or that contains any malformed fact, discards the whole
// batch with an error. A suggest_remember flag on a fact below the confidence
// floor is cleared, not trusted.
func ExtractFacts(ctx context.Context, invoker ai.Invoker, conversation string, existing *store.ContactMemory) ([]Fact, error) {
	if invoker == nil {
		return nil, errors.New("model provider not configured")
	}

	prompt := buildExtractionPrompt(conversation, existing)
	completion, err := invoker.Invoke(ctx, ai.InstructionExtractFacts, prompt)
	if err != nil {
		return nil, errors.Wrap(err, "extraction call failed")
	}

	facts, err := parseFactBatch(completion.Text)
	if err != nil {
		return nil, errors.Wrap(err, "malformed extraction reply")
	}
	return facts, nil
}

func parseFactBatch(raw string) ([]Fact, error) {
	var batch factBatch
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&batch); err != nil {
		return nil, errors.Wrap(err, "invalid JSON")
	}

	for i := range batch.Facts {
		fact := &batch.Facts[i]
		fact.Value = strings.TrimSpace(fact.Value)
		fact.Type = strings.TrimSpace(fact.Type)
		if !validCategories[fact.Category] {
			return nil, errors.Errorf("unknown category %q", fact.Category)
		}
		if fact.Value == "" {
			return nil, errors.New("fact with empty value")
		}
		if fact.Confidence < 0 || fact.Confidence > 1 {
			return nil, errors.Errorf("confidence %v out of range", fact.Confidence)
		}
		if fact.Category == CategoryStage && parseStage(fact.Value) == "" {
			return nil, errors.Errorf("unknown stage %q", fact.Value)
		}
		if fact.SuggestRemember && fact.Confidence < MinRememberConfidence {
			fact.SuggestRemember = false
		}
	}
	return batch.Facts, nil
}

func buildExtractionPrompt(conversation string, existing *store.ContactMemory) string {
	var sb strings.Builder
	if existing != nil {
		profile, err := json.Marshal(map[string]any{
			"preferences":        existing.Preferences,
			"pain_points":        existing.PainPoints,
			"products_discussed": existing.ProductsDiscussed,
			"current_stage":      existing.CurrentStage,
			"next_step":          existing.NextStep,
		})
		if err == nil {
			sb.WriteString("Known profile:\n")
			sb.Write(profile)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString("Conversation:\n")
	sb.WriteString(conversation)
	return sb.String()
}

func parseStage(value string) store.ContactStage {
	switch store.ContactStage(strings.ToUpper(strings.TrimSpace(value))) {
	case store.ContactStageAwareness:
		return store.ContactStageAwareness
	case store.ContactStageConsideration:
		return store.ContactStageConsideration
	case store.ContactStageDecision:
		return store.ContactStageDecision
	case store.ContactStageCustomer:
		return store.ContactStageCustomer
	case store.ContactStageChurned:
		return store.ContactStageChurned
	}
	return ""
}

// normalizeText is the dedup key for list-valued profile fields.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!?,;:")
	return strings.Join(strings.Fields(s), " ")
}
