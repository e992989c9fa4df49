package extraction

import (
	"github.com/haleyard/recall/store"
)

// MergePolicy controls how incoming facts reconcile with the stored profile.
type MergePolicy struct {
	// HumanOwnedKeys are preference keys an operator maintains by hand;
	// extraction never overwrites a value already set for them.
	HumanOwnedKeys []string
	// AllowStageRegression lets a fact move the funnel stage backwards.
	// Off by default: stages only advance, except through CHURNED.
	AllowStageRegression bool
}

func DefaultMergePolicy() MergePolicy {
	return MergePolicy{
		HumanOwnedKeys: []string{"name", "phone", "email"},
	}
}

// cloneProfile deep-copies a contact profile so merges never touch shared
// state. A nil profile stays nil.
func cloneProfile(profile *store.ContactMemory) *store.ContactMemory {
	if profile == nil {
		return nil
	}
	clone := *profile
	if profile.Preferences != nil {
		clone.Preferences = make(map[string]string, len(profile.Preferences))
		for k, v := range profile.Preferences {
			clone.Preferences[k] = v
		}
	}
	clone.PainPoints = append([]string(nil), profile.PainPoints...)
	clone.ObjectionsAddressed = append([]store.Objection(nil), profile.ObjectionsAddressed...)
	clone.ProductsDiscussed = append([]string(nil), profile.ProductsDiscussed...)
	return &clone
}

var stageRank = map[store.ContactStage]int{
	store.ContactStageAwareness:     0,
	store.ContactStageConsideration: 1,
	store.ContactStageDecision:      2,
	store.ContactStageCustomer:      3,
}

// MergeFact folds one fact into the profile in place and reports whether
// anything changed. List fields only grow, keyed by normalized text; the
// funnel stage is monotonic under the default policy; next_step is
// last-write-wins.
func MergeFact(profile *store.ContactMemory, fact Fact, policy MergePolicy) bool {
	switch fact.Category {
	case CategoryPreference:
		return mergePreference(profile, fact, policy)
	case CategoryPainPoint:
		if appended, ok := appendUnique(profile.PainPoints, fact.Value); ok {
			profile.PainPoints = appended
			return true
		}
	case CategoryProduct:
		if appended, ok := appendUnique(profile.ProductsDiscussed, fact.Value); ok {
			profile.ProductsDiscussed = appended
			return true
		}
	case CategoryObjection:
		return mergeObjection(profile, fact)
	case CategoryStage:
		return mergeStage(profile, parseStage(fact.Value), policy)
	case CategoryNextStep:
		if profile.NextStep != fact.Value {
			profile.NextStep = fact.Value
			return true
		}
	}
	return false
}

func mergePreference(profile *store.ContactMemory, fact Fact, policy MergePolicy) bool {
	key := normalizeText(fact.Type)
	if key == "" {
		return false
	}
	if profile.Preferences == nil {
		profile.Preferences = map[string]string{}
	}
	if existing, ok := profile.Preferences[key]; ok {
		if existing == fact.Value {
			return false
		}
		for _, owned := range policy.HumanOwnedKeys {
			if key == owned {
				return false
			}
		}
	}
	profile.Preferences[key] = fact.Value
	return true
}

func mergeObjection(profile *store.ContactMemory, fact Fact) bool {
	resolved := fact.Type == "resolved"
	key := normalizeText(fact.Value)
	for i := range profile.ObjectionsAddressed {
		if normalizeText(profile.ObjectionsAddressed[i].Objection) != key {
			continue
		}
		if resolved && !profile.ObjectionsAddressed[i].Resolved {
			profile.ObjectionsAddressed[i].Resolved = true
			profile.ObjectionsAddressed[i].Resolution = fact.SourceText
			return true
		}
		return false
	}
	profile.ObjectionsAddressed = append(profile.ObjectionsAddressed, store.Objection{
		Objection:  fact.Value,
		Resolved:   resolved,
		Resolution: resolutionText(resolved, fact),
	})
	return true
}

func resolutionText(resolved bool, fact Fact) string {
	if resolved {
		return fact.SourceText
	}
	return ""
}

func mergeStage(profile *store.ContactMemory, next store.ContactStage, policy MergePolicy) bool {
	if next == "" || next == profile.CurrentStage {
		return false
	}
	current := profile.CurrentStage
	switch {
	case current == "" || current == store.ContactStageChurned:
		// A new or churned contact can land anywhere in the funnel.
	case next == store.ContactStageChurned:
		// Churn is reachable from every stage.
	case policy.AllowStageRegression:
	default:
		if stageRank[next] <= stageRank[current] {
			return false
		}
	}
	profile.CurrentStage = next
	return true
}

func appendUnique(list []string, value string) ([]string, bool) {
	key := normalizeText(value)
	for _, existing := range list {
		if normalizeText(existing) == key {
			return list, false
		}
	}
	return append(list, value), true
}
