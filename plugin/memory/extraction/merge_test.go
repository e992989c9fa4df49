package extraction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haleyard/recall/store"
)

func TestMergePreference(t *testing.T) {
	policy := DefaultMergePolicy()

	t.Run("NewKey", func(t *testing.T) {
		profile := &store.ContactMemory{ContactRef: "c1"}
		changed := MergeFact(profile, Fact{Category: CategoryPreference, Type: "channel", Value: "email"}, policy)
		require.True(t, changed)
		require.Equal(t, "email", profile.Preferences["channel"])
	})

	t.Run("OverwritesOrdinaryKey", func(t *testing.T) {
		profile := &store.ContactMemory{Preferences: map[string]string{"channel": "phone"}}
		require.True(t, MergeFact(profile, Fact{Category: CategoryPreference, Type: "channel", Value: "email"}, policy))
		require.Equal(t, "email", profile.Preferences["channel"])
	})

	t.Run("HumanOwnedKeyWins", func(t *testing.T) {
		profile := &store.ContactMemory{Preferences: map[string]string{"name": "Alex Marques"}}
		require.False(t, MergeFact(profile, Fact{Category: CategoryPreference, Type: "name", Value: "A. Marques"}, policy))
		require.Equal(t, "Alex Marques", profile.Preferences["name"])
	})

	t.Run("HumanOwnedKeyFillsWhenEmpty", func(t *testing.T) {
		profile := &store.ContactMemory{}
		require.True(t, MergeFact(profile, Fact{Category: CategoryPreference, Type: "name", Value: "Alex"}, policy))
		require.Equal(t, "Alex", profile.Preferences["name"])
	})
}

func TestMergeListsOnlyGrow(t *testing.T) {
	policy := DefaultMergePolicy()
	profile := &store.ContactMemory{
		PainPoints:        []string{"Slow manual reporting."},
		ProductsDiscussed: []string{"starter plan"},
	}

	t.Run("DuplicateByNormalizedText", func(t *testing.T) {
		require.False(t, MergeFact(profile, Fact{Category: CategoryPainPoint, Value: "  slow MANUAL reporting"}, policy))
		require.Len(t, profile.PainPoints, 1)
	})

	t.Run("NewEntryAppends", func(t *testing.T) {
		require.True(t, MergeFact(profile, Fact{Category: CategoryPainPoint, Value: "no audit trail"}, policy))
		require.Equal(t, []string{"Slow manual reporting.", "no audit trail"}, profile.PainPoints)
	})

	t.Run("ProductDedup", func(t *testing.T) {
		require.False(t, MergeFact(profile, Fact{Category: CategoryProduct, Value: "Starter Plan"}, policy))
		require.True(t, MergeFact(profile, Fact{Category: CategoryProduct, Value: "analytics add-on"}, policy))
		require.Len(t, profile.ProductsDiscussed, 2)
	})
}

func TestMergeObjection(t *testing.T) {
	policy := DefaultMergePolicy()
	profile := &store.ContactMemory{}

	require.True(t, MergeFact(profile, Fact{Category: CategoryObjection, Type: "raised", Value: "price too high"}, policy))
	require.False(t, profile.ObjectionsAddressed[0].Resolved)

	// Resolving marks the existing entry instead of appending.
	require.True(t, MergeFact(profile, Fact{
		Category:   CategoryObjection,
		Type:       "resolved",
		Value:      "Price too high",
		SourceText: "offered the annual discount",
	}, policy))
	require.Len(t, profile.ObjectionsAddressed, 1)
	require.True(t, profile.ObjectionsAddressed[0].Resolved)
	require.Equal(t, "offered the annual discount", profile.ObjectionsAddressed[0].Resolution)

	// Already resolved: nothing to do.
	require.False(t, MergeFact(profile, Fact{Category: CategoryObjection, Type: "resolved", Value: "price too high"}, policy))
}

func TestMergeStage(t *testing.T) {
	policy := DefaultMergePolicy()

	t.Run("Advances", func(t *testing.T) {
		profile := &store.ContactMemory{CurrentStage: store.ContactStageAwareness}
		require.True(t, MergeFact(profile, Fact{Category: CategoryStage, Value: "consideration"}, policy))
		require.Equal(t, store.ContactStageConsideration, profile.CurrentStage)
	})

	t.Run("NeverRegresses", func(t *testing.T) {
		profile := &store.ContactMemory{CurrentStage: store.ContactStageDecision}
		require.False(t, MergeFact(profile, Fact{Category: CategoryStage, Value: "awareness"}, policy))
		require.Equal(t, store.ContactStageDecision, profile.CurrentStage)
	})

	t.Run("ChurnFromAnywhere", func(t *testing.T) {
		profile := &store.ContactMemory{CurrentStage: store.ContactStageCustomer}
		require.True(t, MergeFact(profile, Fact{Category: CategoryStage, Value: "churned"}, policy))
	})

	t.Run("ChurnedReenters", func(t *testing.T) {
		profile := &store.ContactMemory{CurrentStage: store.ContactStageChurned}
		require.True(t, MergeFact(profile, Fact{Category: CategoryStage, Value: "consideration"}, policy))
		require.Equal(t, store.ContactStageConsideration, profile.CurrentStage)
	})

	t.Run("RegressionAllowedByPolicy", func(t *testing.T) {
		open := MergePolicy{AllowStageRegression: true}
		profile := &store.ContactMemory{CurrentStage: store.ContactStageDecision}
		require.True(t, MergeFact(profile, Fact{Category: CategoryStage, Value: "consideration"}, open))
		require.Equal(t, store.ContactStageConsideration, profile.CurrentStage)
	})
}

func TestMergeNextStepLastWriteWins(t *testing.T) {
	policy := DefaultMergePolicy()
	profile := &store.ContactMemory{NextStep: "send quote"}
	require.True(t, MergeFact(profile, Fact{Category: CategoryNextStep, Value: "schedule demo"}, policy))
	require.Equal(t, "schedule demo", profile.NextStep)
	require.False(t, MergeFact(profile, Fact{Category: CategoryNextStep, Value: "schedule demo"}, policy))
}

func TestNormalizeText(t *testing.T) {
	require.Equal(t, "price too high", normalizeText("  Price   too HIGH!  "))
	require.Equal(t, "a b", normalizeText("a\n\tb."))
}
