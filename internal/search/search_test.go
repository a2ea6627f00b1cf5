package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/neomarket/rarity-engine/internal/rarity"
	"github.com/neomarket/rarity-engine/internal/types"
)

func price(p float64) *float64 { return &p }

func ekoItems() []model.Item {
	return []model.Item{
		{TokenID: "A", Name: "Eko Alpha", Attributes: []model.Trait{{TraitType: "Background", Value: "Red"}, {TraitType: "Eyes", Value: "Laser"}}},
		{TokenID: "B", Name: "Eko Bravo", Attributes: []model.Trait{{TraitType: "Background", Value: "Red"}, {TraitType: "Eyes", Value: "Normal"}}},
		{TokenID: "C", Name: "Eko Charlie", Attributes: []model.Trait{{TraitType: "Background", Value: "Blue"}, {TraitType: "Eyes", Value: "Normal"}}},
		{TokenID: "D", Name: "Eko Delta", Attributes: []model.Trait{{TraitType: "Background", Value: "Blue"}, {TraitType: "Eyes", Value: "Normal"}}},
	}
}

func tokenIDs(items []model.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.TokenID
	}
	return ids
}

func TestIndex_Filter(t *testing.T) {
	ix := NewIndex(ekoItems())

	tests := []struct {
		name  string
		state model.FilterState
		want  []string
	}{
		{
			name:  "no constraints returns everything in order",
			state: model.NewFilterState(),
			want:  []string{"A", "B", "C", "D"},
		},
		{
			name:  "conjunction across trait types",
			state: model.NewFilterState().WithTraitValues("Background", "Red").WithTraitValues("Eyes", "Normal"),
			want:  []string{"B"},
		},
		{
			name:  "disjunction within a trait type",
			state: model.NewFilterState().WithTraitValues("Eyes", "Laser", "Normal"),
			want:  []string{"A", "B", "C", "D"},
		},
		{
			name:  "empty value set is ignored",
			state: model.NewFilterState().WithTraitValues("Eyes"),
			want:  []string{"A", "B", "C", "D"},
		},
		{
			name:  "unknown trait type excludes all",
			state: model.NewFilterState().WithTraitValues("Hat", "Crown"),
			want:  []string{},
		},
		{
			name:  "case-insensitive substring search",
			state: model.FilterState{SearchText: "CHAR"},
			want:  []string{"C"},
		},
		{
			name:  "surrounding whitespace is part of the query",
			state: model.FilterState{SearchText: " alpha"},
			want:  []string{"A"},
		},
		{
			name:  "whitespace is not stripped from the match",
			state: model.FilterState{SearchText: "alpha "},
			want:  []string{},
		},
		{
			name:  "whitespace-only query is still a constraint",
			state: model.FilterState{SearchText: "   "},
			want:  []string{},
		},
		{
			name: "search combined with traits",
			state: func() model.FilterState {
				s := model.NewFilterState().WithTraitValues("Background", "Blue")
				s.SearchText = "eko"
				return s
			}(),
			want: []string{"C", "D"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenIDs(ix.Filter(tt.state)))
		})
	}
}

func TestIndex_FilterIsSubset(t *testing.T) {
	items := ekoItems()
	ix := NewIndex(items)

	states := []model.FilterState{
		model.NewFilterState().WithTraitValues("Background", "Blue"),
		model.NewFilterState().WithTraitValues("Eyes", "Normal"),
		{SearchText: "a"},
	}
	for _, s := range states {
		got := ix.Filter(s)
		assert.LessOrEqual(t, len(got), len(items))
		assert.Subset(t, tokenIDs(items), tokenIDs(got))
	}
}

func TestIndex_NormalizedTraits(t *testing.T) {
	items := []model.Item{
		{TokenID: "1", Attributes: []model.Trait{{TraitType: " Hat ", Value: "blank"}}},
		{TokenID: "2", Attributes: []model.Trait{{TraitType: "Hat", Value: "Crown"}}},
		{TokenID: "3"},
	}

	got := FilterItems(items, model.NewFilterState().WithTraitValues("Hat", model.NoneValue))
	assert.Equal(t, []string{"1"}, tokenIDs(got))
}

func TestIndex_Empty(t *testing.T) {
	var nilIndex *Index
	assert.NotNil(t, nilIndex.Filter(model.NewFilterState()))
	assert.Empty(t, nilIndex.Filter(model.NewFilterState()))
	assert.Zero(t, nilIndex.Len())
	assert.Empty(t, NewIndex(nil).Filter(model.NewFilterState()))
}

func TestFilterWithTiers(t *testing.T) {
	items := ekoItems()
	lookup := LookupFromData(rarity.Calculate(items))
	ix := NewIndex(items)

	state := model.NewFilterState().WithTiers(types.TierCommon)
	assert.Equal(t, []string{"C", "D"}, tokenIDs(ix.FilterWithTiers(state, lookup)))

	state = state.WithTraitValues("Eyes", "Laser").WithTiers(types.TierRare, types.TierCommon)
	assert.Equal(t, []string{"A"}, tokenIDs(ix.FilterWithTiers(state, lookup)))

	// Tier selection needs a lookup; without one it is ignored
	assert.Len(t, ix.Filter(model.NewFilterState().WithTiers(types.TierMythic)), 4)
}

func TestFilterByRarityTiers(t *testing.T) {
	items := ekoItems()
	lookup := LookupFromData(rarity.Calculate(items[:2]))

	got := FilterByRarityTiers(items, model.NewFilterState().WithTiers(types.TierUncommon, types.TierCommon), lookup)
	assert.Equal(t, []string{"A", "B"}, tokenIDs(got), "items without rarity are excluded")

	assert.Equal(t, items, FilterByRarityTiers(items, model.NewFilterState(), lookup))
	assert.Empty(t, FilterByRarityTiers(items, model.NewFilterState().WithTiers(types.TierMythic), LookupFromData(nil)))
}

func TestSort(t *testing.T) {
	items := []model.Item{
		{TokenID: "1", Name: "charlie", Price: price(3), ListedAt: 100},
		{TokenID: "2", Name: "Alpha"},
		{TokenID: "3", Name: "bravo", Price: price(1), ListedAt: 300},
		{TokenID: "4", Name: "delta", Price: price(3), ListedAt: 200},
	}
	ranks := map[string]int{"1": 2, "3": 1, "4": 3}
	lookup := func(tokenID string) (model.ItemRarity, bool) {
		r, ok := ranks[tokenID]
		return model.ItemRarity{TokenID: tokenID, OverallRarityRank: r}, ok
	}

	tests := []struct {
		key  types.SortKey
		want []string
	}{
		{types.SortNone, []string{"1", "2", "3", "4"}},
		{types.SortPriceAsc, []string{"3", "1", "4", "2"}},
		{types.SortPriceDesc, []string{"1", "4", "3", "2"}},
		{types.SortRecent, []string{"3", "4", "1", "2"}},
		{types.SortName, []string{"2", "3", "1", "4"}},
		{types.SortRarity, []string{"3", "1", "4", "2"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			assert.Equal(t, tt.want, tokenIDs(Sort(items, tt.key, lookup)))
		})
	}

	assert.Equal(t, "1", items[0].TokenID, "input must not be reordered")
	assert.Equal(t, tokenIDs(items), tokenIDs(Sort(items, types.SortRarity, nil)))
}

func TestTraitOptions(t *testing.T) {
	opts := TraitOptions(ekoItems())
	require.Len(t, opts, 2)

	assert.Equal(t, "Background", opts[0].TraitType)
	assert.Equal(t, []ValueCount{{Value: "Blue", Count: 2}, {Value: "Red", Count: 2}}, opts[0].Values)

	assert.Equal(t, "Eyes", opts[1].TraitType)
	assert.Equal(t, []ValueCount{{Value: "Normal", Count: 3}, {Value: "Laser", Count: 1}}, opts[1].Values)

	assert.Empty(t, TraitOptions(nil))
}

func TestWindow(t *testing.T) {
	w := NewWindow(0, 0)
	assert.Equal(t, DefaultPageSize, w.Visible(100))
	assert.Equal(t, 10, w.Visible(10))
	assert.False(t, w.HasMore(10))

	assert.True(t, w.HasMore(100))
	assert.Equal(t, 48, w.LoadMore(100))
	assert.Equal(t, 72, w.LoadMore(100))
	assert.Equal(t, 96, w.LoadMore(100))
	assert.Equal(t, 100, w.LoadMore(100))
	assert.Equal(t, 100, w.LoadMore(100))
	assert.False(t, w.HasMore(100))

	w.Reset()
	assert.Equal(t, DefaultPageSize, w.Visible(100))

	items := make([]model.Item, 30)
	for i := range items {
		items[i].TokenID = fmt.Sprint(i)
	}
	small := NewWindow(5, 10)
	assert.Len(t, small.Slice(items), 5)
	small.LoadMore(len(items))
	assert.Len(t, small.Slice(items), 15)
	assert.Empty(t, small.Slice(nil))
}
