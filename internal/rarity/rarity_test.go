package rarity

import (
	"context"
	"fmt"
	"testing"

	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/neomarket/rarity-engine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, traits ...string) model.Item {
	it := model.Item{TokenID: id, Name: "Eko #" + id}
	for i := 0; i+1 < len(traits); i += 2 {
		it.Attributes = append(it.Attributes, model.Trait{TraitType: traits[i], Value: traits[i+1]})
	}
	return it
}

func exampleCollection() []model.Item {
	return []model.Item{
		item("A", "Background", "Red", "Eyes", "Laser"),
		item("B", "Background", "Red", "Eyes", "Normal"),
		item("C", "Background", "Blue", "Eyes", "Normal"),
		item("D", "Background", "Blue", "Eyes", "Normal"),
	}
}

func TestBuildTraitIndex(t *testing.T) {
	tests := []struct {
		name     string
		items    []model.Item
		expected model.TraitFrequencyTable
	}{
		{
			name:  "example collection",
			items: exampleCollection(),
			expected: model.TraitFrequencyTable{
				"Background": {"Red": 2, "Blue": 2},
				"Eyes":       {"Laser": 1, "Normal": 3},
			},
		},
		{
			name: "normalises blank and empty values",
			items: []model.Item{
				item("1", " Hat ", "", "Hat", "BLANK", "Hat", " Cap "),
			},
			expected: model.TraitFrequencyTable{
				"Hat": {"None": 2, "Cap": 1},
			},
		},
		{
			name: "skips empty trait types",
			items: []model.Item{
				item("1", "", "Red", "   ", "Blue", "Eyes", "Laser"),
			},
			expected: model.TraitFrequencyTable{
				"Eyes": {"Laser": 1},
			},
		},
		{
			name: "duplicate trait types count twice",
			items: []model.Item{
				item("1", "Accessory", "Chain", "Accessory", "Chain"),
			},
			expected: model.TraitFrequencyTable{
				"Accessory": {"Chain": 2},
			},
		},
		{
			name:     "empty input",
			items:    nil,
			expected: model.TraitFrequencyTable{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildTraitIndex(tt.items))
		})
	}
}

func TestBuildTraitIndex_CountsEveryValidTrait(t *testing.T) {
	items := generateCollection(500)

	valid := 0
	for _, it := range items {
		for _, tr := range it.Attributes {
			if _, ok := tr.Normalized(); ok {
				valid++
			}
		}
	}

	assert.Equal(t, valid, BuildTraitIndex(items).Total())
}

func TestTraitScore(t *testing.T) {
	pct, score := TraitScore(1, 4)
	assert.InDelta(t, 25.0, pct, 1e-9)
	assert.InDelta(t, 4.0, score, 1e-9)

	pct, score = TraitScore(0, 4)
	assert.Zero(t, pct)
	assert.Zero(t, score)

	_, rarer := TraitScore(3, 100)
	_, common := TraitScore(7, 100)
	assert.Greater(t, rarer, common, "lower counts must score higher")
}

func TestCalculate_ExampleScenario(t *testing.T) {
	data := Calculate(exampleCollection())
	require.NotNil(t, data)

	assert.Equal(t, 4, data.TotalSupply)
	assert.Equal(t, []string{"A", "B", "C", "D"}, data.Ranked)

	a := data.NFTRarities["A"]
	assert.InDelta(t, 6.0, a.OverallRarityScore, 1e-9)
	assert.Equal(t, 1, a.OverallRarityRank)
	assert.Equal(t, 2, a.TotalTraits)

	for rank, id := range []string{"B", "C", "D"} {
		r := data.NFTRarities[id]
		assert.InDelta(t, 2.0+4.0/3.0, r.OverallRarityScore, 1e-9, id)
		assert.Equal(t, rank+2, r.OverallRarityRank, id)
	}

	eyes := a.TraitRarities[1]
	assert.Equal(t, "Eyes", eyes.TraitType)
	assert.Equal(t, "Laser", eyes.Value)
	assert.Equal(t, 1, eyes.Count)
	assert.InDelta(t, 25.0, eyes.Percentage, 1e-9)
}

func TestCalculate_EmptyCollection(t *testing.T) {
	data := Calculate(nil)
	require.NotNil(t, data)
	assert.Zero(t, data.TotalSupply)
	assert.Empty(t, data.NFTRarities)
	assert.Empty(t, data.TraitCounts)
	assert.Empty(t, data.RarityTiers)
	assert.Empty(t, data.Ranked)
}

func TestCalculate_ItemWithoutTraitsSortsLast(t *testing.T) {
	items := []model.Item{
		item("bare"),
		item("1", "Hat", "Cap"),
		item("2", "Hat", "Crown"),
	}

	data := Calculate(items)
	bare := data.NFTRarities["bare"]
	assert.Zero(t, bare.OverallRarityScore)
	assert.Zero(t, bare.TotalTraits)
	assert.Equal(t, 3, bare.OverallRarityRank)
	assert.NotNil(t, bare.TraitRarities)
}

func TestCalculate_RankIsPermutation(t *testing.T) {
	items := generateCollection(1000)
	data := Calculate(items)

	seen := make(map[int]bool, len(items))
	for _, r := range data.NFTRarities {
		require.False(t, seen[r.OverallRarityRank], "duplicate rank %d", r.OverallRarityRank)
		seen[r.OverallRarityRank] = true
	}
	for rank := 1; rank <= len(items); rank++ {
		assert.True(t, seen[rank], "missing rank %d", rank)
	}
}

func TestCalculate_TierMonotonicity(t *testing.T) {
	data := Calculate(generateCollection(777))

	var prev types.Tier
	for i, id := range data.Ranked {
		r := data.NFTRarities[id]
		require.Equal(t, i+1, r.OverallRarityRank)
		if i > 0 {
			assert.False(t, r.RarityTier.RarerThan(prev),
				"rank %d has tier %s rarer than previous %s", r.OverallRarityRank, r.RarityTier, prev)
		}
		prev = r.RarityTier
	}
}

func TestTierDefinitions(t *testing.T) {
	defs := TierDefinitions()
	require.Len(t, defs, 6)

	assert.Equal(t, types.TierMythic, defs[0].Tier)
	assert.Equal(t, 5, defs[0].Level)
	assert.Equal(t, types.TierCommon, defs[5].Tier)
	assert.Equal(t, 100.0, defs[5].MaxPercentile)

	var share float64
	for i, d := range defs {
		share += d.TargetShare
		if i > 0 {
			assert.Equal(t, defs[i-1].MaxPercentile, d.MinPercentile)
		}
	}
	assert.InDelta(t, 1.0, share, 1e-9)
}

func TestTierForRank(t *testing.T) {
	tests := []struct {
		rank, total int
		expected    types.Tier
	}{
		{1, 100, types.TierMythic},
		{2, 100, types.TierLegendary},
		{5, 100, types.TierLegendary},
		{6, 100, types.TierEpic},
		{15, 100, types.TierEpic},
		{16, 100, types.TierRare},
		{35, 100, types.TierRare},
		{36, 100, types.TierUncommon},
		{65, 100, types.TierUncommon},
		{66, 100, types.TierCommon},
		{100, 100, types.TierCommon},
		{1, 4, types.TierRare},
		{2, 4, types.TierUncommon},
		{3, 4, types.TierCommon},
		{0, 4, types.TierUnassigned},
		{1, 0, types.TierUnassigned},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d of %d", tt.rank, tt.total), func(t *testing.T) {
			assert.Equal(t, tt.expected, TierForRank(tt.rank, tt.total))
		})
	}
}

func TestTargetDistribution(t *testing.T) {
	bands := TargetDistribution(10)
	require.Len(t, bands, 6)

	assert.Equal(t, 1, bands[types.TierMythic].Count)
	assert.Equal(t, 1, bands[types.TierLegendary].Count)
	assert.Equal(t, 1, bands[types.TierEpic].Count)
	assert.Equal(t, 2, bands[types.TierRare].Count)
	assert.Equal(t, 3, bands[types.TierUncommon].Count)
	assert.Equal(t, 4, bands[types.TierCommon].Count)

	// independent ceilings overshoot the supply
	sum := 0
	for _, b := range bands {
		sum += b.Count
	}
	assert.Equal(t, 12, sum)

	assert.Equal(t, 15.0, bands[types.TierRare].MinPercentile)
	assert.Equal(t, 35.0, bands[types.TierRare].MaxPercentile)

	exact := TargetDistribution(100)
	assert.Equal(t, 1, exact[types.TierMythic].Count)
	assert.Equal(t, 35, exact[types.TierCommon].Count)

	assert.Empty(t, TargetDistribution(0))
}

func TestTierCountsDifferFromTargets(t *testing.T) {
	data := Calculate(exampleCollection())

	counts := TierCounts(data)
	assert.Equal(t, 1, counts[types.TierRare])
	assert.Equal(t, 1, counts[types.TierUncommon])
	assert.Equal(t, 2, counts[types.TierCommon])
	assert.Equal(t, 0, counts[types.TierMythic])

	assert.Equal(t, 1, data.RarityTiers[types.TierMythic].Count)
}

func TestSummarize(t *testing.T) {
	data := Calculate(exampleCollection())
	summary := Summarize(data)

	assert.Equal(t, 4, summary.TotalSupply)
	assert.Equal(t, 2, summary.TraitTypeCount)
	assert.InDelta(t, (6.0+3*(2.0+4.0/3.0))/4, summary.AverageRarityScore, 1e-9)
	assert.Len(t, summary.TierDistribution, 6)

	empty := Summarize(nil)
	assert.Zero(t, empty.TotalSupply)
	assert.NotNil(t, empty.TierDistribution)
}

func TestCalculateParallel_MatchesSequential(t *testing.T) {
	items := generateCollection(2500)

	expected := Calculate(items)
	for _, workers := range []int{0, 1, 3, 8} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			got, err := CalculateParallel(context.Background(), items, workers)
			require.NoError(t, err)
			assert.Equal(t, expected.Ranked, got.Ranked)
			assert.Equal(t, expected.NFTRarities, got.NFTRarities)
			assert.Equal(t, expected.TraitCounts, got.TraitCounts)
		})
	}
}

func TestCalculateParallel_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CalculateParallel(ctx, generateCollection(100), 4)
	assert.ErrorIs(t, err, context.Canceled)
}

// generateCollection builds a deterministic collection with skewed trait distributions
func generateCollection(n int) []model.Item {
	backgrounds := []string{"Red", "Blue", "Green", "Gold", "Cyber", "Neon", "blank"}
	eyes := []string{"Normal", "Laser", "Sleepy", "Closed"}
	hats := []string{"Cap", "Crown", "Halo", ""}

	items := make([]model.Item, n)
	for i := 0; i < n; i++ {
		it := item(fmt.Sprint(i),
			"Background", backgrounds[(i*i)%len(backgrounds)],
			"Eyes", eyes[(i/3)%len(eyes)],
		)
		if i%5 != 0 {
			it.Attributes = append(it.Attributes, model.Trait{TraitType: "Hat", Value: hats[(i*7)%len(hats)]})
		}
		if i%11 == 0 {
			it.Attributes = append(it.Attributes, model.Trait{TraitType: " ", Value: "ignored"})
		}
		items[i] = it
	}
	return items
}

func TestCalculate_DuplicateTokenIDsKeepFirst(t *testing.T) {
	items := []model.Item{
		item("1", "Background", "Red"),
		item("1", "Background", "Gold"),
		item("2", "Background", "Blue"),
	}

	for name, calc := range map[string]func() *model.CollectionRarityData{
		"sequential": func() *model.CollectionRarityData { return Calculate(items) },
		"parallel": func() *model.CollectionRarityData {
			data, err := CalculateParallel(context.Background(), items, 2)
			require.NoError(t, err)
			return data
		},
	} {
		t.Run(name, func(t *testing.T) {
			data := calc()
			assert.Equal(t, 2, data.TotalSupply)
			assert.Len(t, data.NFTRarities, 2)
			assert.ElementsMatch(t, []string{"1", "2"}, data.Ranked)
			assert.Equal(t, model.TraitFrequencyTable{"Background": {"Red": 1, "Blue": 1}}, data.TraitCounts)

			ranks := make([]int, 0, len(data.Ranked))
			for _, id := range data.Ranked {
				ranks = append(ranks, data.NFTRarities[id].OverallRarityRank)
			}
			assert.Equal(t, []int{1, 2}, ranks)

			sum := 0
			for _, n := range TierCounts(data) {
				sum += n
			}
			assert.Equal(t, data.TotalSupply, sum)
		})
	}
}
