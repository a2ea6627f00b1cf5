// Package rarity computes trait frequency statistics and per-item rarity scores for a collection.
package rarity

import (
	"context"
	"fmt"
	"sort"

	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/neomarket/rarity-engine/internal/types"
	"golang.org/x/sync/errgroup"
)

// tierRule pairs a tier with its rank cut-off and its target share of the collection.
// Both are expressed in per-mille so tier maths stays in integers.
type tierRule struct {
	tier          types.Tier
	maxPerMille   int
	sharePerMille int
	minPercentile float64
	maxPercentile float64
}

var tierTable = []tierRule{
	{types.TierMythic, 10, 10, 0, 1},
	{types.TierLegendary, 50, 40, 1, 5},
	{types.TierEpic, 150, 100, 5, 15},
	{types.TierRare, 350, 200, 15, 35},
	{types.TierUncommon, 650, 300, 35, 65},
	{types.TierCommon, 1000, 350, 65, 100},
}

// BuildTraitIndex counts every valid trait occurrence across items.
// Traits with an empty type are skipped. A trait type repeated on one item is counted each time.
func BuildTraitIndex(items []model.Item) model.TraitFrequencyTable {
	table := make(model.TraitFrequencyTable)
	for _, item := range items {
		for _, raw := range item.Attributes {
			trait, ok := raw.Normalized()
			if !ok {
				continue
			}
			values, exists := table[trait.TraitType]
			if !exists {
				values = make(map[string]int)
				table[trait.TraitType] = values
			}
			values[trait.Value]++
		}
	}
	return table
}

// TraitScore returns the percentage and inverse-frequency score of a trait value seen count
// times in a collection of total items. A non-positive count scores zero.
func TraitScore(count, total int) (percentage, score float64) {
	if count <= 0 || total <= 0 {
		return 0, 0
	}
	return float64(count) / float64(total) * 100, float64(total) / float64(count)
}

// TierForRank maps a 1-based rank onto its tier using rank/total percentiles
func TierForRank(rank, total int) types.Tier {
	if total <= 0 || rank <= 0 {
		return types.TierUnassigned
	}
	for _, rule := range tierTable {
		// rank/total <= maxPerMille/1000
		if rank*1000 <= rule.maxPerMille*total {
			return rule.tier
		}
	}
	return types.TierCommon
}

// TargetDistribution returns the percentile band and target size of each tier.
// Sizes are ceil(total*share) computed per tier, so they need not sum to total.
func TargetDistribution(total int) map[types.Tier]model.TierBand {
	bands := make(map[types.Tier]model.TierBand, len(tierTable))
	if total <= 0 {
		return bands
	}
	for _, rule := range tierTable {
		bands[rule.tier] = model.TierBand{
			MinPercentile: rule.minPercentile,
			MaxPercentile: rule.maxPercentile,
			Count:         (total*rule.sharePerMille + 999) / 1000,
		}
	}
	return bands
}

// TierDefinition describes a tier for display
type TierDefinition struct {
	Tier          types.Tier `json:"tier"`
	Level         int        `json:"level"`
	MinPercentile float64    `json:"min_percentile"`
	MaxPercentile float64    `json:"max_percentile"`
	TargetShare   float64    `json:"target_share"`
}

// TierDefinitions lists every tier, rarest first
func TierDefinitions() []TierDefinition {
	defs := make([]TierDefinition, 0, len(tierTable))
	for _, rule := range tierTable {
		defs = append(defs, TierDefinition{
			Tier:          rule.tier,
			Level:         rule.tier.Level(),
			MinPercentile: rule.minPercentile,
			MaxPercentile: rule.maxPercentile,
			TargetShare:   float64(rule.sharePerMille) / 1000,
		})
	}
	return defs
}

// scoreItem builds the unranked rarity record of a single item
func scoreItem(item model.Item, table model.TraitFrequencyTable, total int) model.ItemRarity {
	result := model.ItemRarity{
		TokenID:       item.TokenID,
		Name:          item.Name,
		RarityTier:    types.TierUnassigned,
		TraitRarities: make([]model.TraitRarity, 0, len(item.Attributes)),
	}
	for _, raw := range item.Attributes {
		trait, ok := raw.Normalized()
		if !ok {
			continue
		}
		count := table.Count(trait.TraitType, trait.Value)
		percentage, score := TraitScore(count, total)
		result.TraitRarities = append(result.TraitRarities, model.TraitRarity{
			TraitType:   trait.TraitType,
			Value:       trait.Value,
			Count:       count,
			Percentage:  percentage,
			RarityScore: score,
		})
		result.OverallRarityScore += score
	}
	result.TotalTraits = len(result.TraitRarities)
	return result
}

// Calculate runs the full rarity pipeline over a collection snapshot: trait counting,
// per-item scoring, ranking and tier assignment. Items with equal scores keep their
// input order in the ranking. Only the first item with a given token id is scored.
func Calculate(items []model.Item) *model.CollectionRarityData {
	data := model.NewCollectionRarityData()
	items = uniqueItems(items)
	total := len(items)
	if total == 0 {
		return data
	}

	data.TotalSupply = total
	data.TraitCounts = BuildTraitIndex(items)

	scored := make([]model.ItemRarity, total)
	for i, item := range items {
		scored[i] = scoreItem(item, data.TraitCounts, total)
	}

	rank(data, scored)
	return data
}

// CalculateParallel is Calculate with the scoring pass split across workers.
// The result is identical to Calculate. It returns early if ctx is cancelled.
func CalculateParallel(ctx context.Context, items []model.Item, workers int) (*model.CollectionRarityData, error) {
	data := model.NewCollectionRarityData()
	items = uniqueItems(items)
	total := len(items)
	if total == 0 {
		return data, nil
	}
	if workers < 1 {
		workers = 1
	}

	data.TotalSupply = total
	data.TraitCounts = BuildTraitIndex(items)

	scored := make([]model.ItemRarity, total)
	chunkSize := (total + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < total; start += chunkSize {
		start, end := start, min(start+chunkSize, total)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				scored[i] = scoreItem(items[i], data.TraitCounts, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scoring collection: %w", err)
	}

	rank(data, scored)
	return data, nil
}

// uniqueItems drops every item whose token id was already seen, keeping input order.
// items is returned as is when there are no duplicates.
func uniqueItems(items []model.Item) []model.Item {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if _, dup := seen[item.TokenID]; !dup {
			seen[item.TokenID] = struct{}{}
			continue
		}
		out := make([]model.Item, i, len(items))
		copy(out, items[:i])
		for _, rest := range items[i+1:] {
			if _, dup := seen[rest.TokenID]; dup {
				continue
			}
			seen[rest.TokenID] = struct{}{}
			out = append(out, rest)
		}
		return out
	}
	return items
}

// rank orders scored records by descending score and fills in rank, tier and the target distribution
func rank(data *model.CollectionRarityData, scored []model.ItemRarity) {
	total := len(scored)

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].OverallRarityScore > scored[j].OverallRarityScore
	})

	data.Ranked = make([]string, 0, total)
	for i := range scored {
		scored[i].OverallRarityRank = i + 1
		scored[i].RarityTier = TierForRank(i+1, total)
		data.NFTRarities[scored[i].TokenID] = scored[i]
		data.Ranked = append(data.Ranked, scored[i].TokenID)
	}

	data.RarityTiers = TargetDistribution(total)
}

// TierCounts returns how many items were actually assigned to each tier.
// Unlike the target distribution these counts always sum to the total supply.
func TierCounts(data *model.CollectionRarityData) map[types.Tier]int {
	counts := make(map[types.Tier]int, len(tierTable))
	for _, tier := range types.AllTiers() {
		counts[tier] = 0
	}
	if data == nil {
		return counts
	}
	for _, r := range data.NFTRarities {
		counts[r.RarityTier]++
	}
	return counts
}

// Summarize computes display statistics for a dataset
func Summarize(data *model.CollectionRarityData) model.CollectionSummary {
	summary := model.CollectionSummary{
		TierDistribution: make(map[types.Tier]model.TierBand),
	}
	if data == nil {
		return summary
	}

	summary.TotalSupply = data.TotalSupply
	summary.TraitTypeCount = len(data.TraitCounts)
	for tier, band := range data.RarityTiers {
		summary.TierDistribution[tier] = band
	}

	if len(data.NFTRarities) > 0 {
		var sum float64
		for _, r := range data.NFTRarities {
			sum += r.OverallRarityScore
		}
		summary.AverageRarityScore = sum / float64(len(data.NFTRarities))
	}
	return summary
}
