package search

import (
	"sort"
	"strings"

	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/neomarket/rarity-engine/internal/rarity"
	"github.com/neomarket/rarity-engine/internal/types"
)

// Sort returns a copy of items ordered by key. The sort is stable, and items
// missing the sort field (no price, no listing time, no rarity) go last.
// lookup is only consulted for SortRarity and may be nil otherwise.
func Sort(items []model.Item, key types.SortKey, lookup RarityLookup) []model.Item {
	out := make([]model.Item, len(items))
	copy(out, items)

	var less func(a, b model.Item) bool
	switch key {
	case types.SortPriceAsc:
		less = func(a, b model.Item) bool {
			return missingLast(a.Price == nil, b.Price == nil, func() bool { return *a.Price < *b.Price })
		}
	case types.SortPriceDesc:
		less = func(a, b model.Item) bool {
			return missingLast(a.Price == nil, b.Price == nil, func() bool { return *a.Price > *b.Price })
		}
	case types.SortRecent:
		less = func(a, b model.Item) bool {
			return missingLast(a.ListedAt == 0, b.ListedAt == 0, func() bool { return a.ListedAt > b.ListedAt })
		}
	case types.SortName:
		less = func(a, b model.Item) bool {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
	case types.SortRarity:
		if lookup == nil {
			return out
		}
		ranks := make(map[string]int, len(out))
		for _, item := range out {
			if r, ok := lookup(item.TokenID); ok {
				ranks[item.TokenID] = r.OverallRarityRank
			}
		}
		less = func(a, b model.Item) bool {
			ra, okA := ranks[a.TokenID]
			rb, okB := ranks[b.TokenID]
			return missingLast(!okA, !okB, func() bool { return ra < rb })
		}
	default:
		return out
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func missingLast(aMissing, bMissing bool, less func() bool) bool {
	switch {
	case aMissing && bMissing:
		return false
	case aMissing:
		return false
	case bMissing:
		return true
	default:
		return less()
	}
}

// ValueCount is one selectable value of a trait type with its occurrence count
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// TraitOption lists the values available for one trait type
type TraitOption struct {
	TraitType string       `json:"trait_type"`
	Values    []ValueCount `json:"values"`
}

// TraitOptions returns the filterable trait types of items ordered by name,
// each with its values ordered by descending count then value.
func TraitOptions(items []model.Item) []TraitOption {
	return TraitOptionsFromTable(rarity.BuildTraitIndex(items))
}

// TraitOptionsFromTable is TraitOptions over an already built frequency table
func TraitOptionsFromTable(table model.TraitFrequencyTable) []TraitOption {
	options := make([]TraitOption, 0, len(table))
	for traitType, values := range table {
		opt := TraitOption{TraitType: traitType, Values: make([]ValueCount, 0, len(values))}
		for value, count := range values {
			opt.Values = append(opt.Values, ValueCount{Value: value, Count: count})
		}
		sort.Slice(opt.Values, func(i, j int) bool {
			if opt.Values[i].Count != opt.Values[j].Count {
				return opt.Values[i].Count > opt.Values[j].Count
			}
			return opt.Values[i].Value < opt.Values[j].Value
		})
		options = append(options, opt)
	}
	sort.Slice(options, func(i, j int) bool { return options[i].TraitType < options[j].TraitType })
	return options
}
