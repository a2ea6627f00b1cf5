// Package search filters and orders a collection's items for browsing.
package search

import (
	"strings"

	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/neomarket/rarity-engine/internal/types"
)

// RarityLookup resolves the rarity record of a token
type RarityLookup func(tokenID string) (model.ItemRarity, bool)

// LookupFromData returns a RarityLookup backed by a computed dataset.
// A nil dataset resolves nothing.
func LookupFromData(data *model.CollectionRarityData) RarityLookup {
	return func(tokenID string) (model.ItemRarity, bool) {
		if data == nil {
			return model.ItemRarity{}, false
		}
		r, ok := data.NFTRarities[tokenID]
		return r, ok
	}
}

// entry is the precomputed projection of one item
type entry struct {
	item   model.Item
	traits map[string]string
	text   string
}

// Index holds the searchable projection of an item set.
// Build it once per item set; filtering never re-derives the projection.
type Index struct {
	entries []entry
}

// NewIndex projects items for filtering. When an item repeats a trait type the last value wins.
func NewIndex(items []model.Item) *Index {
	ix := &Index{entries: make([]entry, len(items))}
	for i, item := range items {
		traits := make(map[string]string, len(item.Attributes))
		for _, raw := range item.Attributes {
			if trait, ok := raw.Normalized(); ok {
				traits[trait.TraitType] = trait.Value
			}
		}
		ix.entries[i] = entry{
			item:   item,
			traits: traits,
			text:   strings.ToLower(item.Name),
		}
	}
	return ix
}

// Len returns the number of indexed items
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Items returns the indexed items in input order
func (ix *Index) Items() []model.Item {
	out := make([]model.Item, 0, ix.Len())
	if ix == nil {
		return out
	}
	for _, e := range ix.entries {
		out = append(out, e.item)
	}
	return out
}

// Filter returns the items matching the search text and trait selection of state,
// in input order. Tier selection is ignored; see FilterWithTiers.
func (ix *Index) Filter(state model.FilterState) []model.Item {
	return ix.FilterWithTiers(state, nil)
}

// FilterWithTiers is Filter plus the tier selection of state, resolved through lookup.
// Items without a rarity record never match an active tier selection.
func (ix *Index) FilterWithTiers(state model.FilterState, lookup RarityLookup) []model.Item {
	out := make([]model.Item, 0, ix.Len())
	if ix == nil {
		return out
	}

	query := strings.ToLower(state.SearchText)
	constraints := activeConstraints(state.SelectedTraits)
	tiers := state.SelectedTiers
	if lookup == nil {
		tiers = nil
	}

	for _, e := range ix.entries {
		if query != "" && !strings.Contains(e.text, query) {
			continue
		}
		if !matchesTraits(e.traits, constraints) {
			continue
		}
		if len(tiers) > 0 && !matchesTier(e.item.TokenID, tiers, lookup) {
			continue
		}
		out = append(out, e.item)
	}
	return out
}

// FilterItems projects items and filters them in one step
func FilterItems(items []model.Item, state model.FilterState) []model.Item {
	return NewIndex(items).Filter(state)
}

// FilterByRarityTiers keeps the items whose tier is selected in state.
// With no tiers selected the input is returned unchanged.
func FilterByRarityTiers(items []model.Item, state model.FilterState, lookup RarityLookup) []model.Item {
	if len(state.SelectedTiers) == 0 || lookup == nil {
		return items
	}
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if matchesTier(item.TokenID, state.SelectedTiers, lookup) {
			out = append(out, item)
		}
	}
	return out
}

// activeConstraints drops trait types whose selection is empty
func activeConstraints(selected map[string]map[string]struct{}) map[string]map[string]struct{} {
	active := make(map[string]map[string]struct{}, len(selected))
	for traitType, values := range selected {
		if len(values) > 0 {
			active[traitType] = values
		}
	}
	return active
}

// matchesTraits requires every constrained trait type to hold one of its selected values
func matchesTraits(traits map[string]string, constraints map[string]map[string]struct{}) bool {
	for traitType, values := range constraints {
		value, ok := traits[traitType]
		if !ok {
			return false
		}
		if _, selected := values[value]; !selected {
			return false
		}
	}
	return true
}

func matchesTier(tokenID string, tiers map[types.Tier]struct{}, lookup RarityLookup) bool {
	r, ok := lookup(tokenID)
	if !ok {
		return false
	}
	_, selected := tiers[r.RarityTier]
	return selected
}
