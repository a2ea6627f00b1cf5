// Package model defines the core data structures for the rarity engine.
package model

import (
	"strings"

	"github.com/neomarket/rarity-engine/internal/types"
)

// NoneValue is the sentinel stored for traits whose value is empty or "blank"
const NoneValue = "None"

// Trait is a single trait_type/value pair on an item.
// Values are always normalised strings once an item has passed ingestion.
type Trait struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// NormalizeTraitValue trims v and maps empty or "blank" values onto NoneValue
func NormalizeTraitValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "blank") {
		return NoneValue
	}
	return v
}

// Normalized returns the trait with trimmed type and normalised value.
// The second result is false when the trait type is empty and the trait must be skipped.
func (t Trait) Normalized() (Trait, bool) {
	traitType := strings.TrimSpace(t.TraitType)
	if traitType == "" {
		return Trait{}, false
	}
	return Trait{TraitType: traitType, Value: NormalizeTraitValue(t.Value)}, true
}

// Item represents a single NFT snapshot in a collection.
// Items are immutable once ingested; nothing in the engine mutates them.
type Item struct {
	// TokenID is unique within a collection
	TokenID string `json:"tokenId"`

	// Name is the display name
	Name string `json:"name"`

	// Image is a URI, possibly content addressed
	Image string `json:"image"`

	// Attributes keeps the source ordering of the item's traits
	Attributes []Trait `json:"attributes"`

	// Price is the current listing price, nil when the item is not listed
	Price *float64 `json:"price,omitempty"`

	// ListedAt is the unix timestamp of the listing, 0 when unknown
	ListedAt int64 `json:"listedAt,omitempty"`
}

// TraitFrequencyTable maps trait_type -> normalised value -> number of occurrences
type TraitFrequencyTable map[string]map[string]int

// Count returns the number of occurrences of value under traitType
func (t TraitFrequencyTable) Count(traitType, value string) int {
	if values, ok := t[traitType]; ok {
		return values[value]
	}
	return 0
}

// Total returns the sum of all counters in the table
func (t TraitFrequencyTable) Total() int {
	total := 0
	for _, values := range t {
		for _, count := range values {
			total += count
		}
	}
	return total
}

// TraitRarity is the rarity contribution of one trait instance on one item
type TraitRarity struct {
	TraitType   string  `json:"trait_type"`
	Value       string  `json:"value"`
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
	RarityScore float64 `json:"rarity_score"`
}

// ItemRarity is the derived rarity record for a single item
type ItemRarity struct {
	TokenID            string        `json:"tokenId"`
	Name               string        `json:"name"`
	OverallRarityScore float64       `json:"overall_rarity_score"`
	OverallRarityRank  int           `json:"overall_rarity_rank"`
	RarityTier         types.Tier    `json:"rarity_tier"`
	TraitRarities      []TraitRarity `json:"trait_rarities"`
	TotalTraits        int           `json:"total_traits"`
}

// TierBand describes the percentile range of a tier and its target size
type TierBand struct {
	MinPercentile float64 `json:"min_percentile"`
	MaxPercentile float64 `json:"max_percentile"`
	Count         int     `json:"count"`
}

// CollectionRarityData is the full rarity dataset computed for one collection
type CollectionRarityData struct {
	TotalSupply int                     `json:"total_supply"`
	TraitCounts TraitFrequencyTable     `json:"trait_counts"`
	NFTRarities map[string]ItemRarity   `json:"nft_rarities"`
	RarityTiers map[types.Tier]TierBand `json:"rarity_tiers"`

	// Ranked lists token ids in rank order, rank 1 first
	Ranked []string `json:"-"`
}

// NewCollectionRarityData returns an empty, ready to use dataset
func NewCollectionRarityData() *CollectionRarityData {
	return &CollectionRarityData{
		TraitCounts: make(TraitFrequencyTable),
		NFTRarities: make(map[string]ItemRarity),
		RarityTiers: make(map[types.Tier]TierBand),
	}
}

// CollectionSummary holds display statistics for a cached collection
type CollectionSummary struct {
	TotalSupply        int                     `json:"total_supply"`
	AverageRarityScore float64                 `json:"average_rarity_score"`
	TierDistribution   map[types.Tier]TierBand `json:"tier_distribution"`
	TraitTypeCount     int                     `json:"trait_type_count"`
}

// FilterState is the UI-held filter selection. It is never persisted.
type FilterState struct {
	SearchText     string                         `json:"searchText"`
	SelectedTraits map[string]map[string]struct{} `json:"-"`
	SelectedTiers  map[types.Tier]struct{}        `json:"-"`
}

// NewFilterState returns an empty filter state
func NewFilterState() FilterState {
	return FilterState{
		SelectedTraits: make(map[string]map[string]struct{}),
		SelectedTiers:  make(map[types.Tier]struct{}),
	}
}

// WithTraitValues returns a copy of the state with traitType constrained to values
func (f FilterState) WithTraitValues(traitType string, values ...string) FilterState {
	next := f.Clone()
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	next.SelectedTraits[traitType] = set
	return next
}

// WithTiers returns a copy of the state constrained to tiers
func (f FilterState) WithTiers(tiers ...types.Tier) FilterState {
	next := f.Clone()
	next.SelectedTiers = make(map[types.Tier]struct{}, len(tiers))
	for _, t := range tiers {
		next.SelectedTiers[t] = struct{}{}
	}
	return next
}

// Clone returns a deep copy of the state
func (f FilterState) Clone() FilterState {
	next := FilterState{
		SearchText:     f.SearchText,
		SelectedTraits: make(map[string]map[string]struct{}, len(f.SelectedTraits)),
		SelectedTiers:  make(map[types.Tier]struct{}, len(f.SelectedTiers)),
	}
	for traitType, values := range f.SelectedTraits {
		set := make(map[string]struct{}, len(values))
		for v := range values {
			set[v] = struct{}{}
		}
		next.SelectedTraits[traitType] = set
	}
	for t := range f.SelectedTiers {
		next.SelectedTiers[t] = struct{}{}
	}
	return next
}

// HasTraitConstraints reports whether any trait type has a non-empty selection
func (f FilterState) HasTraitConstraints() bool {
	for _, values := range f.SelectedTraits {
		if len(values) > 0 {
			return true
		}
	}
	return false
}
