// Package types contains shared type definitions used across multiple packages
package types

import "strings"

// Tier is a rarity bucket derived from an item's rank percentile within its collection
type Tier string

// Rarity tiers, rarest first
const (
	TierMythic    Tier = "Mythic"
	TierLegendary Tier = "Legendary"
	TierEpic      Tier = "Epic"
	TierRare      Tier = "Rare"
	TierUncommon  Tier = "Uncommon"
	TierCommon    Tier = "Common"

	// TierUnassigned marks an item that has been scored but not yet ranked
	TierUnassigned Tier = ""
)

var allTiers = []Tier{TierMythic, TierLegendary, TierEpic, TierRare, TierUncommon, TierCommon}

// AllTiers returns every assignable tier ordered from rarest to most common
func AllTiers() []Tier {
	out := make([]Tier, len(allTiers))
	copy(out, allTiers)
	return out
}

// Level returns the ordinal strength of the tier: Common is 0 and Mythic is 5.
// Unknown and unassigned tiers return -1.
func (t Tier) Level() int {
	for i, tier := range allTiers {
		if tier == t {
			return len(allTiers) - 1 - i
		}
	}
	return -1
}

// Valid reports whether t is one of the assignable tiers
func (t Tier) Valid() bool {
	return t.Level() >= 0
}

// RarerThan reports whether t is a strictly rarer tier than other
func (t Tier) RarerThan(other Tier) bool {
	return t.Level() > other.Level()
}

// String returns the tier name
func (t Tier) String() string {
	return string(t)
}

// ParseTier resolves a tier name case-insensitively
func ParseTier(s string) (Tier, bool) {
	s = strings.TrimSpace(s)
	for _, tier := range allTiers {
		if strings.EqualFold(string(tier), s) {
			return tier, true
		}
	}
	return TierUnassigned, false
}

// ParseTierList resolves a comma separated list of tier names, skipping unknown entries
func ParseTierList(raw string) []Tier {
	var tiers []Tier
	for _, part := range strings.Split(raw, ",") {
		if tier, ok := ParseTier(part); ok {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}
