package types

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SortKey selects the ordering applied to a filtered item list
type SortKey string

// Supported orderings
const (
	SortNone      SortKey = ""
	SortPriceAsc  SortKey = "price_asc"
	SortPriceDesc SortKey = "price_desc"
	SortRecent    SortKey = "recent"
	SortName      SortKey = "name"
	SortRarity    SortKey = "rarity"
)

// ParseSortKey maps a query value onto a SortKey. Unknown values yield SortNone.
func ParseSortKey(s string) SortKey {
	switch key := SortKey(strings.ToLower(strings.TrimSpace(s))); key {
	case SortPriceAsc, SortPriceDesc, SortRecent, SortName, SortRarity:
		return key
	default:
		return SortNone
	}
}

// NormalizeCollectionID returns the canonical cache key for a collection.
// Contract addresses are rewritten to their EIP-55 checksum form so that
// differently cased spellings of one collection share a cache entry.
func NormalizeCollectionID(raw string) string {
	id := strings.TrimSpace(raw)
	if common.IsHexAddress(id) {
		return common.HexToAddress(id).Hex()
	}
	return id
}
