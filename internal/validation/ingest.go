// Package validation turns loosely typed collection metadata into strict items.
// It is the only place that tolerates malformed input; everything downstream
// works on normalised model.Item values.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidDocument is returned for input that is not JSON or has no item list
	ErrInvalidDocument = errors.New("invalid metadata document")

	// ErrTooManyItems is returned when a document exceeds ParseOptions.MaxItems
	ErrTooManyItems = errors.New("metadata document exceeds item limit")
)

// Keys probed, in order, when reading item fields
var (
	listKeys      = []string{"items", "nfts", "tokens", "data"}
	idKeys        = []string{"tokenId", "token_id", "tokenID", "id", "edition"}
	imageKeys     = []string{"image", "image_url", "imageUrl"}
	attributeKeys = []string{"attributes", "traits"}
	traitTypeKeys = []string{"trait_type", "traitType", "type"}
	listedAtKeys  = []string{"listedAt", "listed_at"}
)

// ParseOptions configures document parsing
type ParseOptions struct {
	// MaxItems bounds the number of item entries accepted, 0 means unlimited
	MaxItems int

	// Workers is the number of goroutines used by ParseItemsConcurrently
	Workers int
}

// DefaultParseOptions returns sensible defaults for parsing
func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		MaxItems: 0,
		Workers:  4,
	}
}

// ParseItems parses a metadata document into items.
// This is the main entrypoint for the validation package.
func ParseItems(raw []byte) ([]model.Item, error) {
	return ParseItemsWithOptions(raw, DefaultParseOptions())
}

// ParseItemsWithOptions parses a metadata document with custom options.
// The document may be a JSON array of items or an object wrapping the array
// under one of the usual list keys.
func ParseItemsWithOptions(raw []byte, opts ParseOptions) ([]model.Item, error) {
	entries, err := itemEntries(raw, opts)
	if err != nil {
		return nil, err
	}

	parsed := make([]*model.Item, len(entries))
	for i, entry := range entries {
		parsed[i] = parseItem(entry)
	}
	return dedupe(parsed), nil
}

// ParseItemsConcurrently parses large documents in parallel chunks. Item order is preserved.
func ParseItemsConcurrently(raw []byte, opts ParseOptions) ([]model.Item, error) {
	entries, err := itemEntries(raw, opts)
	if err != nil {
		return nil, err
	}
	if len(entries) < 1000 || opts.Workers <= 1 {
		// For small documents the goroutine overhead isn't worth it
		parsed := make([]*model.Item, len(entries))
		for i, entry := range entries {
			parsed[i] = parseItem(entry)
		}
		return dedupe(parsed), nil
	}

	parsed := make([]*model.Item, len(entries))
	chunkSize := (len(entries) + opts.Workers - 1) / opts.Workers

	var g errgroup.Group
	for start := 0; start < len(entries); start += chunkSize {
		start, end := start, min(start+chunkSize, len(entries))
		g.Go(func() error {
			for i := start; i < end; i++ {
				parsed[i] = parseItem(entries[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return dedupe(parsed), nil
}

// itemEntries locates the item array inside the document
func itemEntries(raw []byte, opts ParseOptions) ([]gjson.Result, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidDocument)
	}

	root := gjson.ParseBytes(raw)
	list := root
	if root.IsObject() {
		list = gjson.Result{}
		for _, key := range listKeys {
			if candidate := root.Get(key); candidate.IsArray() {
				list = candidate
				break
			}
		}
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: no item array found", ErrInvalidDocument)
	}

	entries := list.Array()
	if opts.MaxItems > 0 && len(entries) > opts.MaxItems {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyItems, len(entries), opts.MaxItems)
	}
	return entries, nil
}

// parseItem converts one entry into an item, or nil when the entry has no usable token id
func parseItem(entry gjson.Result) *model.Item {
	if !entry.IsObject() {
		logrus.WithField("entry", truncate(entry.Raw)).Debug("Skipped non-object item entry")
		return nil
	}

	id := firstString(entry, idKeys)
	if id == "" {
		logrus.WithField("name", entry.Get("name").String()).Debug("Skipped item without token id")
		return nil
	}
	return buildItem(entry, id)
}

// ParseItem parses a single token metadata document. fallbackID names the
// token when the document carries no id of its own, as is usual for
// per-token metadata files.
func ParseItem(raw []byte, fallbackID string) (model.Item, error) {
	if !gjson.ValidBytes(raw) {
		return model.Item{}, fmt.Errorf("%w: not valid JSON", ErrInvalidDocument)
	}
	entry := gjson.ParseBytes(raw)
	if !entry.IsObject() {
		return model.Item{}, fmt.Errorf("%w: expected an object", ErrInvalidDocument)
	}

	id := firstString(entry, idKeys)
	if id == "" {
		id = strings.TrimSpace(fallbackID)
	}
	if id == "" {
		return model.Item{}, fmt.Errorf("%w: token has no id", ErrInvalidDocument)
	}
	return *buildItem(entry, id), nil
}

func buildItem(entry gjson.Result, id string) *model.Item {
	item := &model.Item{
		TokenID:    id,
		Name:       strings.TrimSpace(entry.Get("name").String()),
		Image:      firstString(entry, imageKeys),
		Attributes: parseAttributes(entry),
	}

	if price := entry.Get("price"); price.Exists() && price.Type != gjson.Null {
		if p, err := strconv.ParseFloat(strings.TrimSpace(price.String()), 64); err == nil && p >= 0 {
			item.Price = &p
		}
	}
	for _, key := range listedAtKeys {
		if ts := entry.Get(key); ts.Exists() {
			item.ListedAt = ts.Int()
			break
		}
	}

	return item
}

// parseAttributes reads the trait list in either array form
// ([{trait_type, value}]) or object form ({"Background": "Red"}).
func parseAttributes(entry gjson.Result) []model.Trait {
	var attrs gjson.Result
	for _, key := range attributeKeys {
		if candidate := entry.Get(key); candidate.Exists() {
			attrs = candidate
			break
		}
	}

	traits := make([]model.Trait, 0)
	switch {
	case attrs.IsArray():
		attrs.ForEach(func(_, raw gjson.Result) bool {
			if !raw.IsObject() {
				return true
			}
			if trait, ok := NormalizeTrait(firstString(raw, traitTypeKeys), raw.Get("value")); ok {
				traits = append(traits, trait)
			}
			return true
		})
	case attrs.IsObject():
		attrs.ForEach(func(key, value gjson.Result) bool {
			if trait, ok := NormalizeTrait(key.String(), value); ok {
				traits = append(traits, trait)
			}
			return true
		})
	}
	return traits
}

// NormalizeTrait validates a raw trait. Missing or null values and empty trait types
// are rejected; numbers and booleans are stringified.
func NormalizeTrait(traitType string, value gjson.Result) (model.Trait, bool) {
	v, ok := NormalizeValue(value)
	if !ok {
		return model.Trait{}, false
	}
	return model.Trait{TraitType: traitType, Value: v}.Normalized()
}

// NormalizeValue stringifies a raw trait value and maps empty or "blank" onto model.NoneValue.
// Missing and null values are rejected.
func NormalizeValue(value gjson.Result) (string, bool) {
	if !value.Exists() || value.Type == gjson.Null {
		return "", false
	}
	return model.NormalizeTraitValue(value.String()), true
}

// firstString returns the trimmed string form of the first present, non-null key
func firstString(entry gjson.Result, keys []string) string {
	for _, key := range keys {
		if v := entry.Get(key); v.Exists() && v.Type != gjson.Null {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// dedupe drops nil entries and repeated token ids, keeping the first occurrence
func dedupe(parsed []*model.Item) []model.Item {
	items := make([]model.Item, 0, len(parsed))
	seen := make(map[string]struct{}, len(parsed))
	dropped := 0

	for _, item := range parsed {
		if item == nil {
			dropped++
			continue
		}
		if _, dup := seen[item.TokenID]; dup {
			logrus.WithField("token_id", item.TokenID).Debug("Skipped duplicate token id")
			dropped++
			continue
		}
		seen[item.TokenID] = struct{}{}
		items = append(items, *item)
	}

	logrus.WithFields(logrus.Fields{
		"total":   len(parsed),
		"kept":    len(items),
		"dropped": dropped,
	}).Debug("Metadata ingestion complete")

	return items
}

func truncate(s string) string {
	const limit = 64
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
