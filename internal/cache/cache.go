// Package cache keeps computed rarity datasets for the lifetime of the process.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neomarket/rarity-engine/internal/model"
	tracing "github.com/neomarket/rarity-engine/internal/otel"
	"github.com/neomarket/rarity-engine/internal/rarity"
	"github.com/neomarket/rarity-engine/internal/security"
	"github.com/neomarket/rarity-engine/internal/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Calculator produces the rarity dataset for a collection snapshot
type Calculator func(ctx context.Context, items []model.Item) (*model.CollectionRarityData, error)

// Options configures a RarityCache
type Options struct {
	// Workers is the number of scoring goroutines; values below 2 score sequentially
	Workers int

	// Calculator overrides the default scorer
	Calculator Calculator

	// Metrics receives cache statistics, may be nil
	Metrics *Metrics
}

// DefaultOptions returns sensible defaults for the cache
func DefaultOptions() Options {
	return Options{Workers: 1}
}

// entry is a cached dataset with bookkeeping
type entry struct {
	data        *model.CollectionRarityData
	computedAt  time.Time
	fingerprint common.Hash
}

// RarityCache memoizes rarity datasets per collection id.
//
// A cached id is returned as-is even when the caller passes different items:
// the dataset is a session snapshot and only Refresh, Invalidate or Clear replace it.
// Concurrent requests for an uncached id share a single computation.
type RarityCache struct {
	mu      sync.RWMutex
	entries map[string]entry

	// epochs advance on Invalidate and generation on Clear, so a computation
	// started before either cannot repopulate the entry afterwards
	epochs     map[string]uint64
	generation uint64
	inflight   map[string]struct{}

	group   singleflight.Group
	calc    Calculator
	metrics *Metrics
}

// New creates an empty cache
func New(opts Options) *RarityCache {
	calc := opts.Calculator
	if calc == nil {
		calc = defaultCalculator(opts.Workers)
	}
	return &RarityCache{
		entries:  make(map[string]entry),
		epochs:   make(map[string]uint64),
		inflight: make(map[string]struct{}),
		calc:     calc,
		metrics:  opts.Metrics,
	}
}

func defaultCalculator(workers int) Calculator {
	if workers < 2 {
		return func(_ context.Context, items []model.Item) (*model.CollectionRarityData, error) {
			return rarity.Calculate(items), nil
		}
	}
	return func(ctx context.Context, items []model.Item) (*model.CollectionRarityData, error) {
		return rarity.CalculateParallel(ctx, items, workers)
	}
}

// GetCollectionRarity returns the dataset for id, computing it from items on first use.
// The returned dataset is shared and must be treated as read-only.
func (c *RarityCache) GetCollectionRarity(ctx context.Context, id string, items []model.Item) (*model.CollectionRarityData, error) {
	id = types.NormalizeCollectionID(id)

	if data, ok := c.Get(id); ok {
		c.metrics.hit()
		return data, nil
	}

	v, err, shared := c.group.Do(id, func() (interface{}, error) {
		// another flight may have finished between the lookup above and this one starting
		if data, ok := c.Get(id); ok {
			return data, nil
		}
		return c.compute(ctx, id, items)
	})
	if shared {
		c.metrics.coalesced()
	}
	if err != nil {
		return nil, err
	}
	return v.(*model.CollectionRarityData), nil
}

// Refresh discards any cached dataset for id and recomputes it from items
func (c *RarityCache) Refresh(ctx context.Context, id string, items []model.Item) (*model.CollectionRarityData, error) {
	c.Invalidate(id)
	return c.GetCollectionRarity(ctx, id, items)
}

// compute runs the calculator and stores the result unless id was invalidated meanwhile
func (c *RarityCache) compute(ctx context.Context, id string, items []model.Item) (*model.CollectionRarityData, error) {
	c.metrics.miss()

	c.mu.Lock()
	epoch, generation := c.epochs[id], c.generation
	c.inflight[id] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()

	// the computation is shared by every waiting caller, so it must not die with the first one
	ctx, span := tracing.Tracer().Start(context.WithoutCancel(ctx), "cache.compute")
	span.SetAttributes(
		attribute.String("collection.id", id),
		attribute.Int("collection.items", len(items)),
	)
	defer span.End()

	start := time.Now()
	data, err := c.calc(ctx, items)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		logrus.WithError(err).WithField("collection", id).Error("Rarity computation failed")
		return nil, err
	}
	c.metrics.observe(elapsed)

	c.mu.Lock()
	if c.epochs[id] == epoch && c.generation == generation {
		c.entries[id] = entry{data: data, computedAt: time.Now(), fingerprint: security.Fingerprint(items)}
	}
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.setEntries(size)

	logrus.WithFields(logrus.Fields{
		"collection":   id,
		"total_supply": data.TotalSupply,
		"trait_types":  len(data.TraitCounts),
		"duration":     elapsed,
	}).Info("Computed collection rarity")

	return data, nil
}

// Get returns the cached dataset for id without computing anything
func (c *RarityCache) Get(id string) (*model.CollectionRarityData, bool) {
	id = types.NormalizeCollectionID(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e.data, ok
}

// ComputedAt reports when the dataset for id was stored
func (c *RarityCache) ComputedAt(id string) (time.Time, bool) {
	id = types.NormalizeCollectionID(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e.computedAt, ok
}

// Fingerprint returns the digest of the item snapshot the dataset for id was computed from
func (c *RarityCache) Fingerprint(id string) (common.Hash, bool) {
	id = types.NormalizeCollectionID(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e.fingerprint, ok
}

// Stale reports whether id is cached from a snapshot other than items.
// An uncached id is not stale.
func (c *RarityCache) Stale(id string, items []model.Item) bool {
	fp, ok := c.Fingerprint(id)
	return ok && fp != security.Fingerprint(items)
}

// ItemRarity returns the rarity record of one item, false when either is unknown
func (c *RarityCache) ItemRarity(id, tokenID string) (model.ItemRarity, bool) {
	data, ok := c.Get(id)
	if !ok {
		return model.ItemRarity{}, false
	}
	r, ok := data.NFTRarities[tokenID]
	return r, ok
}

// SortedByRarity returns all items ordered by rank. Ascending puts rank 1 (the rarest) first.
func (c *RarityCache) SortedByRarity(id string, ascending bool) []model.ItemRarity {
	data, ok := c.Get(id)
	if !ok {
		return []model.ItemRarity{}
	}

	out := make([]model.ItemRarity, 0, len(data.Ranked))
	for _, tokenID := range data.Ranked {
		out = append(out, data.NFTRarities[tokenID])
	}
	if !ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// FilterByTiers returns the items assigned to any of tiers, rarest first
func (c *RarityCache) FilterByTiers(id string, tiers []types.Tier) []model.ItemRarity {
	data, ok := c.Get(id)
	if !ok || len(tiers) == 0 {
		return []model.ItemRarity{}
	}

	wanted := make(map[types.Tier]struct{}, len(tiers))
	for _, t := range tiers {
		wanted[t] = struct{}{}
	}

	out := make([]model.ItemRarity, 0)
	for _, tokenID := range data.Ranked {
		r := data.NFTRarities[tokenID]
		if _, ok := wanted[r.RarityTier]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Summary returns display statistics for a cached collection
func (c *RarityCache) Summary(id string) (model.CollectionSummary, bool) {
	data, ok := c.Get(id)
	if !ok {
		return rarity.Summarize(nil), false
	}
	return rarity.Summarize(data), true
}

// TierCounts returns the actual number of items per assigned tier.
// Every tier is present, with zero counts when the collection is not cached.
func (c *RarityCache) TierCounts(id string) map[types.Tier]int {
	data, _ := c.Get(id)
	return rarity.TierCounts(data)
}

// Invalidate drops the cached dataset for id. An in-flight computation for id
// still completes for its waiting callers but is not stored.
func (c *RarityCache) Invalidate(id string) {
	id = types.NormalizeCollectionID(id)

	c.mu.Lock()
	delete(c.entries, id)
	c.epochs[id]++
	size := len(c.entries)
	c.mu.Unlock()

	c.group.Forget(id)
	c.metrics.setEntries(size)
	logrus.WithField("collection", id).Info("Invalidated collection rarity")
}

// Clear drops every cached dataset
func (c *RarityCache) Clear() {
	c.mu.Lock()
	forget := make([]string, 0, len(c.entries)+len(c.inflight))
	for id := range c.entries {
		forget = append(forget, id)
	}
	for id := range c.inflight {
		forget = append(forget, id)
	}
	dropped := len(c.entries)
	c.entries = make(map[string]entry)
	c.generation++
	c.mu.Unlock()

	for _, id := range forget {
		c.group.Forget(id)
	}
	c.metrics.setEntries(0)
	logrus.WithField("collections", dropped).Info("Cleared rarity cache")
}

// Len returns the number of cached collections
func (c *RarityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IDs returns the cached collection ids in sorted order
func (c *RarityCache) IDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
