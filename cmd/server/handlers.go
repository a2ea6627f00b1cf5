package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/neomarket/rarity-engine/internal/circuitbreaker"
	"github.com/neomarket/rarity-engine/internal/fetch"
	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/neomarket/rarity-engine/internal/rarity"
	"github.com/neomarket/rarity-engine/internal/search"
	"github.com/neomarket/rarity-engine/internal/security"
	"github.com/neomarket/rarity-engine/internal/types"
	"github.com/neomarket/rarity-engine/internal/validation"
)

// Response headers set on rarity datasets
const (
	staleHeader     = "X-Rarity-Stale"
	signatureHeader = "X-Rarity-Signature"
	signerHeader    = "X-Rarity-Signer"
)

const (
	defaultRankingLimit = 100
	maxRankingLimit     = 1000
)

// Item sources, used as the ingestion metric label
const (
	sourceBody          = "body"
	sourceCollectionURL = "collection_url"
	sourceTokenURL      = "token_url"
)

// RarityResponse is returned by the rarity endpoints
type RarityResponse struct {
	CollectionID string                      `json:"collection_id"`
	Stale        bool                        `json:"stale"`
	ComputedAt   time.Time                   `json:"computed_at"`
	Digest       string                      `json:"digest"`
	Signature    string                      `json:"signature,omitempty"`
	Signer       string                      `json:"signer,omitempty"`
	Data         *model.CollectionRarityData `json:"data"`
}

// RankingResponse is one page of a ranked collection
type RankingResponse struct {
	CollectionID string             `json:"collection_id"`
	Total        int                `json:"total"`
	Offset       int                `json:"offset"`
	Limit        int                `json:"limit"`
	Items        []model.ItemRarity `json:"items"`
}

// FilterResponse is one page of a filtered item list
type FilterResponse struct {
	CollectionID string       `json:"collection_id"`
	Total        int          `json:"total"`
	Offset       int          `json:"offset"`
	Limit        int          `json:"limit"`
	HasMore      bool         `json:"has_more"`
	Items        []model.Item `json:"items"`
}

func collectionID(r *http.Request) string {
	return types.NormalizeCollectionID(mux.Vars(r)["id"])
}

// handleHealth is a liveness probe
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":             "operational",
		"uptime":             time.Since(s.startTime).String(),
		"version":            version,
		"cached_collections": s.cache.Len(),
		"configuration": map[string]interface{}{
			"cache_workers": s.config.CacheWorkers,
			"max_items":     s.config.MaxItems,
			"rate_limit":    s.rateLimit != nil,
			"signing":       s.signer != nil,
			"metrics":       s.config.EnableMetrics,
		},
	}
	if s.signer != nil {
		status["signer"] = s.signer.Address().Hex()
	}
	if s.breaker != nil {
		circuits := make(map[string]string)
		for source, state := range s.breaker.States() {
			circuits[source] = state.String()
		}
		status["metadata_sources"] = circuits
	}
	writeJSON(w, http.StatusOK, status)
}

// handleTiers lists the tier definitions
func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tiers": rarity.TierDefinitions(),
	})
}

// handleListCollections lists the cached collection ids
func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collections": s.cache.IDs(),
	})
}

// handleClearCollections drops every cached dataset
func (s *Server) handleClearCollections(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// handleInvalidateCollection drops one cached dataset
func (s *Server) handleInvalidateCollection(w http.ResponseWriter, r *http.Request) {
	s.cache.Invalidate(collectionID(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleComputeRarity computes, or returns the cached, rarity dataset of a collection.
// Items come from the request body, a collection metadata URL or per-token metadata URLs.
// A cached dataset wins over the submitted items unless ?refresh=true is given.
func (s *Server) handleComputeRarity(w http.ResponseWriter, r *http.Request) {
	id := collectionID(r)
	if id == "" {
		errorResponse(w, r, http.StatusBadRequest, "collection id is required")
		return
	}

	body, err := readBody(w, r, s.config.MaxRequestBytes)
	if err != nil {
		s.ingestError(w, r, err)
		return
	}

	ctx := r.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	items, source, err := s.loadItems(ctx, body)
	if err != nil {
		s.ingestError(w, r, err)
		return
	}
	s.metrics.itemsIngested.WithLabelValues(source).Add(float64(len(items)))

	refresh := queryBool(r, "refresh")
	stale := !refresh && s.cache.Stale(id, items)

	var data *model.CollectionRarityData
	if refresh {
		data, err = s.cache.Refresh(ctx, id, items)
	} else {
		data, err = s.cache.GetCollectionRarity(ctx, id, items)
	}
	if err != nil {
		errorResponse(w, r, http.StatusInternalServerError, fmt.Sprintf("Error computing rarity: %v", err))
		return
	}
	if stale {
		s.metrics.staleResponses.Inc()
		logrus.WithFields(logrus.Fields{
			"collection": id,
			"request_id": requestIDFromContext(r.Context()),
		}).Info("Serving cached rarity for a changed snapshot")
	}

	s.writeRarity(w, r, id, data, stale)
}

// handleCollectionRarity returns the cached dataset, honouring If-None-Match
func (s *Server) handleCollectionRarity(w http.ResponseWriter, r *http.Request) {
	id := collectionID(r)
	data, ok := s.cache.Get(id)
	if !ok {
		errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("collection %s is not cached", id))
		return
	}
	s.writeRarity(w, r, id, data, false)
}

// writeRarity renders a dataset with its digest as ETag and, when enabled, its signature
func (s *Server) writeRarity(w http.ResponseWriter, r *http.Request, id string, data *model.CollectionRarityData, stale bool) {
	digest, err := security.DatasetDigest(data)
	if err != nil {
		errorResponse(w, r, http.StatusInternalServerError, fmt.Sprintf("Error hashing dataset: %v", err))
		return
	}

	etag := `"` + digest.Hex() + `"`
	w.Header().Set("ETag", etag)
	if r.Method == http.MethodGet && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	computedAt, _ := s.cache.ComputedAt(id)
	resp := RarityResponse{
		CollectionID: id,
		Stale:        stale,
		ComputedAt:   computedAt,
		Digest:       digest.Hex(),
		Data:         data,
	}

	if s.signer != nil {
		signature, err := s.signer.Sign(digest)
		if err != nil {
			errorResponse(w, r, http.StatusInternalServerError, fmt.Sprintf("Error signing dataset: %v", err))
			return
		}
		resp.Signature = signature
		resp.Signer = s.signer.Address().Hex()
		w.Header().Set(signatureHeader, signature)
		w.Header().Set(signerHeader, resp.Signer)
	}
	if stale {
		w.Header().Set(staleHeader, "true")
	}

	writeJSON(w, http.StatusOK, resp)
}

// loadItems resolves the items named by a rarity request body
func (s *Server) loadItems(ctx context.Context, body []byte) ([]model.Item, string, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, "", fmt.Errorf("%w: empty request body", validation.ErrInvalidDocument)
	}
	if !gjson.ValidBytes(body) {
		return nil, "", fmt.Errorf("%w: not valid JSON", validation.ErrInvalidDocument)
	}

	doc := gjson.ParseBytes(body)
	metadataURL := strings.TrimSpace(doc.Get("metadataUrl").String())
	tokenURL := strings.TrimSpace(doc.Get("tokenUrl").String())

	switch {
	case metadataURL != "":
		if s.fetcher == nil {
			return nil, "", errNoFetcher
		}
		items, err := s.fetcher.FetchCollection(ctx, metadataURL)
		if err != nil {
			return nil, "", err
		}
		return items, sourceCollectionURL, s.checkItemCount(len(items))

	case tokenURL != "":
		if s.fetcher == nil {
			return nil, "", errNoFetcher
		}
		var ids []string
		doc.Get("tokenIds").ForEach(func(_, v gjson.Result) bool {
			if id := strings.TrimSpace(v.String()); id != "" {
				ids = append(ids, id)
			}
			return true
		})
		if len(ids) == 0 {
			return nil, "", fmt.Errorf("%w: tokenUrl requires tokenIds", validation.ErrInvalidDocument)
		}
		if err := s.checkItemCount(len(ids)); err != nil {
			return nil, "", err
		}
		items, err := s.fetcher.FetchTokens(ctx, tokenURL, ids)
		return items, sourceTokenURL, err
	}

	opts := validation.DefaultParseOptions()
	opts.MaxItems = s.config.MaxItems
	items, err := validation.ParseItemsConcurrently(body, opts)
	return items, sourceBody, err
}

// errNoFetcher is returned when a request names a remote source but none is configured
var errNoFetcher = errors.New("remote metadata sources are not enabled")

func (s *Server) checkItemCount(n int) error {
	if s.config.MaxItems > 0 && n > s.config.MaxItems {
		return fmt.Errorf("%w: %d > %d", validation.ErrTooManyItems, n, s.config.MaxItems)
	}
	return nil
}

// ingestError maps an ingestion failure onto its status code
func (s *Server) ingestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge), errors.Is(err, validation.ErrTooManyItems):
		errorResponse(w, r, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, validation.ErrInvalidDocument):
		errorResponse(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, errNoFetcher):
		errorResponse(w, r, http.StatusNotImplemented, err.Error())
	case errors.Is(err, circuitbreaker.ErrOpen):
		errorResponse(w, r, http.StatusServiceUnavailable, fmt.Sprintf("Metadata source unavailable: %v", err))
	case errors.Is(err, fetch.ErrNotFound):
		errorResponse(w, r, http.StatusBadGateway, fmt.Sprintf("Metadata source: %v", err))
	case errors.Is(err, context.DeadlineExceeded):
		errorResponse(w, r, http.StatusGatewayTimeout, "Timed out loading metadata")
	default:
		errorResponse(w, r, http.StatusBadGateway, fmt.Sprintf("Error loading metadata: %v", err))
	}
}

// handleItemRarity returns the rarity record of one token
func (s *Server) handleItemRarity(w http.ResponseWriter, r *http.Request) {
	id := collectionID(r)
	tokenID := strings.TrimSpace(mux.Vars(r)["tokenId"])

	if _, ok := s.cache.Get(id); !ok {
		errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("collection %s is not cached", id))
		return
	}
	record, ok := s.cache.ItemRarity(id, tokenID)
	if !ok {
		errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("token %s not found in collection %s", tokenID, id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleRanking pages through a collection in rank order.
// order=asc (default) lists rank 1 first; tiers restricts the listing to the given tiers.
func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	id := collectionID(r)
	if _, ok := s.cache.Get(id); !ok {
		errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("collection %s is not cached", id))
		return
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", defaultRankingLimit)
	if err != nil || limit == 0 {
		errorResponse(w, r, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxRankingLimit)

	var ascending bool
	switch order := strings.ToLower(r.URL.Query().Get("order")); order {
	case "", "asc":
		ascending = true
	case "desc":
	default:
		errorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("invalid order: %q", order))
		return
	}

	var ranked []model.ItemRarity
	if raw := r.URL.Query().Get("tiers"); raw != "" {
		tiers := types.ParseTierList(raw)
		if len(tiers) == 0 {
			errorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("no valid tiers in %q", raw))
			return
		}
		ranked = s.cache.FilterByTiers(id, tiers)
		if !ascending {
			for i, j := 0, len(ranked)-1; i < j; i, j = i+1, j-1 {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	} else {
		ranked = s.cache.SortedByRarity(id, ascending)
	}

	start, end := page(len(ranked), offset, limit)
	writeJSON(w, http.StatusOK, RankingResponse{
		CollectionID: id,
		Total:        len(ranked),
		Offset:       offset,
		Limit:        limit,
		Items:        ranked[start:end],
	})
}

// handleSummary returns display statistics plus the actual tier counts
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := collectionID(r)
	summary, ok := s.cache.Summary(id)
	if !ok {
		errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("collection %s is not cached", id))
		return
	}
	computedAt, _ := s.cache.ComputedAt(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collection_id": id,
		"computed_at":   computedAt,
		"summary":       summary,
		"tier_counts":   s.cache.TierCounts(id),
	})
}

// handleCollectionTiers compares the target tier distribution with the assigned one
func (s *Server) handleCollectionTiers(w http.ResponseWriter, r *http.Request) {
	id := collectionID(r)
	data, ok := s.cache.Get(id)
	if !ok {
		errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("collection %s is not cached", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collection_id": id,
		"total_supply":  data.TotalSupply,
		"targets":       data.RarityTiers,
		"actual":        rarity.TierCounts(data),
	})
}

// handleTraits lists the filterable trait values of a cached collection
func (s *Server) handleTraits(w http.ResponseWriter, r *http.Request) {
	id := collectionID(r)
	data, ok := s.cache.Get(id)
	if !ok {
		errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("collection %s is not cached", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collection_id": id,
		"traits":        search.TraitOptionsFromTable(data.TraitCounts),
	})
}

// handleFilter applies a search, trait and tier filter to the submitted items and
// returns one sorted page. Tier filters and rarity sorting use the collection's
// rarity dataset, computing it from the submitted items when it is not cached.
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	id := collectionID(r)

	body, err := readBody(w, r, s.config.MaxRequestBytes)
	if err != nil {
		s.ingestError(w, r, err)
		return
	}
	if !gjson.ValidBytes(body) {
		errorResponse(w, r, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	opts := validation.DefaultParseOptions()
	opts.MaxItems = s.config.MaxItems
	items, err := validation.ParseItemsConcurrently(body, opts)
	if err != nil {
		s.ingestError(w, r, err)
		return
	}
	s.metrics.itemsIngested.WithLabelValues(sourceBody).Add(float64(len(items)))

	doc := gjson.ParseBytes(body)
	state, err := parseFilterState(doc.Get("filter"))
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sortKey := types.ParseSortKey(doc.Get("sort").String())

	offset := int(doc.Get("offset").Int())
	limit := int(doc.Get("limit").Int())
	if offset < 0 || limit < 0 {
		errorResponse(w, r, http.StatusBadRequest, "offset and limit must not be negative")
		return
	}
	if limit == 0 {
		limit = search.DefaultPageSize
	}

	var lookup search.RarityLookup
	if len(state.SelectedTiers) > 0 || sortKey == types.SortRarity {
		data, err := s.cache.GetCollectionRarity(r.Context(), id, items)
		if err != nil {
			errorResponse(w, r, http.StatusInternalServerError, fmt.Sprintf("Error computing rarity: %v", err))
			return
		}
		lookup = search.LookupFromData(data)
	}

	results := search.Sort(search.NewIndex(items).FilterWithTiers(state, lookup), sortKey, lookup)
	start, end := page(len(results), offset, limit)

	writeJSON(w, http.StatusOK, FilterResponse{
		CollectionID: id,
		Total:        len(results),
		Offset:       offset,
		Limit:        limit,
		HasMore:      end < len(results),
		Items:        results[start:end],
	})
}

// parseFilterState reads {searchText, traits: {type: [values]}, tiers: [names]}.
// Unknown tier names are ignored unless none of the given names is a tier.
func parseFilterState(filter gjson.Result) (model.FilterState, error) {
	state := model.NewFilterState()
	state.SearchText = filter.Get("searchText").String()

	filter.Get("traits").ForEach(func(traitType, values gjson.Result) bool {
		set := make(map[string]struct{})
		values.ForEach(func(_, v gjson.Result) bool {
			if value, ok := validation.NormalizeValue(v); ok {
				set[value] = struct{}{}
			}
			return true
		})
		state.SelectedTraits[strings.TrimSpace(traitType.String())] = set
		return true
	})

	tiers := filter.Get("tiers")
	tiers.ForEach(func(_, v gjson.Result) bool {
		if tier, ok := types.ParseTier(v.String()); ok {
			state.SelectedTiers[tier] = struct{}{}
		}
		return true
	})
	if len(tiers.Array()) > 0 && len(state.SelectedTiers) == 0 {
		return state, fmt.Errorf("no valid tiers in %s", tiers.Raw)
	}
	return state, nil
}
