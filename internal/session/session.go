// Package session holds the interactive filter state of one browsing view.
package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neomarket/rarity-engine/internal/debounce"
	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/neomarket/rarity-engine/internal/search"
	"github.com/neomarket/rarity-engine/internal/types"
)

// CompletionMode controls when the filtering flag clears after a pass
type CompletionMode int

const (
	// Eager clears the flag as soon as the pass finishes
	Eager CompletionMode = iota
	// Deferred clears the flag from a zero-delay scheduled callback
	Deferred
)

// Options configures a Session
type Options struct {
	Scheduler  debounce.Scheduler
	Completion CompletionMode
	PageSize   int
	Lookup     search.RarityLookup
	Sort       types.SortKey
}

// Session turns raw user input into a filtered, sorted and windowed item list.
// Query and trait input is debounced; tier and sort changes apply immediately.
// All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	sched      debounce.Scheduler
	mode       CompletionMode
	queryDeb   *debounce.Debouncer
	traitDeb   *debounce.Debouncer
	completion debounce.Handle
	completeID uint64

	index   *search.Index
	lookup  search.RarityLookup
	sortKey types.SortKey

	rawQuery  string
	draft     map[string]map[string]struct{}
	state     model.FilterState
	results   []model.Item
	window    *search.Window
	filtering bool
	passes    int
}

// New creates a session over items and runs the initial pass
func New(items []model.Item, opts Options) *Session {
	sched := opts.Scheduler
	if sched == nil {
		sched = debounce.RealScheduler{}
	}
	s := &Session{
		sched:    sched,
		mode:     opts.Completion,
		queryDeb: debounce.New(sched),
		traitDeb: debounce.New(sched),
		index:    search.NewIndex(items),
		lookup:   opts.Lookup,
		sortKey:  opts.Sort,
		draft:    make(map[string]map[string]struct{}),
		state:    model.NewFilterState(),
		window:   search.NewWindow(opts.PageSize, opts.PageSize),
	}

	s.mu.Lock()
	s.filtering = true
	s.runPass()
	s.mu.Unlock()
	return s
}

// SetItems replaces the item set and re-runs the current filter
func (s *Session) SetItems(items []model.Item) {
	index := search.NewIndex(items)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	s.filtering = true
	s.runPass()
}

// SetLookup replaces the rarity lookup used for tier filtering and rarity sorting
func (s *Session) SetLookup(lookup search.RarityLookup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup = lookup
	s.filtering = true
	s.runPass()
}

// SetQuery records raw search input. The effective query follows after
// debounce.QueryDelay of quiet time.
func (s *Session) SetQuery(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawQuery = query
	s.filtering = true
	s.queryDeb.Trigger(debounce.QueryDelay(query), func() { s.applyQuery(query) })
}

func (s *Session) applyQuery(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.SearchText == query {
		s.complete()
		return
	}
	s.state.SearchText = query
	s.runPass()
}

// ToggleTrait adds value to the selection of traitType, or removes it if already selected
func (s *Session) ToggleTrait(traitType, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.draft[traitType]
	if !ok {
		values = make(map[string]struct{})
		s.draft[traitType] = values
	}
	if _, selected := values[value]; selected {
		delete(values, value)
		if len(values) == 0 {
			delete(s.draft, traitType)
		}
	} else {
		values[value] = struct{}{}
	}
	s.scheduleTraits()
}

// SetTraitValues replaces the selection of traitType. No values clears it.
func (s *Session) SetTraitValues(traitType string, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(values) == 0 {
		delete(s.draft, traitType)
	} else {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		s.draft[traitType] = set
	}
	s.scheduleTraits()
}

// ClearTraits drops every trait selection
func (s *Session) ClearTraits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = make(map[string]map[string]struct{})
	s.scheduleTraits()
}

// scheduleTraits must be called with s.mu held
func (s *Session) scheduleTraits() {
	s.filtering = true
	s.traitDeb.Trigger(debounce.TraitDelay, s.applyTraits)
}

func (s *Session) applyTraits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SelectedTraits = model.FilterState{SelectedTraits: s.draft}.Clone().SelectedTraits
	s.runPass()
}

// SetTiers restricts results to the given tiers. No tiers removes the restriction.
func (s *Session) SetTiers(tiers ...types.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.WithTiers(tiers...)
	s.filtering = true
	s.runPass()
}

// SetSort changes the result ordering without resetting the reveal window
func (s *Session) SetSort(key types.SortKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortKey = key
	s.results = s.compute()
}

// Flush applies pending query and trait input immediately
func (s *Session) Flush() {
	s.queryDeb.Flush()
	s.traitDeb.Flush()
}

// Close cancels pending input and completion callbacks
func (s *Session) Close() {
	s.queryDeb.Cancel()
	s.traitDeb.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completion != nil {
		s.completion.Stop()
		s.completion = nil
	}
}

// runPass recomputes the results from the effective state and resets the window.
// It must be called with s.mu held.
func (s *Session) runPass() {
	start := time.Now()
	s.results = s.compute()
	s.window.Reset()
	s.passes++

	logrus.WithFields(logrus.Fields{
		"query":    s.state.SearchText,
		"results":  len(s.results),
		"duration": time.Since(start),
	}).Debug("Filter pass complete")

	s.complete()
}

func (s *Session) compute() []model.Item {
	filtered := s.index.FilterWithTiers(s.state, s.lookup)
	return search.Sort(filtered, s.sortKey, s.lookup)
}

// complete clears the filtering flag per the completion mode.
// It must be called with s.mu held.
func (s *Session) complete() {
	s.completeID++
	if s.completion != nil {
		s.completion.Stop()
		s.completion = nil
	}

	if s.mode == Eager {
		s.settle()
		return
	}

	id := s.completeID
	s.completion = s.sched.AfterFunc(0, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if id != s.completeID {
			return
		}
		s.completion = nil
		s.settle()
	})
}

// settle clears the flag unless more input is still waiting
func (s *Session) settle() {
	if s.queryDeb.Pending() || s.traitDeb.Pending() {
		return
	}
	s.filtering = false
}

// LoadMore reveals the next page and returns the visible count
func (s *Session) LoadMore() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.LoadMore(len(s.results))
}

// Visible returns the revealed prefix of the results
func (s *Session) Visible() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Item(nil), s.window.Slice(s.results)...)
}

// HasMore reports whether LoadMore would reveal more results
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.HasMore(len(s.results))
}

// Results returns the full filtered list
func (s *Session) Results() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Item(nil), s.results...)
}

// Filtering reports whether input is pending or a pass has not yet signalled completion
func (s *Session) Filtering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filtering
}

// RawQuery returns the last query typed, debounced or not
func (s *Session) RawQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawQuery
}

// State returns a copy of the effective filter state
func (s *Session) State() model.FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Passes returns how many filter passes have run
func (s *Session) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}
