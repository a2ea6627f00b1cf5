package search

import "github.com/neomarket/rarity-engine/internal/model"

// DefaultPageSize is the initial reveal size and the load-more increment
const DefaultPageSize = 24

// Window tracks how much of a filtered list is revealed.
// It is an offset into an in-memory list, not a remote cursor.
type Window struct {
	initial int
	step    int
	visible int
}

// NewWindow creates a window revealing initial items and growing by step.
// Non-positive values fall back to DefaultPageSize.
func NewWindow(initial, step int) *Window {
	if initial <= 0 {
		initial = DefaultPageSize
	}
	if step <= 0 {
		step = DefaultPageSize
	}
	return &Window{initial: initial, step: step, visible: initial}
}

// Visible returns how many of total items are revealed
func (w *Window) Visible(total int) int {
	return min(w.visible, max(total, 0))
}

// HasMore reports whether LoadMore would reveal anything
func (w *Window) HasMore(total int) bool {
	return w.visible < total
}

// LoadMore extends the window by one step, capped at total, and returns the new visible count
func (w *Window) LoadMore(total int) int {
	if w.visible < total {
		w.visible = min(w.visible+w.step, total)
	}
	return w.Visible(total)
}

// Reset shrinks the window back to its initial size
func (w *Window) Reset() {
	w.visible = w.initial
}

// Slice returns the revealed prefix of items
func (w *Window) Slice(items []model.Item) []model.Item {
	return items[:w.Visible(len(items))]
}
