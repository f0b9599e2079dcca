// Package pricemap implements the price-indexed book side: a keyed map
// whose price levels are visited in a fixed best-to-worst order, each level
// holding a FIFO queue of values (order IDs) inserted at that price. It is
// the reusable half of the matching engine's book-side maintenance: the
// order book package wires one instance per side and drives matching by
// repeatedly peeking and popping the best level's head.
//
// The extremal tracking uses a heap of price levels for O(1) best-price
// lookup, at the cost of O(n) worst-case level removal. A price level is
// removed only when it empties, which happens once per resting order.
package pricemap

import (
	"container/heap"

	"github.com/clobcore/matchbook/pkg/fixedpoint"
)

// Ordering selects which price is "best" for a Map: Max means the highest
// price sorts first (a bid book side), Min means the lowest price sorts
// first (an ask book side).
type Ordering int8

const (
	Max Ordering = iota
	Min
)

type priceHeap struct {
	prices []fixedpoint.FixedPoint
	order  Ordering
}

func (h priceHeap) Len() int { return len(h.prices) }
func (h priceHeap) Less(i, j int) bool {
	if h.order == Max {
		return fixedpoint.Gt(h.prices[i], h.prices[j])
	}
	return fixedpoint.Lt(h.prices[i], h.prices[j])
}
func (h priceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }

func (h *priceHeap) Push(x interface{}) {
	h.prices = append(h.prices, x.(fixedpoint.FixedPoint))
}

func (h *priceHeap) Pop() interface{} {
	old := h.prices
	n := len(old)
	x := old[n-1]
	h.prices = old[:n-1]
	return x
}

// Map is a price-keyed FIFO-per-level structure. The zero value is not
// usable; construct with New.
type Map[V comparable] struct {
	order  Ordering
	levels map[uint64][]V
	h      *priceHeap
}

// New creates an empty price map with the given best-price ordering.
func New[V comparable](order Ordering) *Map[V] {
	h := &priceHeap{order: order}
	heap.Init(h)
	return &Map[V]{
		order:  order,
		levels: make(map[uint64][]V),
		h:      h,
	}
}

// Best returns the best (extremal per Ordering) price with at least one
// value queued, or ok=false if the map is empty.
func (m *Map[V]) Best() (price fixedpoint.FixedPoint, ok bool) {
	if m.h.Len() == 0 {
		return fixedpoint.Zero, false
	}
	return m.h.prices[0], true
}

// Push appends v to the tail of price's FIFO queue, creating the level
// (and its heap entry) if this is the first value at that price.
func (m *Map[V]) Push(price fixedpoint.FixedPoint, v V) {
	key := price.Raw()
	if len(m.levels[key]) == 0 {
		heap.Push(m.h, price)
	}
	m.levels[key] = append(m.levels[key], v)
}

// FrontAt returns the head of price's FIFO queue without removing it.
func (m *Map[V]) FrontAt(price fixedpoint.FixedPoint) (V, bool) {
	var zero V
	q := m.levels[price.Raw()]
	if len(q) == 0 {
		return zero, false
	}
	return q[0], true
}

// PopFront removes and returns the head of price's FIFO queue. If the
// queue becomes empty, the level (and its heap entry) is removed.
func (m *Map[V]) PopFront(price fixedpoint.FixedPoint) (V, bool) {
	var zero V
	key := price.Raw()
	q := m.levels[key]
	if len(q) == 0 {
		return zero, false
	}
	v := q[0]
	q = q[1:]
	if len(q) == 0 {
		delete(m.levels, key)
		m.removeFromHeap(price)
	} else {
		m.levels[key] = q
	}
	return v, true
}

// Remove scans price's FIFO queue for v and removes it, preserving the
// relative order of the remaining entries. Used for out-of-order
// cancellation of a resting order that isn't at the head of its level.
func (m *Map[V]) Remove(price fixedpoint.FixedPoint, v V) bool {
	key := price.Raw()
	q := m.levels[key]
	for i, cur := range q {
		if cur == v {
			q = append(q[:i], q[i+1:]...)
			if len(q) == 0 {
				delete(m.levels, key)
				m.removeFromHeap(price)
			} else {
				m.levels[key] = q
			}
			return true
		}
	}
	return false
}

// At returns a copy of price's FIFO queue in time priority order.
func (m *Map[V]) At(price fixedpoint.FixedPoint) []V {
	q := m.levels[price.Raw()]
	out := make([]V, len(q))
	copy(out, q)
	return out
}

// LevelLen returns the number of values queued at price.
func (m *Map[V]) LevelLen(price fixedpoint.FixedPoint) int {
	return len(m.levels[price.Raw()])
}

// Empty reports whether the map holds no price levels at all.
func (m *Map[V]) Empty() bool {
	return m.h.Len() == 0
}

// Levels returns every price currently holding at least one value, in
// best-to-worst order. Intended for snapshotting (depth queries,
// persistence), not the matching hot path.
func (m *Map[V]) Levels() []fixedpoint.FixedPoint {
	out := make([]fixedpoint.FixedPoint, len(m.h.prices))
	copy(out, m.h.prices)
	cp := &priceHeap{prices: out, order: m.order}
	heap.Init(cp)
	sorted := make([]fixedpoint.FixedPoint, 0, len(out))
	for cp.Len() > 0 {
		sorted = append(sorted, heap.Pop(cp).(fixedpoint.FixedPoint))
	}
	return sorted
}

func (m *Map[V]) removeFromHeap(price fixedpoint.FixedPoint) {
	for i, p := range m.h.prices {
		if p.Raw() == price.Raw() {
			heap.Remove(m.h, i)
			return
		}
	}
}
