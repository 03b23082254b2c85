package index

import (
	"container/heap"
	"sort"
)

// TopK keeps the best k results seen so far.
//
// With Descending false lower scores are better (distances); with
// Descending true higher scores are better (similarities).
type TopK struct {
	k int
	h resultHeap
}

// NewTopK creates a collector for k results.
func NewTopK(k int, descending bool) *TopK {
	return &TopK{
		k: k,
		h: resultHeap{descending: descending, items: make([]Result, 0, k)},
	}
}

// Push offers a candidate.
func (t *TopK) Push(r Result) {
	if t.k <= 0 {
		return
	}
	if t.h.Len() < t.k {
		heap.Push(&t.h, r)
		return
	}
	if t.h.better(r, t.h.items[0]) {
		t.h.items[0] = r
		heap.Fix(&t.h, 0)
	}
}

// Len returns the number of collected results.
func (t *TopK) Len() int { return t.h.Len() }

// Results returns the collected results, best first.
func (t *TopK) Results() []Result {
	out := make([]Result, len(t.h.items))
	copy(out, t.h.items)
	SortResults(out, t.h.descending)
	return out
}

// SortResults orders results best first. Ties are broken by id.
func SortResults(results []Result, descending bool) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			if descending {
				return a.Score > b.Score
			}
			return a.Score < b.Score
		}
		return a.ID < b.ID
	})
}

// MergeResults merges lists that are each sorted best first into the best k.
func MergeResults(k int, descending bool, lists ...[]Result) []Result {
	h := &mergeHeap{descending: descending}
	for i, l := range lists {
		if len(l) > 0 {
			h.items = append(h.items, mergeItem{res: l[0], listIdx: i})
		}
	}
	heap.Init(h)

	out := make([]Result, 0, k)
	for h.Len() > 0 && len(out) < k {
		item := heap.Pop(h).(mergeItem)
		out = append(out, item.res)

		if next := item.elemIdx + 1; next < len(lists[item.listIdx]) {
			heap.Push(h, mergeItem{
				res:     lists[item.listIdx][next],
				listIdx: item.listIdx,
				elemIdx: next,
			})
		}
	}

	return out
}

// resultHeap keeps the worst retained result at the root.
type resultHeap struct {
	descending bool
	items      []Result
}

func (h *resultHeap) better(a, b Result) bool {
	if a.Score != b.Score {
		if h.descending {
			return a.Score > b.Score
		}
		return a.Score < b.Score
	}
	return a.ID < b.ID
}

func (h resultHeap) Len() int           { return len(h.items) }
func (h resultHeap) Less(i, j int) bool { return h.better(h.items[j], h.items[i]) }
func (h resultHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *resultHeap) Push(x any) {
	h.items = append(h.items, x.(Result))
}

func (h *resultHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

type mergeItem struct {
	res     Result
	listIdx int
	elemIdx int
}

type mergeHeap struct {
	descending bool
	items      []mergeItem
}

func (h mergeHeap) Len() int { return len(h.items) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h.items[i].res, h.items[j].res
	if a.Score != b.Score {
		if h.descending {
			return a.Score > b.Score
		}
		return a.Score < b.Score
	}
	return a.ID < b.ID
}
func (h mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x any) {
	h.items = append(h.items, x.(mergeItem))
}

func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
