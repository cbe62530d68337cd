package mixer

import "container/heap"

// triggerKind identifies which transition a schedule entry fires. The
// numeric order is also the firing order within one sample index.
type triggerKind int

const (
	kindOn triggerKind = iota
	kindOff
	kindRemove

	numKinds
)

// String returns the human-readable name of the trigger kind.
func (k triggerKind) String() string {
	switch k {
	case kindOn:
		return "ON"
	case kindOff:
		return "OFF"
	case kindRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// entry is a pending transition for the voice in slot at absolute sample
// index. The seq field provides FIFO ordering among entries that share an
// index.
type entry struct {
	index int64
	seq   uint64
	slot  int32
}

// triggerHeap implements [container/heap.Interface] as a min-heap ordered by
// index (ascending), with FIFO tie-breaking on seq (ascending).
//
// push and pop bypass heap.Push/heap.Pop so entries are never boxed into an
// interface value; with the backing array pre-sized, neither allocates.
type triggerHeap []entry

func (h triggerHeap) Len() int { return len(h) }

// Less reports whether element i is due before element j.
func (h triggerHeap) Less(i, j int) bool {
	if h[i].index != h[j].index {
		return h[i].index < h[j].index
	}
	return h[i].seq < h[j].seq
}

func (h triggerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push and Pop satisfy heap.Interface; callers use push and pop instead.
func (h *triggerHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *triggerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// push inserts e, restoring the heap invariant.
func (h *triggerHeap) push(e entry) {
	*h = append(*h, e)
	heap.Fix(h, len(*h)-1)
}

// peek returns the earliest entry without removing it.
func (h triggerHeap) peek() (entry, bool) {
	if len(h) == 0 {
		return entry{}, false
	}
	return h[0], true
}

// pop removes and returns the earliest entry.
func (h *triggerHeap) pop() entry {
	old := *h
	n := len(old) - 1
	old.Swap(0, n)
	e := old[n]
	*h = old[:n]
	if n > 0 {
		heap.Fix(h, 0)
	}
	return e
}
