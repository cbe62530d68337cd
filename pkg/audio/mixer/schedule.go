package mixer

// schedule maps absolute sample indices to pending voice transitions. It keeps
// one heap per transition kind, the equivalent of three parallel maps keyed
// by index, so that finding the due entries for the current index costs one
// peek per kind regardless of how many entries were ever scheduled.
//
// Entries for unrelated voices that land on the same index are all kept and
// all fire; nothing is deduplicated.
//
// Owned by the audio goroutine.
type schedule struct {
	heaps [numKinds]triggerHeap
	seq   uint64
}

func newSchedule(capacity int) schedule {
	var s schedule
	for k := range s.heaps {
		s.heaps[k] = make(triggerHeap, 0, capacity)
	}
	return s
}

// add schedules a kind transition for slot at index.
func (s *schedule) add(kind triggerKind, index int64, slot int32) {
	s.seq++
	s.heaps[kind].push(entry{index: index, seq: s.seq, slot: slot})
}

// due pops the next entry of kind whose index is at or before now. ok is
// false once no such entry remains.
func (s *schedule) due(kind triggerKind, now int64) (slot int32, ok bool) {
	h := &s.heaps[kind]
	e, ok := h.peek()
	if !ok || e.index > now {
		return 0, false
	}
	return h.pop().slot, true
}

// next returns the earliest pending index across all kinds.
func (s *schedule) next() (int64, bool) {
	var (
		best  int64
		found bool
	)
	for k := range s.heaps {
		if e, ok := s.heaps[k].peek(); ok && (!found || e.index < best) {
			best, found = e.index, true
		}
	}
	return best, found
}

// len returns the number of pending entries across all kinds.
func (s *schedule) len() int {
	n := 0
	for k := range s.heaps {
		n += len(s.heaps[k])
	}
	return n
}
