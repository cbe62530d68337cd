package mixer

import (
	"fmt"

	"github.com/MrWong99/sonichess/pkg/audio"
)

// Handle identifies a voice registered with a [Processor]. It pairs a slot
// index with a generation so that a handle to a voice that has already been
// reclaimed never aliases the slot's next occupant. The zero Handle is
// invalid.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero (invalid) handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

// String returns a compact "index:generation" form for logs.
func (h Handle) String() string { return fmt.Sprintf("%d:%d", h.index, h.gen) }

// arena is the control-side table of voices. Slots are allocated by AddVoice
// and released only after the audio goroutine has retired them. It is
// guarded by Processor.ctrlMu.
type arena struct {
	voices []audio.Voice
	gens   []uint32
	free   []uint32 // stack of free slot indices
}

func newArena(capacity int) *arena {
	a := &arena{
		voices: make([]audio.Voice, capacity),
		gens:   make([]uint32, capacity),
		free:   make([]uint32, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		a.gens[i] = 1
		a.free = append(a.free, uint32(i))
	}
	return a
}

// alloc stores v in a free slot and returns its handle.
func (a *arena) alloc(v audio.Voice) (Handle, bool) {
	n := len(a.free)
	if n == 0 {
		return Handle{}, false
	}
	idx := a.free[n-1]
	a.free = a.free[:n-1]
	a.voices[idx] = v
	return Handle{index: idx, gen: a.gens[idx]}, true
}

// owns reports whether h refers to the current occupant of its slot.
func (a *arena) owns(h Handle) bool {
	return int(h.index) < len(a.voices) && a.gens[h.index] == h.gen && a.voices[h.index] != nil
}

// lookup returns the voice behind h, if h is still current.
func (a *arena) lookup(h Handle) (audio.Voice, bool) {
	if !a.owns(h) {
		return nil, false
	}
	return a.voices[h.index], true
}

// release frees h's slot and bumps its generation. Releasing a stale handle
// is a no-op.
func (a *arena) release(h Handle) bool {
	if !a.owns(h) {
		return false
	}
	a.voices[h.index] = nil
	a.gens[h.index]++
	if a.gens[h.index] == 0 {
		a.gens[h.index] = 1
	}
	a.free = append(a.free, h.index)
	return true
}

// inUse returns the number of allocated slots.
func (a *arena) inUse() int { return len(a.voices) - len(a.free) }

// capacity returns the total number of slots.
func (a *arena) capacity() int { return len(a.voices) }
