package mixer

// registry is the set of slots whose voices are currently rendered. It is a
// dense member list plus a position index, giving O(1) add and remove
// without allocating. Owned by the audio goroutine.
type registry struct {
	members []int32
	pos     []int32 // position in members, or -1
}

func newRegistry(capacity int) registry {
	r := registry{
		members: make([]int32, 0, capacity),
		pos:     make([]int32, capacity),
	}
	for i := range r.pos {
		r.pos[i] = -1
	}
	return r
}

// add inserts slot. Adding a member twice is a no-op.
func (r *registry) add(slot int32) bool {
	if r.pos[slot] >= 0 {
		return false
	}
	r.pos[slot] = int32(len(r.members))
	r.members = append(r.members, slot)
	return true
}

// remove erases slot by swapping the last member into its place. Removing a
// non-member is a no-op.
func (r *registry) remove(slot int32) bool {
	p := r.pos[slot]
	if p < 0 {
		return false
	}
	last := int32(len(r.members) - 1)
	moved := r.members[last]
	r.members[p] = moved
	r.pos[moved] = p
	r.members = r.members[:last]
	r.pos[slot] = -1
	return true
}

// len returns the number of live slots.
func (r *registry) len() int { return len(r.members) }
