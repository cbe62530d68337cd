// Package mock provides an in-memory mock implementation of [audio.Voice] for
// use in unit tests.
//
// The mock records every method call so that tests can assert on call counts
// and ordering, and exposes exported fields that the test can set to control
// what it renders and whether it reports itself active.
//
// Typical usage:
//
//	v := &mock.Voice{Level: 4}
//	h, err := proc.AddVoice(v, &audio.Trigger{NoteOn: 10, NoteOff: 50, Remove: 100})
//	// ... process blocks ...
//	if v.NoteOffCount() != 1 { ... }
package mock

import (
	"sync"

	"github.com/MrWong99/sonichess/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Voice = (*Voice)(nil)

// Call names recorded in [Voice.Calls].
const (
	CallNoteOn  = "NoteOn"
	CallNoteOff = "NoteOff"
)

// Voice is a mock implementation of [audio.Voice].
//
// Once NoteOn has been called, every Render adds Level to both channels of
// the accumulator, including after NoteOff, which models a release tail.
// Giving each voice a distinct power-of-two Level lets a test decode exactly
// which voices contributed to a rendered sample.
type Voice struct {
	mu sync.Mutex

	// Level is added to L and R on every Render after NoteOn.
	Level float32

	// Inactive makes Active report false. Use [Voice.SetInactive] once the
	// voice has been handed to a mixer that runs on another goroutine.
	Inactive bool

	started bool

	// CallCountRender records how many times Render was called.
	CallCountRender int

	// Calls records NoteOn/NoteOff invocations in order.
	Calls []string
}

// Render implements [audio.Voice].
func (v *Voice) Render(acc *audio.Frame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.CallCountRender++
	if v.started {
		acc.L += v.Level
		acc.R += v.Level
	}
}

// Active implements [audio.Voice]. Returns !Inactive.
func (v *Voice) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.Inactive
}

// NoteOn implements [audio.Voice].
func (v *Voice) NoteOn() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.started = true
	v.Calls = append(v.Calls, CallNoteOn)
}

// NoteOff implements [audio.Voice].
func (v *Voice) NoteOff() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls = append(v.Calls, CallNoteOff)
}

// SetInactive sets the value reported by Active.
func (v *Voice) SetInactive(inactive bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Inactive = inactive
}

// NoteOnCount returns how many times NoteOn was called.
func (v *Voice) NoteOnCount() int { return v.count(CallNoteOn) }

// NoteOffCount returns how many times NoteOff was called.
func (v *Voice) NoteOffCount() int { return v.count(CallNoteOff) }

// RecordedCalls returns a copy of the NoteOn/NoteOff call log.
func (v *Voice) RecordedCalls() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.Calls))
	copy(out, v.Calls)
	return out
}

// RenderCount returns how many times Render was called.
func (v *Voice) RenderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.CallCountRender
}

func (v *Voice) count(name string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, c := range v.Calls {
		if c == name {
			n++
		}
	}
	return n
}
