// Package audio defines the types shared by the sonichess real-time audio
// core: the [Voice] capability interface, the stereo [Frame] accumulator that
// voices render into, and [Trigger] offsets used to schedule sample-accurate
// note transitions.
//
// Concrete voices live in audio/voice, the scheduler and renderer in
// audio/mixer. This package lives under pkg/ because sonifier policies outside
// this module are expected to implement [Voice].
package audio

// Voice is a single sound-producing unit with its own synthesis and envelope
// state.
//
// Once a Voice has been handed to the mixer it is owned by the audio
// goroutine: all four methods are called from the render loop only, and the
// caller that constructed the voice must not touch it again.
type Voice interface {
	// Render adds the voice's next sample additively into acc. It must not
	// allocate, block, or perform I/O. An inactive voice renders silence.
	Render(acc *Frame)

	// Active reports whether the voice is still sounding. Once it returns
	// false the voice has naturally concluded and is evicted from the live
	// registry on the next maintenance sweep.
	Active() bool

	// NoteOn starts (or restarts) the voice.
	NoteOn()

	// NoteOff begins the release stage. The voice keeps rendering until its
	// release has decayed and Active returns false.
	NoteOff()
}
