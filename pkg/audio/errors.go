package audio

import "errors"

var (
	// ErrQueueFull is returned when a command queue has no free slot. The
	// request was not enqueued; the caller may retry on a later block or drop
	// the event.
	ErrQueueFull = errors.New("audio: command queue full")

	// ErrArenaFull is returned when every voice slot is in use.
	ErrArenaFull = errors.New("audio: no free voice slot")

	// ErrNilVoice is returned when a nil voice is handed to the mixer.
	ErrNilVoice = errors.New("audio: nil voice")

	// ErrInvalidHandle is returned for the zero handle or one that was never
	// issued by the mixer.
	ErrInvalidHandle = errors.New("audio: invalid voice handle")
)
