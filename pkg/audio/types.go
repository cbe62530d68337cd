package audio

import (
	"math"
	"time"
)

// Frame is a single stereo sample accumulator. Voices add their output into
// it; the mixer applies master gain and spreads it across output channels.
type Frame struct {
	L, R float32
}

// Add accumulates a mono sample s panned by the precomputed channel gains.
func (f *Frame) Add(s, gainL, gainR float32) {
	f.L += s * gainL
	f.R += s * gainR
}

// Mono returns the average of both channels.
func (f Frame) Mono() float32 { return (f.L + f.R) * 0.5 }

// PanGains returns equal-power left/right gains for pan in [0, 1], where 0 is
// hard left, 0.5 centre and 1 hard right. Values outside the range are
// clamped.
func PanGains(pan float64) (left, right float32) {
	pan = min(max(pan, 0), 1)
	theta := pan * math.Pi / 2
	return float32(math.Cos(theta)), float32(math.Sin(theta))
}

// Trigger carries three sample offsets, relative to the mixer's sample
// counter at the moment the insert command is processed, at which a voice is
// started, released and disposed of.
//
// NoteOn ≤ NoteOff ≤ Remove is the caller's responsibility; the scheduler
// fires each transition independently when its index is reached.
type Trigger struct {
	NoteOn  uint32
	NoteOff uint32
	Remove  uint32
}

// TriggerAfter converts wall-clock offsets into a [Trigger] at sampleRate.
// Negative durations are treated as zero.
func TriggerAfter(sampleRate float64, noteOn, noteOff, remove time.Duration) Trigger {
	return Trigger{
		NoteOn:  Samples(sampleRate, noteOn),
		NoteOff: Samples(sampleRate, noteOff),
		Remove:  Samples(sampleRate, remove),
	}
}

// Samples converts d into a whole number of samples at sampleRate, rounding
// to the nearest sample and saturating at the uint32 range.
func Samples(sampleRate float64, d time.Duration) uint32 {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	n := math.Round(d.Seconds() * sampleRate)
	if n >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
