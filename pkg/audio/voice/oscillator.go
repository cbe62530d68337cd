package voice

import (
	"errors"
	"fmt"

	"github.com/MrWong99/sonichess/pkg/audio"
	"github.com/MrWong99/sonichess/pkg/audio/envelope"
)

// Compile-time interface assertion.
var _ audio.Voice = (*Oscillator)(nil)

// Params describes an oscillator voice.
type Params struct {
	// Waveform selects the wavetable.
	Waveform Waveform

	// Frequency is the pitch in Hz. Must be > 0 and below Nyquist.
	Frequency float64

	// Gain scales the voice output; typically in [0, 1].
	Gain float64

	// Pan positions the voice in the stereo field: 0 left, 0.5 centre,
	// 1 right.
	Pan float64

	// Envelope shapes the amplitude over the note's lifetime.
	Envelope envelope.Params

	// SampleRate is the rate the voice renders at. Must be > 0.
	SampleRate float64
}

// Oscillator is a wavetable oscillator voice with an ADSR envelope. Build it
// on the control goroutine with [NewOscillator] and hand it to the mixer; from
// then on only the audio goroutine calls its methods.
type Oscillator struct {
	table        *Wavetable
	phase        float64
	inc          float64
	gain         float32
	gainL, gainR float32
	env          *envelope.ADSR
	params       Params
}

// NewOscillator validates p and returns an idle oscillator.
func NewOscillator(p Params) (*Oscillator, error) {
	if p.SampleRate <= 0 {
		return nil, errors.New("voice: sample rate must be > 0")
	}
	if p.Frequency <= 0 || p.Frequency >= p.SampleRate/2 {
		return nil, fmt.Errorf("voice: frequency %.2f Hz outside (0, %.0f)", p.Frequency, p.SampleRate/2)
	}
	l, r := audio.PanGains(p.Pan)
	return &Oscillator{
		table:  Table(p.Waveform),
		inc:    p.Frequency / p.SampleRate,
		gain:   float32(p.Gain),
		gainL:  l,
		gainR:  r,
		env:    envelope.New(p.SampleRate, p.Envelope),
		params: p,
	}, nil
}

// Params returns the parameters the oscillator was built with.
func (o *Oscillator) Params() Params { return o.params }

// Render implements [audio.Voice].
func (o *Oscillator) Render(acc *audio.Frame) {
	if o.env.Done() {
		return
	}
	s := o.table.At(o.phase) * float32(o.env.Next()) * o.gain
	acc.Add(s, o.gainL, o.gainR)
	o.phase += o.inc
	if o.phase >= 1 {
		o.phase -= 1
	}
}

// Active implements [audio.Voice]. An oscillator is active from NoteOn until
// its release has fully decayed.
func (o *Oscillator) Active() bool { return !o.env.Done() }

// NoteOn implements [audio.Voice].
func (o *Oscillator) NoteOn() { o.env.Trigger() }

// NoteOff implements [audio.Voice].
func (o *Oscillator) NoteOff() { o.env.Release() }
