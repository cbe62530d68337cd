// Package voice provides the concrete [audio.Voice] implementations used by
// sonichess sonifiers: a wavetable oscillator with an ADSR envelope and
// equal-power panning.
package voice

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// tableSize is the number of samples in one wavetable cycle.
const tableSize = 2048

// Waveform selects the shape of an oscillator's wavetable.
type Waveform int

const (
	Sine Waveform = iota
	Saw
	Square
	Triangle
)

// String returns the lower-case name used in configuration files.
func (w Waveform) String() string {
	switch w {
	case Sine:
		return "sine"
	case Saw:
		return "saw"
	case Square:
		return "square"
	case Triangle:
		return "triangle"
	default:
		return "unknown"
	}
}

// Waveforms lists every supported waveform name.
var Waveforms = []string{"sine", "saw", "square", "triangle"}

// ParseWaveform maps a configuration name to a [Waveform].
func ParseWaveform(s string) (Waveform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sine", "":
		return Sine, nil
	case "saw", "sawtooth":
		return Saw, nil
	case "square", "sqr":
		return Square, nil
	case "triangle", "tri":
		return Triangle, nil
	}
	return Sine, fmt.Errorf("voice: unknown waveform %q", s)
}

// Wavetable holds one cycle of a waveform. Tables are read-only after
// construction and shared between voices.
type Wavetable struct {
	// samples has one guard sample appended so interpolation never wraps.
	samples [tableSize + 1]float32
}

var (
	tablesOnce sync.Once
	tables     [4]*Wavetable
)

// Table returns the shared wavetable for w. Tables are built on first use;
// call it from the control goroutine when constructing voices so the audio
// goroutine never pays for the build.
func Table(w Waveform) *Wavetable {
	tablesOnce.Do(func() {
		for i := range tables {
			tables[i] = build(Waveform(i))
		}
	})
	if w < 0 || int(w) >= len(tables) {
		w = Sine
	}
	return tables[w]
}

func build(w Waveform) *Wavetable {
	t := &Wavetable{}
	for i := range tableSize {
		phase := float64(i) / tableSize
		var v float64
		switch w {
		case Saw:
			v = 2*phase - 1
		case Square:
			v = 1
			if phase >= 0.5 {
				v = -1
			}
		case Triangle:
			v = 1 - 4*math.Abs(phase-0.5)
		default:
			v = math.Sin(2 * math.Pi * phase)
		}
		t.samples[i] = float32(v)
	}
	t.samples[tableSize] = t.samples[0]
	return t
}

// At returns the linearly interpolated table value at phase in [0, 1).
func (t *Wavetable) At(phase float64) float32 {
	pos := phase * tableSize
	i := int(pos)
	if i < 0 || i >= tableSize {
		i = 0
		pos = 0
	}
	frac := float32(pos - float64(i))
	a, b := t.samples[i], t.samples[i+1]
	return a + (b-a)*frac
}
