package sonify

import (
	"context"
	"errors"
	"math"

	"github.com/MrWong99/sonichess/internal/chess"
	"github.com/MrWong99/sonichess/pkg/audio/voice"
)

// MelodyName is the registry name of the [Melody] sonifier.
const MelodyName = "melody"

const (
	// captureFrequency is the low C played under a capture.
	captureFrequency = 65.41

	// alarmHigh and alarmLow are the two tones of the check alarm.
	alarmHigh = 880.0
	alarmLow  = 660.0
)

// pieceWaveforms gives each piece type its own timbre. Pawns use the
// configured default.
var pieceWaveforms = map[chess.PieceType]voice.Waveform{
	chess.Knight: voice.Triangle,
	chess.Bishop: voice.Triangle,
	chess.Rook:   voice.Square,
	chess.Queen:  voice.Saw,
	chess.King:   voice.Square,
}

// Melody plays one note per move: the destination file picks the scale
// degree, the rank picks the octave and the piece type picks the timbre.
// A capture adds a low note underneath and a check adds a two-tone alarm
// after the move.
type Melody struct {
	*base
}

// Compile-time interface assertion.
var _ Sonifier = (*Melody)(nil)

// NewMelody returns a melody sonifier scheduling voices on m.
func NewMelody(m Mixer, p Params, opts ...Option) (*Melody, error) {
	b, err := newBase(MelodyName, m, p, opts)
	if err != nil {
		return nil, err
	}
	return &Melody{base: b}, nil
}

// OnEvent implements [Sonifier].
func (s *Melody) OnEvent(ctx context.Context, e chess.Event) (err error) {
	ctx, span, start := s.begin(ctx, e)
	defer func() { s.end(ctx, span, start, err) }()

	if err := s.validate(e); err != nil {
		return err
	}
	if e.Kind == chess.EventReset {
		return s.silence()
	}
	s.prune()

	var errs []error
	for _, n := range s.notes(e) {
		if err := s.play(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notes lists the voices e should produce, in onset order.
func (s *Melody) notes(e chess.Event) []note {
	length := s.params.NoteLength
	wf, ok := pieceWaveforms[e.Piece.Type]
	if !ok {
		wf = s.params.Waveform
	}

	out := []note{{
		waveform:  wf,
		frequency: MelodyFrequency(e.To),
		gain:      0.8,
		pan:       float64(e.To.File) / 7,
		length:    length,
	}}
	if e.Capture {
		out = append(out, note{
			waveform:  voice.Saw,
			frequency: captureFrequency,
			gain:      0.6,
			pan:       0.5,
			length:    length,
		})
	}
	if e.Check {
		half := length / 2
		out = append(out,
			note{waveform: voice.Square, frequency: alarmHigh, gain: 0.4, pan: 0.5, at: length, length: half},
			note{waveform: voice.Square, frequency: alarmLow, gain: 0.4, pan: 0.5, at: length + half, length: half},
		)
	}
	return out
}

// MelodyFrequency returns the pitch for a move to sq: the board scale note
// for its file, one octave down on ranks 1-2 and one octave up on ranks 7-8.
func MelodyFrequency(sq chess.Square) float64 {
	octave := 0.0
	switch {
	case sq.Rank <= 1:
		octave = -1
	case sq.Rank >= 6:
		octave = 1
	}
	return boardFrequencies[sq.File] * math.Exp2(octave)
}
