package sonify

import (
	"context"
	"errors"

	"github.com/MrWong99/sonichess/internal/chess"
)

// BoardName is the registry name of the [Board] sonifier.
const BoardName = "board"

// Scale and level tables indexed by file and rank.
var (
	// boardFrequencies is a C major scale from middle C, one note per file.
	boardFrequencies = [8]float64{262, 294.8, 327.5, 349.3, 393, 436.7, 491.2, 524}

	// boardGains is louder at the edges of the board than in the centre.
	boardGains = [8]float64{1, 0.8, 0.6, 0.4, 0.4, 0.6, 0.8, 1}

	// boardPans are the positions a piece may be placed at.
	boardPans = [8]float64{0, 0.2, 0.4, 0.5, 0.5, 0.6, 0.8, 1}
)

// Board plays the whole position after every move: one note per piece,
// pitched by file, levelled by rank and placed at a random pan position.
// Moves without a board snapshot play just the moving piece on its
// destination square.
//
// The notes of a position sustain until the next move, which releases them
// so they fade out over the envelope release while the new position starts.
// A reset cuts everything off.
type Board struct {
	*base
}

// Compile-time interface assertion.
var _ Sonifier = (*Board)(nil)

// NewBoard returns a board sonifier scheduling voices on m.
func NewBoard(m Mixer, p Params, opts ...Option) (*Board, error) {
	b, err := newBase(BoardName, m, p, opts)
	if err != nil {
		return nil, err
	}
	return &Board{base: b}, nil
}

// OnEvent implements [Sonifier].
func (s *Board) OnEvent(ctx context.Context, e chess.Event) (err error) {
	ctx, span, start := s.begin(ctx, e)
	defer func() { s.end(ctx, span, start, err) }()

	if err := s.validate(e); err != nil {
		return err
	}
	if e.Kind == chess.EventReset {
		return s.silence()
	}
	placements, err := e.Placements()
	if err != nil {
		return err
	}
	if placements == nil {
		placements = []chess.Placement{{Square: e.To, Piece: e.Piece}}
	}

	s.prune()
	var errs []error
	if err := s.releaseHeld(); err != nil {
		errs = append(errs, err)
	}
	for _, pl := range placements {
		if err := s.play(ctx, s.pieceNote(pl)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Board) pieceNote(pl chess.Placement) note {
	return note{
		waveform:  s.params.Waveform,
		frequency: boardFrequencies[pl.Square.File],
		gain:      boardGains[pl.Square.Rank],
		pan:       boardPans[s.intN(len(boardPans))],
	}
}
