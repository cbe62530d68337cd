package chess

import (
	"errors"
	"fmt"
)

// EventKind classifies a game event.
type EventKind string

const (
	// EventMove is a piece moving from one square to another.
	EventMove EventKind = "move"

	// EventReset clears the game, e.g. when a new game starts. Sonifiers
	// silence everything they are playing.
	EventReset EventKind = "reset"
)

// IsValid reports whether k is a recognised event kind.
func (k EventKind) IsValid() bool { return k == EventMove || k == EventReset }

// Event is a single game event as delivered by the feed.
type Event struct {
	// Kind is the event type.
	Kind EventKind `json:"kind"`

	// Piece is the piece that moved. Required for moves.
	Piece Piece `json:"piece"`

	// From and To are the origin and destination squares of a move.
	From Square `json:"from"`
	To   Square `json:"to"`

	// Capture reports whether the move took a piece.
	Capture bool `json:"capture,omitempty"`

	// Check reports whether the move gives check.
	Check bool `json:"check,omitempty"`

	// Board is the FEN piece placement after the move. Optional; sonifiers
	// that render the whole board skip events without one.
	Board string `json:"board,omitempty"`
}

// Placements parses e.Board. It returns nil without error when the event
// carries no snapshot.
func (e Event) Placements() ([]Placement, error) {
	if e.Board == "" {
		return nil, nil
	}
	return ParsePlacement(e.Board)
}

// Validate checks e for a known kind and, for moves, a complete piece and
// distinct on-board squares. All problems are reported together.
func Validate(e Event) error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("kind %q is not a recognised event kind", e.Kind)
	}
	if e.Kind == EventReset {
		return nil
	}

	var errs []error
	if !e.Piece.Color.IsValid() {
		errs = append(errs, fmt.Errorf("piece color %q is not recognised", e.Piece.Color))
	}
	if !e.Piece.Type.IsValid() {
		errs = append(errs, fmt.Errorf("piece type %q is not recognised", e.Piece.Type))
	}
	if !e.From.IsValid() || !e.To.IsValid() {
		errs = append(errs, errors.New("from and to must be on the board"))
	} else if e.From == e.To {
		errs = append(errs, fmt.Errorf("from and to are both %s", e.From))
	}
	if e.Board != "" {
		if _, err := ParsePlacement(e.Board); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
