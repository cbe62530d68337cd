// Package chess defines the game-event model that drives sonification.
//
// It knows squares, pieces and board snapshots well enough to turn a move
// into sound. It does not know the rules of chess: legality, check detection
// and game state are the responsibility of whatever produces the events.
package chess

import (
	"fmt"
	"strings"
)

// Color is the side a piece belongs to.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// IsValid reports whether c is a recognised color.
func (c Color) IsValid() bool { return c == White || c == Black }

// PieceType classifies a piece.
type PieceType string

const (
	Pawn   PieceType = "pawn"
	Knight PieceType = "knight"
	Bishop PieceType = "bishop"
	Rook   PieceType = "rook"
	Queen  PieceType = "queen"
	King   PieceType = "king"
)

// IsValid reports whether t is a recognised piece type.
func (t PieceType) IsValid() bool {
	switch t {
	case Pawn, Knight, Bishop, Rook, Queen, King:
		return true
	}
	return false
}

// Piece is a colored piece.
type Piece struct {
	Color Color     `json:"color" yaml:"color"`
	Type  PieceType `json:"type" yaml:"type"`
}

// String returns the FEN letter for p: upper case for white, lower case for
// black.
func (p Piece) String() string {
	var r byte
	switch p.Type {
	case Pawn:
		r = 'p'
	case Knight:
		r = 'n'
	case Bishop:
		r = 'b'
	case Rook:
		r = 'r'
	case Queen:
		r = 'q'
	case King:
		r = 'k'
	default:
		return "?"
	}
	if p.Color == White {
		r -= 'a' - 'A'
	}
	return string(r)
}

// pieceFromFEN maps a FEN piece letter to a [Piece].
func pieceFromFEN(r rune) (Piece, bool) {
	color := Black
	if r >= 'A' && r <= 'Z' {
		color = White
		r += 'a' - 'A'
	}
	var t PieceType
	switch r {
	case 'p':
		t = Pawn
	case 'n':
		t = Knight
	case 'b':
		t = Bishop
	case 'r':
		t = Rook
	case 'q':
		t = Queen
	case 'k':
		t = King
	default:
		return Piece{}, false
	}
	return Piece{Color: color, Type: t}, true
}

// Square is a board coordinate. File 0 is the a-file and Rank 0 is the first
// rank, so "a1" is {0, 0} and "h8" is {7, 7}.
type Square struct {
	File int
	Rank int
}

// ParseSquare parses algebraic notation such as "e4". Upper-case files are
// accepted.
func ParseSquare(s string) (Square, error) {
	if len(s) != 2 {
		return Square{}, fmt.Errorf("chess: square %q: want file and rank, e.g. \"e4\"", s)
	}
	file := int(strings.ToLower(s[:1])[0]) - 'a'
	rank := int(s[1]) - '1'
	sq := Square{File: file, Rank: rank}
	if !sq.IsValid() {
		return Square{}, fmt.Errorf("chess: square %q is off the board", s)
	}
	return sq, nil
}

// IsValid reports whether sq lies on the board.
func (sq Square) IsValid() bool {
	return sq.File >= 0 && sq.File < 8 && sq.Rank >= 0 && sq.Rank < 8
}

// String returns sq in algebraic notation.
func (sq Square) String() string {
	if !sq.IsValid() {
		return "-"
	}
	return string([]byte{byte('a' + sq.File), byte('1' + sq.Rank)})
}

// MarshalText implements [encoding.TextMarshaler].
func (sq Square) MarshalText() ([]byte, error) {
	if !sq.IsValid() {
		return nil, fmt.Errorf("chess: square {%d %d} is off the board", sq.File, sq.Rank)
	}
	return []byte(sq.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (sq *Square) UnmarshalText(b []byte) error {
	parsed, err := ParseSquare(string(b))
	if err != nil {
		return err
	}
	*sq = parsed
	return nil
}

// Placement is a piece standing on a square.
type Placement struct {
	Square Square
	Piece  Piece
}

// ParsePlacement parses the piece-placement field of a FEN record, e.g.
// "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR". A full FEN record is
// accepted; everything after the first space is ignored. Placements are
// returned from a8 to h1, the order FEN lists them in.
func ParsePlacement(fen string) ([]Placement, error) {
	field, _, _ := strings.Cut(strings.TrimSpace(fen), " ")
	rows := strings.Split(field, "/")
	if len(rows) != 8 {
		return nil, fmt.Errorf("chess: placement %q: want 8 ranks, got %d", field, len(rows))
	}

	var out []Placement
	for i, row := range rows {
		rank := 7 - i
		file := 0
		for _, r := range row {
			if r >= '1' && r <= '8' {
				file += int(r - '0')
				continue
			}
			p, ok := pieceFromFEN(r)
			if !ok {
				return nil, fmt.Errorf("chess: placement rank %d: unknown piece %q", rank+1, r)
			}
			if file >= 8 {
				return nil, fmt.Errorf("chess: placement rank %d: more than 8 files", rank+1)
			}
			out = append(out, Placement{Square: Square{File: file, Rank: rank}, Piece: p})
			file++
		}
		if file != 8 {
			return nil, fmt.Errorf("chess: placement rank %d: %d files, want 8", rank+1, file)
		}
	}
	return out, nil
}
