package board

import (
	"math/rand/v2"
	"slices"
)

// Size is the board edge length.
const Size = 10

// Cell glyphs. These are the on-wire characters of the board rendering, used
// directly as the internal grid representation.
const (
	CellEmpty byte = '.'
	CellShip  byte = 'S'
	CellHit   byte = 'X'
	CellMiss  byte = 'o'
)

// Orientation of a ship run.
type Orientation int

const (
	Horizontal Orientation = iota
	Vertical
)

// ShipSpec is one catalogue entry.
type ShipSpec struct {
	Name   string
	Length int
}

// Catalogue is the fixed ship list, in placement order.
var Catalogue = []ShipSpec{
	{"Carrier", 5},
	{"Battleship", 4},
	{"Cruiser", 3},
	{"Submarine", 3},
	{"Destroyer", 2},
}

// PlacedShip tracks one ship on a board. Cells is the full original run;
// Remaining shrinks as hits land and an empty Remaining means sunk.
// Sorted slices, not sets: a ship is at most five cells.
type PlacedShip struct {
	Name      string  `cbor:"name"`
	Cells     []Coord `cbor:"cells"`
	Remaining []Coord `cbor:"remaining"`
}

// Sunk reports whether every cell of the ship has been hit.
func (s *PlacedShip) Sunk() bool {
	return len(s.Remaining) == 0
}

// FireResult classifies one shot.
type FireResult int

const (
	// FireInvalid means the coordinate is out of bounds.
	FireInvalid FireResult = iota
	// FireAlreadyShot means the cell was already a hit or a miss.
	FireAlreadyShot
	FireMiss
	FireHit
)

// Board is one player's grid plus ship bookkeeping. The hidden grid holds
// the truth (ships included); the display grid is the opponent-facing view
// and never contains a ship glyph. All operations are pure state mutations
// with no I/O; the caller serializes access.
type Board struct {
	hidden  [Size][Size]byte
	display [Size][Size]byte
	ships   []PlacedShip
}

// New creates an empty board.
func New() *Board {
	b := &Board{}
	for r := range Size {
		for c := range Size {
			b.hidden[r][c] = CellEmpty
			b.display[r][c] = CellEmpty
		}
	}
	return b
}

// CanPlace reports whether a ship of the given length fits at (row, col)
// with the given orientation: the whole run in bounds and every cell empty.
func (b *Board) CanPlace(row, col, length int, o Orientation) bool {
	if row < 0 || col < 0 || row >= Size || col >= Size {
		return false
	}
	if o == Horizontal {
		if col+length > Size {
			return false
		}
		for c := col; c < col+length; c++ {
			if b.hidden[row][c] != CellEmpty {
				return false
			}
		}
		return true
	}
	if row+length > Size {
		return false
	}
	for r := row; r < row+length; r++ {
		if b.hidden[r][col] != CellEmpty {
			return false
		}
	}
	return true
}

// Place marks the run on the hidden grid and records the ship. The caller
// must have checked CanPlace first.
func (b *Board) Place(name string, row, col, length int, o Orientation) {
	cells := make([]Coord, 0, length)
	if o == Horizontal {
		for c := col; c < col+length; c++ {
			b.hidden[row][c] = CellShip
			cells = append(cells, Coord{Row: row, Col: c})
		}
	} else {
		for r := row; r < row+length; r++ {
			b.hidden[r][col] = CellShip
			cells = append(cells, Coord{Row: r, Col: col})
		}
	}
	b.ships = append(b.ships, PlacedShip{
		Name:      name,
		Cells:     cells,
		Remaining: slices.Clone(cells),
	})
}

// PlaceRandom places every catalogue ship with uniform retry draws. With 17
// occupied cells on a 100-cell grid this terminates quickly with
// overwhelming probability.
func (b *Board) PlaceRandom(catalogue []ShipSpec) {
	for _, spec := range catalogue {
		b.PlaceRandomShip(spec)
	}
}

// PlaceRandomShip places a single ship at a random free position.
func (b *Board) PlaceRandomShip(spec ShipSpec) {
	for {
		o := Orientation(rand.IntN(2))
		row := rand.IntN(Size)
		col := rand.IntN(Size)
		if b.CanPlace(row, col, spec.Length, o) {
			b.Place(spec.Name, row, col, spec.Length, o)
			return
		}
	}
}

// FireAt resolves one shot at (row, col) and returns the outcome plus the
// sunk ship's name when this shot finished a ship.
func (b *Board) FireAt(row, col int) (FireResult, string) {
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return FireInvalid, ""
	}

	switch b.hidden[row][col] {
	case CellShip:
		b.hidden[row][col] = CellHit
		b.display[row][col] = CellHit
		return FireHit, b.markHit(row, col)
	case CellEmpty:
		b.hidden[row][col] = CellMiss
		b.display[row][col] = CellMiss
		return FireMiss, ""
	default:
		return FireAlreadyShot, ""
	}
}

// markHit drops (row, col) from the owning ship's Remaining and returns the
// ship name when that emptied it.
func (b *Board) markHit(row, col int) string {
	target := Coord{Row: row, Col: col}
	for i := range b.ships {
		ship := &b.ships[i]
		idx := slices.Index(ship.Remaining, target)
		if idx < 0 {
			continue
		}
		ship.Remaining = slices.Delete(ship.Remaining, idx, idx+1)
		if ship.Sunk() {
			return ship.Name
		}
		return ""
	}
	return ""
}

// AllSunk reports whether every placed ship has been fully hit.
func (b *Board) AllSunk() bool {
	for i := range b.ships {
		if !b.ships[i].Sunk() {
			return false
		}
	}
	return true
}

// Ships returns the placed ships (shared slice; callers must not mutate).
func (b *Board) Ships() []PlacedShip {
	return b.ships
}

// ShipCount returns how many ships have been placed.
func (b *Board) ShipCount() int {
	return len(b.ships)
}

// HiddenCell returns the truth glyph at (row, col).
func (b *Board) HiddenCell(row, col int) byte {
	return b.hidden[row][col]
}

// DisplayCell returns the opponent-facing glyph at (row, col).
func (b *Board) DisplayCell(row, col int) byte {
	return b.display[row][col]
}
