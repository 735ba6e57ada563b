package board

import (
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is a value capture of a board, carrying everything needed to
// resume a game mid-turn. It serializes with CBOR for parking in the
// presence registry.
type Snapshot struct {
	Size    int          `cbor:"size"`
	Hidden  [][]byte     `cbor:"hidden"`
	Display [][]byte     `cbor:"display"`
	Ships   []PlacedShip `cbor:"ships"`
}

// Capture snapshots the board's full state.
func (b *Board) Capture() Snapshot {
	snap := Snapshot{
		Size:    Size,
		Hidden:  make([][]byte, Size),
		Display: make([][]byte, Size),
		Ships:   make([]PlacedShip, len(b.ships)),
	}
	for r := range Size {
		snap.Hidden[r] = slices.Clone(b.hidden[r][:])
		snap.Display[r] = slices.Clone(b.display[r][:])
	}
	for i := range b.ships {
		snap.Ships[i] = PlacedShip{
			Name:      b.ships[i].Name,
			Cells:     slices.Clone(b.ships[i].Cells),
			Remaining: slices.Clone(b.ships[i].Remaining),
		}
	}
	return snap
}

// Restore builds a board behaviorally equivalent to the one the snapshot
// was captured from.
func Restore(snap Snapshot) (*Board, error) {
	if snap.Size != Size {
		return nil, fmt.Errorf("restoring board: size %d, expected %d", snap.Size, Size)
	}
	if len(snap.Hidden) != Size || len(snap.Display) != Size {
		return nil, fmt.Errorf("restoring board: malformed grids")
	}

	b := New()
	for r := range Size {
		if len(snap.Hidden[r]) != Size || len(snap.Display[r]) != Size {
			return nil, fmt.Errorf("restoring board: malformed row %d", r)
		}
		copy(b.hidden[r][:], snap.Hidden[r])
		copy(b.display[r][:], snap.Display[r])
	}
	b.ships = make([]PlacedShip, len(snap.Ships))
	for i, ship := range snap.Ships {
		b.ships[i] = PlacedShip{
			Name:      ship.Name,
			Cells:     slices.Clone(ship.Cells),
			Remaining: slices.Clone(ship.Remaining),
		}
	}
	return b, nil
}

// EncodeSnapshot serializes a snapshot for parking.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	data, err := cbor.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
