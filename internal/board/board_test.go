package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinate(t *testing.T) {
	cases := []struct {
		in      string
		row     int
		col     int
		wantErr bool
	}{
		{"A1", 0, 0, false},
		{"J10", 9, 9, false},
		{"B5", 1, 4, false},
		{"b5", 1, 4, false},
		{" C3 ", 2, 2, false},
		{"K1", 0, 0, true},
		{"A0", 0, 0, true},
		{"A11", 0, 0, true},
		{"", 0, 0, true},
		{"5A", 0, 0, true},
		{"A", 0, 0, true},
		{"AA", 0, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			coord, err := ParseCoordinate(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.row, coord.Row)
			assert.Equal(t, tc.col, coord.Col)
		})
	}
}

func TestFormatCoordinate(t *testing.T) {
	assert.Equal(t, "A1", FormatCoordinate(Coord{Row: 0, Col: 0}))
	assert.Equal(t, "B5", FormatCoordinate(Coord{Row: 1, Col: 4}))
	assert.Equal(t, "J10", FormatCoordinate(Coord{Row: 9, Col: 9}))
}

func TestCanPlace(t *testing.T) {
	b := New()

	assert.True(t, b.CanPlace(0, 0, 5, Horizontal))
	assert.True(t, b.CanPlace(0, 5, 5, Horizontal))
	assert.False(t, b.CanPlace(0, 6, 5, Horizontal), "run past the right edge")
	assert.True(t, b.CanPlace(5, 0, 5, Vertical))
	assert.False(t, b.CanPlace(6, 0, 5, Vertical), "run past the bottom edge")
	assert.False(t, b.CanPlace(-1, 0, 2, Horizontal))
	assert.False(t, b.CanPlace(0, -1, 2, Vertical))

	b.Place("Carrier", 0, 0, 5, Horizontal)
	assert.False(t, b.CanPlace(0, 4, 2, Horizontal), "overlap with placed ship")
	assert.False(t, b.CanPlace(0, 0, 2, Vertical), "overlap at the run start")
	assert.True(t, b.CanPlace(1, 0, 5, Horizontal))
}

func TestFireAtOutcomes(t *testing.T) {
	b := New()
	b.Place("Destroyer", 2, 2, 2, Horizontal) // C3, C4

	result, sunk := b.FireAt(-1, 0)
	assert.Equal(t, FireInvalid, result)
	assert.Empty(t, sunk)

	result, _ = b.FireAt(0, Size)
	assert.Equal(t, FireInvalid, result)

	result, sunk = b.FireAt(0, 0)
	assert.Equal(t, FireMiss, result)
	assert.Empty(t, sunk)
	assert.Equal(t, CellMiss, b.HiddenCell(0, 0))
	assert.Equal(t, CellMiss, b.DisplayCell(0, 0))

	result, _ = b.FireAt(0, 0)
	assert.Equal(t, FireAlreadyShot, result)

	result, sunk = b.FireAt(2, 2)
	assert.Equal(t, FireHit, result)
	assert.Empty(t, sunk, "first hit must not sink a two-cell ship")
	assert.Equal(t, CellHit, b.HiddenCell(2, 2))
	assert.Equal(t, CellHit, b.DisplayCell(2, 2))

	result, _ = b.FireAt(2, 2)
	assert.Equal(t, FireAlreadyShot, result)

	result, sunk = b.FireAt(2, 3)
	assert.Equal(t, FireHit, result)
	assert.Equal(t, "Destroyer", sunk)
	assert.True(t, b.AllSunk())
}

func TestCarrierSinkProgression(t *testing.T) {
	b := New()
	b.Place("Carrier", 0, 0, 5, Horizontal) // A1..A5

	for col := range 4 {
		result, sunk := b.FireAt(0, col)
		require.Equal(t, FireHit, result, "shot %d", col)
		require.Empty(t, sunk, "shot %d must not sink yet", col)
		require.False(t, b.AllSunk())
	}

	result, sunk := b.FireAt(0, 4)
	assert.Equal(t, FireHit, result)
	assert.Equal(t, "Carrier", sunk)
	assert.True(t, b.AllSunk())

	// Re-firing the sinking cell reports already-shot, not another sink.
	result, sunk = b.FireAt(0, 4)
	assert.Equal(t, FireAlreadyShot, result)
	assert.Empty(t, sunk)
}

func TestAllSunkMatchesInitialShipCells(t *testing.T) {
	b := New()
	b.PlaceRandom(Catalogue)

	var shipCells []Coord
	for r := range Size {
		for c := range Size {
			if b.HiddenCell(r, c) == CellShip {
				shipCells = append(shipCells, Coord{Row: r, Col: c})
			}
		}
	}
	require.Len(t, shipCells, 17, "catalogue occupies 17 cells")

	for i, cell := range shipCells {
		assert.False(t, b.AllSunk(), "not all sunk before shot %d", i)
		result, _ := b.FireAt(cell.Row, cell.Col)
		require.Equal(t, FireHit, result)
	}
	assert.True(t, b.AllSunk(), "all ship cells hit means all sunk")
}

func TestPlaceRandomFullCatalogue(t *testing.T) {
	for range 50 {
		b := New()
		b.PlaceRandom(Catalogue)

		require.Equal(t, len(Catalogue), b.ShipCount())

		ships := 0
		for r := range Size {
			for c := range Size {
				if b.HiddenCell(r, c) == CellShip {
					ships++
				}
			}
		}
		assert.Equal(t, 17, ships)
	}
}

func TestSnapshotRestoreRoundtrip(t *testing.T) {
	b := New()
	b.Place("Carrier", 0, 0, 5, Horizontal)
	b.Place("Destroyer", 5, 5, 2, Vertical)
	b.FireAt(0, 0) // hit
	b.FireAt(9, 9) // miss

	restored, err := Restore(b.Capture())
	require.NoError(t, err)

	// Behavioral equivalence: every coordinate resolves identically.
	other, err := Restore(b.Capture())
	require.NoError(t, err)
	for r := range Size {
		for c := range Size {
			wantResult, wantSunk := other.FireAt(r, c)
			gotResult, gotSunk := restored.FireAt(r, c)
			assert.Equal(t, wantResult, gotResult, "fire result at (%d,%d)", r, c)
			assert.Equal(t, wantSunk, gotSunk, "sunk name at (%d,%d)", r, c)
		}
	}
	assert.Equal(t, other.AllSunk(), restored.AllSunk())
}

func TestSnapshotIsDetachedCopy(t *testing.T) {
	b := New()
	b.Place("Destroyer", 0, 0, 2, Horizontal)
	snap := b.Capture()

	b.FireAt(0, 0)

	restored, err := Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, CellShip, restored.HiddenCell(0, 0), "snapshot must not see later mutations")
}

func TestSnapshotEncodeDecode(t *testing.T) {
	b := New()
	b.PlaceRandom(Catalogue)
	b.FireAt(0, 0)
	b.FireAt(5, 5)

	blob, err := EncodeSnapshot(b.Capture())
	require.NoError(t, err)

	snap, err := DecodeSnapshot(blob)
	require.NoError(t, err)

	restored, err := Restore(snap)
	require.NoError(t, err)
	for r := range Size {
		for c := range Size {
			assert.Equal(t, b.HiddenCell(r, c), restored.HiddenCell(r, c))
			assert.Equal(t, b.DisplayCell(r, c), restored.DisplayCell(r, c))
		}
	}
	assert.Equal(t, b.ShipCount(), restored.ShipCount())
}

func TestRestoreRejectsMalformedSnapshot(t *testing.T) {
	_, err := Restore(Snapshot{Size: 8})
	assert.Error(t, err)

	snap := New().Capture()
	snap.Hidden = snap.Hidden[:5]
	_, err = Restore(snap)
	assert.Error(t, err)
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte("definitely not cbor"))
	assert.Error(t, err)
}
