package board

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHeaderRowExact(t *testing.T) {
	b := New()
	lines := strings.Split(b.RenderOwn(), "\n")
	require.GreaterOrEqual(t, len(lines), Size+1)

	// Three-space gutter, then 1..10 each centered in a 3-wide field, the
	// odd leftover space landing on the left.
	assert.Equal(t, "    1  2  3  4  5  6  7  8  9  10", lines[0])
}

func TestRenderEmptyRowExact(t *testing.T) {
	b := New()
	lines := strings.Split(b.RenderOwn(), "\n")

	assert.Equal(t, "A   .  .  .  .  .  .  .  .  .  . ", lines[1])
	assert.Equal(t, "J   .  .  .  .  .  .  .  .  .  . ", lines[10])
}

func TestRenderOwnShowsShips(t *testing.T) {
	b := New()
	b.Place("Destroyer", 0, 0, 2, Horizontal)

	lines := strings.Split(b.RenderOwn(), "\n")
	assert.Equal(t, "A   S  S  .  .  .  .  .  .  .  . ", lines[1])
}

func TestRenderMaskedNeverShowsShips(t *testing.T) {
	b := New()
	b.PlaceRandom(Catalogue)
	b.FireAt(0, 0)
	b.FireAt(5, 5)

	masked := b.RenderMasked()
	assert.NotContains(t, masked, "S", "masked view must never reveal a ship")
}

func TestRenderMaskedShowsHitsAndMisses(t *testing.T) {
	b := New()
	b.Place("Destroyer", 0, 0, 2, Horizontal)
	b.FireAt(0, 0) // hit at A1
	b.FireAt(1, 1) // miss at B2

	lines := strings.Split(b.RenderMasked(), "\n")
	assert.Equal(t, "A   X  .  .  .  .  .  .  .  .  . ", lines[1])
	assert.Equal(t, "B   .  o  .  .  .  .  .  .  .  . ", lines[2])
}

func TestSunkShipsInfo(t *testing.T) {
	b := New()
	b.Place("Destroyer", 2, 2, 2, Horizontal)
	b.Place("Cruiser", 5, 0, 3, Vertical)

	assert.Empty(t, b.SunkShipsInfo(), "nothing sunk yet")

	b.FireAt(2, 2)
	assert.Empty(t, b.SunkShipsInfo(), "damaged is not sunk")

	b.FireAt(2, 3)
	assert.Equal(t, "SUNK_SHIPS_INFO:Destroyer:2,2_2,3", b.SunkShipsInfo())

	b.FireAt(5, 0)
	b.FireAt(6, 0)
	b.FireAt(7, 0)
	assert.Equal(t, "SUNK_SHIPS_INFO:Destroyer:2,2_2,3;Cruiser:5,0_6,0_7,0", b.SunkShipsInfo())
}
