package board

import (
	"fmt"
	"strings"
)

// Board rendering. The format is fixed for client interoperability: a
// three-space gutter then columns 1..10 each centered in a 3-wide field,
// and rows labeled A..J followed by two spaces and centered cells.

// cellWidth is the fixed field width each cell and column number is
// centered in.
const cellWidth = 3

// center pads s to width, extra padding going to the left, matching the
// centering rule the reference clients parse against ("10" → " 10").
func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s) + 1) / 2
	right := width - len(s) - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

func headerRow(sb *strings.Builder) {
	sb.WriteString("   ")
	for i := 1; i <= Size; i++ {
		sb.WriteString(center(fmt.Sprintf("%d", i), cellWidth))
	}
	sb.WriteByte('\n')
}

func gridRows(sb *strings.Builder, cell func(r, c int) byte) {
	for r := range Size {
		sb.WriteByte(byte('A' + r))
		sb.WriteString("  ")
		for c := range Size {
			sb.WriteString(center(string(cell(r, c)), cellWidth))
		}
		sb.WriteByte('\n')
	}
}

// RenderOwn renders the hidden grid: the owner's view with ships visible.
func (b *Board) RenderOwn() string {
	var sb strings.Builder
	headerRow(&sb)
	gridRows(&sb, b.HiddenCell)
	return sb.String()
}

// RenderMasked renders the display grid: hits and misses only, never a
// ship glyph.
func (b *Board) RenderMasked() string {
	var sb strings.Builder
	headerRow(&sb)
	gridRows(&sb, b.DisplayCell)
	return sb.String()
}

// SunkShipsInfo renders the machine-readable sunk-ship line:
//
//	SUNK_SHIPS_INFO:name:r,c_r,c_...;name:...
//
// listing each fully-sunk ship with its original cells. Returns "" when
// nothing is sunk, so callers can append it conditionally after a grid.
func (b *Board) SunkShipsInfo() string {
	var entries []string
	for i := range b.ships {
		ship := &b.ships[i]
		if !ship.Sunk() {
			continue
		}
		pairs := make([]string, 0, len(ship.Cells))
		for _, cell := range ship.Cells {
			pairs = append(pairs, fmt.Sprintf("%d,%d", cell.Row, cell.Col))
		}
		entries = append(entries, ship.Name+":"+strings.Join(pairs, "_"))
	}
	if len(entries) == 0 {
		return ""
	}
	return "SUNK_SHIPS_INFO:" + strings.Join(entries, ";")
}
