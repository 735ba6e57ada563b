package game

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/udisondev/battlego/internal/board"
)

// Phase is the match lifecycle state.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseInProgress
	PhaseInterrupted
	PhaseCompleted
)

// String returns the phase name used in logs and spectator summaries.
func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseInProgress:
		return "in_progress"
	case PhaseInterrupted:
		return "interrupted"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ParkedState is the full mid-flight capture of a match, parked in the
// presence registry while a disconnected player's grace window runs. It
// carries enough to rebuild both boards and hand the turn back to the right
// player.
type ParkedState struct {
	Player1  string         `cbor:"p1"`
	Player2  string         `cbor:"p2"`
	Board1   board.Snapshot `cbor:"board1"`
	Board2   board.Snapshot `cbor:"board2"`
	NextTurn string         `cbor:"next_turn"`
}

// EncodeParkedState serializes a parked match for the registry.
func EncodeParkedState(st ParkedState) ([]byte, error) {
	data, err := cbor.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encoding parked state: %w", err)
	}
	return data, nil
}

// DecodeParkedState is the inverse of EncodeParkedState.
func DecodeParkedState(data []byte) (ParkedState, error) {
	var st ParkedState
	if err := cbor.Unmarshal(data, &st); err != nil {
		return ParkedState{}, fmt.Errorf("decoding parked state: %w", err)
	}
	return st, nil
}
