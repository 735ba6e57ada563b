package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/udisondev/battlego/internal/board"
)

// placeShips runs the placement phase for one player: mode choice, then
// either a full random placement or ship-by-ship manual placement with
// validation and re-prompting. Timeouts degrade to random placement rather
// than ending the match; only a real connection failure (or an explicit
// quit) interrupts.
func (s *Session) placeShips(ctx context.Context, p *PlayerConn, own, opponent *board.Board) error {
	select {
	case <-ctx.Done():
		return errServerClosing
	default:
	}

	if err := p.SendChat(fmt.Sprintf("%s, it's time to place your ships!", p.Username)); err != nil {
		return &playerLost{username: p.Username, cause: err}
	}
	if err := p.SendChat("Would you like to place ships manually (M) or randomly (R)? [M/R]:"); err != nil {
		return &playerLost{username: p.Username, cause: err}
	}

	choice, err := p.ReadLine(s.cfg.MoveTimeout)
	switch {
	case errors.Is(err, ErrInputTimeout):
		if serr := p.SendChat("No selection made within timeout period. Ships will be placed randomly."); serr != nil {
			return &playerLost{username: p.Username, cause: serr}
		}
		return s.placeRandomly(p, own, opponent)
	case err != nil:
		return &playerLost{username: p.Username, cause: err}
	}

	mode := ""
	if choice != "" {
		mode = strings.ToUpper(choice[:1])
	}
	if mode != "M" {
		// Anything but an explicit manual choice places randomly.
		return s.placeRandomly(p, own, opponent)
	}

	for _, spec := range board.Catalogue {
		if err := s.placeOneShip(ctx, p, own, opponent, spec); err != nil {
			return err
		}
	}

	if err := p.SendChat("All ships placed successfully!"); err != nil {
		return &playerLost{username: p.Username, cause: err}
	}
	if err := p.SendBoard(playerBoardUpdate(own, opponent)); err != nil {
		return &playerLost{username: p.Username, cause: err}
	}
	return nil
}

func (s *Session) placeRandomly(p *PlayerConn, own, opponent *board.Board) error {
	own.PlaceRandom(board.Catalogue)
	if err := p.SendChat("Ships have been placed randomly on your board."); err != nil {
		return &playerLost{username: p.Username, cause: err}
	}
	if err := p.SendBoard(playerBoardUpdate(own, opponent)); err != nil {
		return &playerLost{username: p.Username, cause: err}
	}
	return nil
}

// placeOneShip prompts until one ship lands: invalid input re-prompts with a
// targeted error, and a second timeout on the same ship places it randomly.
func (s *Session) placeOneShip(ctx context.Context, p *PlayerConn, own, opponent *board.Board, spec board.ShipSpec) error {
	timeouts := 0
	for {
		select {
		case <-ctx.Done():
			return errServerClosing
		default:
		}

		if err := p.SendBoard(playerBoardUpdate(own, opponent)); err != nil {
			return &playerLost{username: p.Username, cause: err}
		}
		if err := p.SendChat(fmt.Sprintf("Placing your %s (size %d).", spec.Name, spec.Length)); err != nil {
			return &playerLost{username: p.Username, cause: err}
		}
		if err := p.SendChat("Enter starting coordinate and orientation (e.g. A1 H or B2 V):"); err != nil {
			return &playerLost{username: p.Username, cause: err}
		}

		input, err := p.ReadLine(s.cfg.MoveTimeout)
		switch {
		case errors.Is(err, ErrInputTimeout):
			timeouts++
			if timeouts < 2 {
				if serr := p.SendChat("No input received. Try again."); serr != nil {
					return &playerLost{username: p.Username, cause: serr}
				}
				continue
			}
			if serr := p.SendChat(fmt.Sprintf("Timeout waiting for input. %s will be placed randomly.", spec.Name)); serr != nil {
				return &playerLost{username: p.Username, cause: serr}
			}
			own.PlaceRandomShip(spec)
			if serr := p.SendChat(fmt.Sprintf("%s placed randomly.", spec.Name)); serr != nil {
				return &playerLost{username: p.Username, cause: serr}
			}
			return nil
		case err != nil:
			return &playerLost{username: p.Username, cause: err}
		}

		if strings.EqualFold(input, "quit") {
			return &playerLost{username: p.Username, cause: errors.New("quit during placement")}
		}

		parts := strings.Fields(strings.ToUpper(input))
		if len(parts) != 2 {
			if serr := p.SendChat("Invalid format. Expected coordinate and orientation (e.g., A1 H)."); serr != nil {
				return &playerLost{username: p.Username, cause: serr}
			}
			continue
		}

		coord, perr := board.ParseCoordinate(parts[0])
		if perr != nil {
			if serr := p.SendChat(fmt.Sprintf("Invalid input: %v. Try again.", perr)); serr != nil {
				return &playerLost{username: p.Username, cause: serr}
			}
			continue
		}

		var orientation board.Orientation
		switch parts[1] {
		case "H":
			orientation = board.Horizontal
		case "V":
			orientation = board.Vertical
		default:
			if serr := p.SendChat("Invalid orientation. Please enter 'H' or 'V'."); serr != nil {
				return &playerLost{username: p.Username, cause: serr}
			}
			continue
		}

		if !own.CanPlace(coord.Row, coord.Col, spec.Length, orientation) {
			msg := fmt.Sprintf("Cannot place %s at %s (orientation=%s). Try again.", spec.Name, parts[0], parts[1])
			if serr := p.SendChat(msg); serr != nil {
				return &playerLost{username: p.Username, cause: serr}
			}
			continue
		}

		own.Place(spec.Name, coord.Row, coord.Col, spec.Length, orientation)
		if serr := p.SendChat(fmt.Sprintf("%s placed successfully!", spec.Name)); serr != nil {
			return &playerLost{username: p.Username, cause: serr}
		}
		return nil
	}
}
