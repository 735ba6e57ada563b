package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/udisondev/battlego/internal/board"
	"github.com/udisondev/battlego/internal/presence"
	"github.com/udisondev/battlego/internal/protocol"
)

// SpectatorHub receives the read-only view of a running match: rendered
// grids and human-readable event lines.
type SpectatorHub interface {
	BroadcastBoard(text string)
	BroadcastEvent(text string)
}

// Config carries the session timeouts.
type Config struct {
	// MoveTimeout bounds every player-input read inside the session.
	MoveTimeout time.Duration
	// RematchTimeout bounds the play-again answer; silence means no.
	RematchTimeout time.Duration
}

// Result is what a finished session reports back to the lobby.
type Result struct {
	// Winner is the winning username, or "" when the match ended with no
	// winner (double disconnect, fatal error, shutdown).
	Winner string
	// Stayer is the player re-entering the waiting queue because exactly
	// one side wanted a rematch. Nil otherwise.
	Stayer *PlayerConn
	// BothDeclined is set when both players turned down a rematch, which
	// invites spectators to fill the empty slots.
	BothDeclined bool
}

// playerLost marks which player's connection failed; the session converts
// it into the Interrupted transition.
type playerLost struct {
	username string
	cause    error
}

func (e *playerLost) Error() string {
	return fmt.Sprintf("player %s lost: %v", e.username, e.cause)
}

// errServerClosing aborts the session when the surrounding context ends.
var errServerClosing = errors.New("server closing")

// Session drives one match between two fixed players: placement, alternating
// turns, win detection, rematch negotiation, and the disconnect/resume
// dance. It owns both connections while running; on interruption the parked
// snapshot moves to the presence registry until the owner returns or the
// grace window expires.
type Session struct {
	id         string
	p1, p2     *PlayerConn
	registry   *presence.Registry
	spectators SpectatorHub
	cfg        Config

	b1, b2 *board.Board
	resume *ParkedState

	stateMu sync.Mutex
	phase   Phase
	next    string

	// bothParked is set when both players dropped; their parked entries are
	// then left to expire instead of being cleaned when Run returns.
	bothParked bool
}

// NewSession creates a session for a fresh match.
func NewSession(id string, p1, p2 *PlayerConn, registry *presence.Registry, spectators SpectatorHub, cfg Config) *Session {
	return &Session{
		id:         id,
		p1:         p1,
		p2:         p2,
		registry:   registry,
		spectators: spectators,
		cfg:        cfg,
		phase:      PhaseSetup,
		next:       p1.Username,
	}
}

// ID returns the match identifier.
func (s *Session) ID() string {
	return s.id
}

// Players returns both usernames in fixed order.
func (s *Session) Players() (string, string) {
	return s.p1.Username, s.p2.Username
}

// Summary returns the current phase and turn holder for spectator welcomes.
func (s *Session) Summary() (phase Phase, turn string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.phase, s.next
}

func (s *Session) setPhase(p Phase) {
	s.stateMu.Lock()
	s.phase = p
	s.stateMu.Unlock()
}

func (s *Session) setNext(username string) {
	s.stateMu.Lock()
	s.next = username
	s.stateMu.Unlock()
}

func (s *Session) nextTurn() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.next
}

// Run plays the session to completion and returns its outcome. It only
// returns once the match (including any rematches) is over or abandoned.
func (s *Session) Run(ctx context.Context) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session panic", "game_id", s.id, "panic", r)
			s.p1.SendPacket(protocol.TypeError, "A fatal server error occurred. Game ending.")
			s.p2.SendPacket(protocol.TypeError, "A fatal server error occurred. Game ending.")
			s.spectators.BroadcastEvent("Game session ended due to a server error.")
			result = Result{}
		}
		s.setPhase(PhaseCompleted)
		if !s.bothParked {
			s.registry.Clean(s.p1.Username, s.id)
			s.registry.Clean(s.p2.Username, s.id)
		}
		slog.Info("session concluded", "game_id", s.id, "winner", result.Winner)
	}()

	slog.Info("session starting", "game_id", s.id, "player1", s.p1.Username, "player2", s.p2.Username)

	for {
		if err := s.startRound(ctx); err != nil {
			resumed, res := s.onRoundError(ctx, err)
			if resumed {
				continue
			}
			return res
		}

		winner, err := s.turnLoop(ctx)
		if err != nil {
			resumed, res := s.onRoundError(ctx, err)
			if resumed {
				continue
			}
			return res
		}

		again, res := s.negotiateRematch(winner)
		if !again {
			return res
		}
	}
}

// startRound prepares boards for one game instance: either by restoring a
// parked snapshot or by running the placement phase from scratch.
func (s *Session) startRound(ctx context.Context) error {
	if s.resume != nil {
		return s.restoreRound()
	}

	s.b1 = board.New()
	s.b2 = board.New()
	s.setPhase(PhaseSetup)
	s.setNext(s.p1.Username)

	if err := s.p1.SendPacket(protocol.TypeGameStart, fmt.Sprintf("Starting game against %s", s.p2.Username)); err != nil {
		return &playerLost{username: s.p1.Username, cause: err}
	}
	if err := s.p2.SendPacket(protocol.TypeGameStart, fmt.Sprintf("Starting game against %s", s.p1.Username)); err != nil {
		return &playerLost{username: s.p2.Username, cause: err}
	}

	if err := s.p1.SendChat(fmt.Sprintf("Welcome to Battleship! You are %s. Waiting for %s to be ready...", s.p1.Username, s.p2.Username)); err != nil {
		return &playerLost{username: s.p1.Username, cause: err}
	}
	if err := s.p2.SendChat(fmt.Sprintf("Welcome to Battleship! You are %s. Game is starting with %s.", s.p2.Username, s.p1.Username)); err != nil {
		return &playerLost{username: s.p2.Username, cause: err}
	}
	s.spectators.BroadcastEvent(fmt.Sprintf("New game starting between %s and %s.", s.p1.Username, s.p2.Username))

	if err := s.p2.SendChat(fmt.Sprintf("Waiting for %s to place ships...", s.p1.Username)); err != nil {
		return &playerLost{username: s.p2.Username, cause: err}
	}
	if err := s.placeShips(ctx, s.p1, s.b1, s.b2); err != nil {
		return err
	}

	if err := s.p1.SendChat(fmt.Sprintf("Waiting for %s to place ships...", s.p2.Username)); err != nil {
		return &playerLost{username: s.p1.Username, cause: err}
	}
	if err := s.p2.SendChat(fmt.Sprintf("%s has placed their ships. Now it's your turn.", s.p1.Username)); err != nil {
		return &playerLost{username: s.p2.Username, cause: err}
	}
	if err := s.placeShips(ctx, s.p2, s.b2, s.b1); err != nil {
		return err
	}

	if err := s.p1.SendChat("All ships have been placed. Starting the game!"); err != nil {
		return &playerLost{username: s.p1.Username, cause: err}
	}
	if err := s.p2.SendChat("All ships have been placed. Starting the game!"); err != nil {
		return &playerLost{username: s.p2.Username, cause: err}
	}
	s.spectators.BroadcastEvent("Ship placement complete. The game begins!")

	s.setPhase(PhaseInProgress)
	return nil
}

// restoreRound rebuilds both boards from the consumed parked snapshot and
// re-enters the turn loop at the saved turn.
func (s *Session) restoreRound() error {
	st := *s.resume
	s.resume = nil

	snap1, snap2 := st.Board1, st.Board2
	if st.Player1 != s.p1.Username {
		snap1, snap2 = snap2, snap1
	}

	b1, err := board.Restore(snap1)
	if err != nil {
		return fmt.Errorf("restoring %s board: %w", s.p1.Username, err)
	}
	b2, err := board.Restore(snap2)
	if err != nil {
		return fmt.Errorf("restoring %s board: %w", s.p2.Username, err)
	}
	s.b1, s.b2 = b1, b2

	next := st.NextTurn
	if next != s.p1.Username && next != s.p2.Username {
		next = s.p1.Username
	}
	s.setNext(next)
	s.setPhase(PhaseInProgress)

	if err := s.p1.SendChat("Game resumed."); err != nil {
		return &playerLost{username: s.p1.Username, cause: err}
	}
	if err := s.p2.SendChat("Game resumed."); err != nil {
		return &playerLost{username: s.p2.Username, cause: err}
	}
	s.spectators.BroadcastEvent("Game has been resumed.")
	return nil
}

// turnLoop alternates fire resolution until one board is all sunk or a
// player quits. Parse errors and already-shot cells keep the turn with the
// current player.
func (s *Session) turnLoop(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", errServerClosing
		default:
		}

		cur, other := s.p1, s.p2
		curBoard, otherBoard := s.b1, s.b2
		if s.nextTurn() == s.p2.Username {
			cur, other = s.p2, s.p1
			curBoard, otherBoard = s.b2, s.b1
		}

		if err := cur.SendChat(fmt.Sprintf("It's your turn, %s!", cur.Username)); err != nil {
			return "", &playerLost{username: cur.Username, cause: err}
		}
		if err := other.SendChat(fmt.Sprintf("Waiting for %s to make a move...", cur.Username)); err != nil {
			return "", &playerLost{username: other.Username, cause: err}
		}
		if err := cur.SendBoard(playerBoardUpdate(curBoard, otherBoard)); err != nil {
			return "", &playerLost{username: cur.Username, cause: err}
		}
		s.broadcastSpectatorGrid()

		if err := cur.SendChat(fmt.Sprintf("Enter coordinate to fire at (e.g. B5): (You have %d seconds)", int(s.cfg.MoveTimeout.Seconds()))); err != nil {
			return "", &playerLost{username: cur.Username, cause: err}
		}

		line, err := cur.ReadLine(s.cfg.MoveTimeout)
		if err != nil {
			// A move timeout mid-match is handled like a disconnection.
			return "", &playerLost{username: cur.Username, cause: err}
		}

		if strings.EqualFold(line, "quit") {
			cur.SendChat("You have quit the game. Your opponent wins by default.")
			if err := other.SendChat(fmt.Sprintf("%s has quit. You win by default!", cur.Username)); err != nil {
				return "", &playerLost{username: other.Username, cause: err}
			}
			s.spectators.BroadcastEvent(fmt.Sprintf("%s has quit. %s wins.", cur.Username, other.Username))
			s.sendGameEnd(cur, "You forfeited the game.")
			if err := s.sendGameEnd(other, "You win by forfeit!"); err != nil {
				return "", &playerLost{username: other.Username, cause: err}
			}
			return other.Username, nil
		}

		coord, err := board.ParseCoordinate(line)
		if err != nil {
			if serr := cur.SendChat(fmt.Sprintf("Invalid input: %v. Try again.", err)); serr != nil {
				return "", &playerLost{username: cur.Username, cause: serr}
			}
			continue
		}

		target := strings.ToUpper(strings.TrimSpace(line))
		outcome, sunk := otherBoard.FireAt(coord.Row, coord.Col)
		switch outcome {
		case board.FireInvalid:
			if serr := cur.SendChat("Invalid coordinate. Please enter a valid coordinate (e.g. A1-J10)."); serr != nil {
				return "", &playerLost{username: cur.Username, cause: serr}
			}
			continue
		case board.FireAlreadyShot:
			if serr := cur.SendChat("You've already fired at that location. Try again."); serr != nil {
				return "", &playerLost{username: cur.Username, cause: serr}
			}
			continue
		case board.FireMiss:
			if serr := cur.SendChat("MISS!"); serr != nil {
				return "", &playerLost{username: cur.Username, cause: serr}
			}
			if serr := other.SendChat(fmt.Sprintf("%s fired at %s and missed!", cur.Username, target)); serr != nil {
				return "", &playerLost{username: other.Username, cause: serr}
			}
			s.spectators.BroadcastEvent(fmt.Sprintf("%s fired at %s and missed!", cur.Username, target))
		case board.FireHit:
			if sunk != "" {
				if serr := cur.SendChat(fmt.Sprintf("HIT! You sank %s's %s!", other.Username, sunk)); serr != nil {
					return "", &playerLost{username: cur.Username, cause: serr}
				}
				if serr := other.SendChat(fmt.Sprintf("%s fired at %s and sank your %s!", cur.Username, target, sunk)); serr != nil {
					return "", &playerLost{username: other.Username, cause: serr}
				}
				s.spectators.BroadcastEvent(fmt.Sprintf("%s fired at %s and sank %s's %s!", cur.Username, target, other.Username, sunk))
			} else {
				if serr := cur.SendChat("HIT!"); serr != nil {
					return "", &playerLost{username: cur.Username, cause: serr}
				}
				if serr := other.SendChat(fmt.Sprintf("%s fired at %s and scored a hit!", cur.Username, target)); serr != nil {
					return "", &playerLost{username: other.Username, cause: serr}
				}
				s.spectators.BroadcastEvent(fmt.Sprintf("%s fired at %s and scored a hit!", cur.Username, target))
			}
		}

		// Every resolved shot refreshes both players' views.
		if serr := cur.SendBoard(playerBoardUpdate(curBoard, otherBoard)); serr != nil {
			return "", &playerLost{username: cur.Username, cause: serr}
		}
		if serr := other.SendBoard(playerBoardUpdate(otherBoard, curBoard)); serr != nil {
			return "", &playerLost{username: other.Username, cause: serr}
		}
		s.broadcastSpectatorGrid()

		if outcome == board.FireHit && otherBoard.AllSunk() {
			cur.SendChat(fmt.Sprintf("Congratulations! You've sunk all of %s's ships. You win!", other.Username))
			other.SendChat(fmt.Sprintf("Game over! %s has sunk all your ships.", cur.Username))
			s.spectators.BroadcastEvent(fmt.Sprintf("Game over! %s has won by sinking all of %s's ships!", cur.Username, other.Username))
			s.sendGameEnd(cur, "You win!")
			s.sendGameEnd(other, fmt.Sprintf("%s wins.", cur.Username))
			return cur.Username, nil
		}

		s.setNext(other.Username)
	}
}

func (s *Session) sendGameEnd(p *PlayerConn, msg string) error {
	return p.SendPacket(protocol.TypeGameEnd, msg)
}

// onRoundError routes a failed round: a lost player starts the reconnect
// dance, everything else tears the session down.
func (s *Session) onRoundError(ctx context.Context, err error) (resumed bool, res Result) {
	var lost *playerLost
	if errors.As(err, &lost) {
		return s.handleInterruption(ctx, lost.username)
	}

	if errors.Is(err, errServerClosing) {
		slog.Info("session aborted by shutdown", "game_id", s.id)
		s.p1.SendPacket(protocol.TypeError, "Server is shutting down. Game ending.")
		s.p2.SendPacket(protocol.TypeError, "Server is shutting down. Game ending.")
		return false, Result{}
	}

	slog.Error("session failed", "game_id", s.id, "err", err)
	s.p1.SendPacket(protocol.TypeError, "A fatal server error occurred. Game ending.")
	s.p2.SendPacket(protocol.TypeError, "A fatal server error occurred. Game ending.")
	s.spectators.BroadcastEvent("Game session ended due to a server error.")
	return false, Result{}
}

// handleInterruption parks the match for the lost player and gates on their
// return: swap in the new socket and resume, or forfeit on expiry. A send
// failure to the survivor while waiting means both are gone; the match then
// completes with no winner and both entries stay parked until expiry.
func (s *Session) handleInterruption(ctx context.Context, lostName string) (resumed bool, res Result) {
	s.setPhase(PhaseInterrupted)

	lost, survivor := s.p1, s.p2
	if lostName == s.p2.Username {
		lost, survivor = s.p2, s.p1
	}
	lost.Close()

	// A disconnect during placement must still leave a resumable match:
	// fill in the missing ships before snapshotting.
	s.completePlacement()

	state := ParkedState{
		Player1:  s.p1.Username,
		Player2:  s.p2.Username,
		Board1:   s.b1.Capture(),
		Board2:   s.b2.Capture(),
		NextTurn: s.nextTurn(),
	}
	blob, err := EncodeParkedState(state)
	if err != nil {
		slog.Error("parking snapshot failed", "game_id", s.id, "err", err)
		s.sendGameEnd(survivor, fmt.Sprintf("%s disconnected and the game could not be saved. You win by default!", lost.Username))
		return false, Result{Winner: survivor.Username}
	}
	s.registry.Park(lost.Username, blob, s.id, survivor.Username)

	window := s.registry.Window()
	survivorGone := false
	if err := survivor.SendChat(fmt.Sprintf("%s has disconnected. Waiting %d seconds for reconnection...", lost.Username, int(window.Seconds()))); err != nil {
		survivorGone = true
	}
	s.spectators.BroadcastEvent(fmt.Sprintf("%s has disconnected. Waiting for reconnection...", lost.Username))

	if survivorGone {
		return false, s.parkSurvivor(survivor, lost.Username, blob)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lastNotice time.Time
	onTick := func(remaining time.Duration) {
		if time.Since(lastNotice) < 10*time.Second {
			return
		}
		lastNotice = time.Now()
		msg := fmt.Sprintf("Still waiting for %s to reconnect... (%ds left)", lost.Username, int(remaining.Seconds()))
		if err := survivor.SendChat(msg); err != nil {
			survivorGone = true
			cancel()
		}
	}

	result := s.registry.WaitForReturn(waitCtx, lost.Username, s.id, onTick)
	switch result.Outcome {
	case presence.Resumed:
		st, err := DecodeParkedState(result.Snapshot)
		if err != nil {
			slog.Error("resume snapshot corrupt", "game_id", s.id, "err", err)
			s.sendGameEnd(survivor, "The saved game could not be restored. You win by default!")
			return false, Result{Winner: survivor.Username}
		}
		lost.SwapConn(result.Conn)
		s.resume = &st

		survivor.SendChat(fmt.Sprintf("%s has reconnected. Resuming game.", lost.Username))
		s.spectators.BroadcastEvent(fmt.Sprintf("%s has reconnected. Resuming game.", lost.Username))
		if err := lost.SendPacket(protocol.TypeReconnect, "Successfully reconnected to your game."); err != nil {
			// Came back and vanished again; park once more with the same state.
			s.registry.Park(lost.Username, result.Snapshot, s.id, survivor.Username)
			return s.handleInterruption(ctx, lost.Username)
		}
		slog.Info("session resumed", "game_id", s.id, "username", lost.Username)
		return true, Result{}

	case presence.WaitCanceled:
		if survivorGone {
			return false, s.parkSurvivor(survivor, lost.Username, blob)
		}
		return false, Result{}

	default: // presence.ExpiredForfeit
		slog.Info("grace window expired", "game_id", s.id, "username", lost.Username, "winner", survivor.Username)
		s.sendGameEnd(survivor, fmt.Sprintf("%s did not reconnect. You win by default!", lost.Username))
		s.spectators.BroadcastEvent(fmt.Sprintf("%s did not reconnect. %s wins by default.", lost.Username, survivor.Username))
		return false, Result{Winner: survivor.Username}
	}
}

// parkSurvivor handles the both-players-gone case: the match completes with
// no winner, and both presence entries stay parked until their windows
// expire.
func (s *Session) parkSurvivor(survivor *PlayerConn, lostName string, blob []byte) Result {
	slog.Info("both players disconnected", "game_id", s.id)
	survivor.Close()
	if blob != nil {
		s.registry.Park(survivor.Username, blob, s.id, lostName)
	}
	s.bothParked = true
	s.spectators.BroadcastEvent("Both players have disconnected. The game is over.")
	return Result{}
}

// completePlacement randomly fills any catalogue ships not yet placed, so a
// setup-phase interruption still snapshots a playable match.
func (s *Session) completePlacement() {
	for _, b := range []*board.Board{s.b1, s.b2} {
		if b == nil {
			continue
		}
		placed := make(map[string]int)
		for _, ship := range b.Ships() {
			placed[ship.Name]++
		}
		for _, spec := range board.Catalogue {
			if placed[spec.Name] > 0 {
				placed[spec.Name]--
				continue
			}
			b.PlaceRandomShip(spec)
		}
	}
}

// negotiateRematch runs the play-again exchange after a completed game.
func (s *Session) negotiateRematch(winner string) (again bool, res Result) {
	if err := s.p1.SendChat("Game over! Please wait..."); err != nil {
		return false, Result{Winner: winner}
	}
	if err := s.p2.SendChat("Game over! Please wait..."); err != nil {
		return false, Result{Winner: winner}
	}

	p1Again := s.askRematch(s.p1)
	p2Again := s.askRematch(s.p2)

	switch {
	case p1Again && p2Again:
		s.p1.SendChat("Both players want a rematch! Starting new game...")
		s.p2.SendChat("Both players want a rematch! Starting new game...")
		s.spectators.BroadcastEvent("Players agreed to a rematch!")
		return true, Result{}

	case !p1Again && !p2Again:
		s.sendGameEnd(s.p1, "You declined rematch. Session ending.")
		s.sendGameEnd(s.p2, "You declined rematch. Session ending.")
		return false, Result{Winner: winner, BothDeclined: true}

	default:
		stayer, leaver := s.p1, s.p2
		if p2Again {
			stayer, leaver = s.p2, s.p1
		}
		s.sendGameEnd(leaver, "You declined rematch. Session ending.")
		s.spectators.BroadcastEvent(fmt.Sprintf("%s declined rematch. %s is waiting for a new opponent.", leaver.Username, stayer.Username))
		return false, Result{Winner: winner, Stayer: stayer}
	}
}

// askRematch asks one player; a timeout, a failure, or anything but an
// affirmative counts as no.
func (s *Session) askRematch(p *PlayerConn) bool {
	if err := p.SendChat("Do you want to play again? (Y/N):"); err != nil {
		return false
	}
	answer, err := p.ReadLine(s.cfg.RematchTimeout)
	if err != nil {
		return false
	}
	answer = strings.ToUpper(strings.TrimSpace(answer))
	return answer == "Y" || answer == "YES"
}

// playerBoardUpdate renders the two-grid view one player sees: their own
// grid with ships visible and the opponent's masked grid, each followed by
// its sunk-ships line when any ship is down.
func playerBoardUpdate(own, opponent *board.Board) string {
	var sb strings.Builder
	sb.WriteString("Your Grid:\n")
	sb.WriteString(own.RenderOwn())
	if info := own.SunkShipsInfo(); info != "" {
		sb.WriteString(info)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString("Opponent's Grid:\n")
	sb.WriteString(opponent.RenderMasked())
	if info := opponent.SunkShipsInfo(); info != "" {
		sb.WriteString(info)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return sb.String()
}

// broadcastSpectatorGrid sends the masked view of both boards to observers.
func (s *Session) broadcastSpectatorGrid() {
	var sb strings.Builder
	sb.WriteString("SPECTATOR_GRID\n")
	sb.WriteString(fmt.Sprintf("%s's Grid:\n", s.p1.Username))
	sb.WriteString(s.b1.RenderMasked())
	sb.WriteByte('\n')
	sb.WriteString(fmt.Sprintf("%s's Grid:\n", s.p2.Username))
	sb.WriteString(s.b2.RenderMasked())
	sb.WriteByte('\n')
	s.spectators.BroadcastBoard(sb.String())
}
