package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/udisondev/battlego/internal/protocol"
)

const spectatorHeartbeatInterval = 15 * time.Second

// Sink is an additional read-only receiver of spectator traffic, such as
// the web feed. Sinks never fail the broadcast.
type Sink interface {
	Board(text string)
	Event(text string)
}

// Spectators is the fanout set of read-only observers of the current match.
// Broadcasts iterate a snapshot copy of the set so no lock is held across a
// slow socket write; any send failure prunes the observer.
type Spectators struct {
	mu    sync.Mutex
	set   map[*protocol.Conn]string
	sinks []Sink
}

// NewSpectators creates an empty fanout set.
func NewSpectators(sinks ...Sink) *Spectators {
	return &Spectators{set: make(map[*protocol.Conn]string), sinks: sinks}
}

// Count returns the number of connected observers.
func (sp *Spectators) Count() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.set)
}

func (sp *Spectators) add(conn *protocol.Conn, name string) {
	sp.mu.Lock()
	sp.set[conn] = name
	n := len(sp.set)
	sp.mu.Unlock()
	slog.Info("spectator joined", "name", name, "total", n)
}

// remove reports whether the connection was still registered.
func (sp *Spectators) remove(conn *protocol.Conn) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if _, ok := sp.set[conn]; !ok {
		return false
	}
	delete(sp.set, conn)
	return true
}

// snapshot copies the observer set for iteration outside the lock.
func (sp *Spectators) snapshot() []*protocol.Conn {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	conns := make([]*protocol.Conn, 0, len(sp.set))
	for conn := range sp.set {
		conns = append(conns, conn)
	}
	return conns
}

// BroadcastBoard sends a rendered grid view to every observer, pruning the
// ones whose sockets fail.
func (sp *Spectators) BroadcastBoard(text string) {
	sp.broadcast(protocol.TypeBoardUpdate, text)
	for _, sink := range sp.sinks {
		sink.Board(text)
	}
}

// BroadcastEvent sends a human-readable game event line to every observer.
func (sp *Spectators) BroadcastEvent(text string) {
	sp.broadcast(protocol.TypeChat, "[GAME EVENT] "+text)
	for _, sink := range sp.sinks {
		sink.Event(text)
	}
}

// BroadcastChat sends an already-formatted chat line to every observer.
func (sp *Spectators) BroadcastChat(text string) {
	sp.broadcast(protocol.TypeChat, text)
}

func (sp *Spectators) broadcast(ptype protocol.PacketType, text string) {
	for _, conn := range sp.snapshot() {
		if err := conn.SendText(ptype, text); err != nil {
			if sp.remove(conn) {
				slog.Info("pruned dead spectator", "remote", conn.RemoteAddr(), "err", err)
				conn.Close()
			}
		}
	}
}

// InviteToPlay asks up to n spectators to reconnect with a username and take
// a player slot, then drops them from the set. Returns how many were
// invited.
func (sp *Spectators) InviteToPlay(n int) int {
	invited := 0
	for invited < n {
		conn := sp.takeOne()
		if conn == nil {
			break
		}
		conn.SendText(protocol.TypeChat, "Please reconnect with a username to join the game as a player.")
		conn.Close()
		invited++
	}
	return invited
}

func (sp *Spectators) takeOne() *protocol.Conn {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for conn := range sp.set {
		delete(sp.set, conn)
		return conn
	}
	return nil
}

// runSpectator serves one observer connection: welcome, match summary,
// registration, then a read loop that relays chat, rejects moves, answers
// heartbeats, and probes liveness.
func (s *Server) runSpectator(ctx context.Context, conn *protocol.Conn, username string) {
	defer func() {
		if s.spectators.remove(conn) {
			s.RelayChat("SERVER", "A spectator has left the game")
		}
		s.registry.Release(username, conn)
		conn.Close()
	}()

	name := username
	if name == "" {
		name = "Spectator@" + conn.RemoteAddr()
	}

	welcome := []string{
		"Welcome! You are now spectating a Battleship game.",
		"You will see all game updates but cannot participate in the game.",
		"Type 'quit' to stop spectating. You can send chat messages that will be seen by all players and spectators.",
	}
	for _, msg := range welcome {
		if err := conn.SendText(protocol.TypeChat, msg); err != nil {
			return
		}
	}

	if session := s.currentSession(); session != nil {
		p1, p2 := session.Players()
		phase, turn := session.Summary()
		summary := fmt.Sprintf("Current Game Status:\nPlayer 1: %s\nPlayer 2: %s\nGame State: %s\nCurrent Turn: %s", p1, p2, phase, turn)
		if err := conn.SendText(protocol.TypeChat, summary); err != nil {
			return
		}
		if err := conn.SendText(protocol.TypeChat, fmt.Sprintf("SPECTATOR_PLAYER_NAMES:P1=%s,P2=%s", p1, p2)); err != nil {
			return
		}
	}

	s.spectators.add(conn, name)
	s.RelayChat("SERVER", "A new spectator has joined to watch the game")

	// A live client answers the periodic heartbeat, so its inbound gap
	// stays well under the inactivity bound. One that stopped acking gets
	// pruned even while its socket still accepts writes.
	idleBound := s.cfg.ConnectionTimeoutDuration()
	lastHeartbeat := time.Now()
	lastInbound := time.Now()
	corrupt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Since(lastHeartbeat) >= spectatorHeartbeatInterval {
			lastHeartbeat = time.Now()
			if err := conn.Send(protocol.TypeHeartbeat, nil); err != nil {
				return
			}
		}
		if idleBound > 0 && time.Since(lastInbound) > idleBound {
			slog.Info("pruning silent spectator", "name", name)
			return
		}

		res := conn.Receive(time.Second)
		switch res.Kind {
		case protocol.RecvTimeout:
			continue
		case protocol.RecvClosed:
			return
		case protocol.RecvCorrupt:
			corrupt++
			slog.Debug("corrupt packet from spectator", "name", name, "count", corrupt, "err", res.Err)
			if corrupt >= maxCorruptPackets {
				slog.Info("dropping spectator after repeated corrupt frames", "name", name)
				return
			}
			continue
		}
		corrupt = 0
		lastInbound = time.Now()

		switch res.Header.Type {
		case protocol.TypeChat:
			text := strings.TrimSpace(string(res.Payload))
			if strings.EqualFold(text, "quit") {
				conn.SendText(protocol.TypeChat, "You have left the spectator mode. Goodbye!")
				return
			}
			if text != "" {
				s.RelayChat(name, text)
			}
		case protocol.TypeMove:
			conn.SendText(protocol.TypeChat, "As a spectator, you cannot make moves. Type 'quit' to leave, or send chat messages.")
		case protocol.TypeHeartbeat:
			if err := conn.Send(protocol.TypeAck, nil); err != nil {
				return
			}
		case protocol.TypeAck:
			// Liveness probe answered.
		case protocol.TypeDisconnect:
			return
		default:
			conn.SendText(protocol.TypeChat, "As a spectator, you can use 'quit' to leave or send chat messages.")
		}
	}
}
