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

const (
	// waitReceiveTimeout bounds each lobby read so the worker notices its
	// stop signal promptly.
	waitReceiveTimeout = 2 * time.Second

	// waitStatusInterval is the cadence of "still waiting" notices and
	// lobby heartbeats.
	waitStatusInterval = 20 * time.Second
)

// waitEntry is one parked player in the lobby.
type waitEntry struct {
	conn     *protocol.Conn
	username string

	// stop tells the worker the player is about to become a match
	// participant: surrender the connection without releasing the
	// presence reservation.
	stop chan struct{}
	// done closes when the worker has stopped touching the connection.
	done chan struct{}
}

// WaitingQueue is the strict-FIFO lobby of identified players waiting for a
// match slot. The earliest entry is always the one summoned.
type WaitingQueue struct {
	mu      sync.Mutex
	entries []*waitEntry
}

// NewWaitingQueue creates an empty lobby.
func NewWaitingQueue() *WaitingQueue {
	return &WaitingQueue{}
}

// Len returns how many players are waiting.
func (q *WaitingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// add appends a new entry.
func (q *WaitingQueue) add(e *waitEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}

// leave removes the entry if it is still queued and reports whether it was.
// A false return means the entry was already summoned; the worker must then
// surrender the connection instead of closing it.
func (q *WaitingQueue) leave(e *waitEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// popHead removes and returns the earliest entry, or nil when empty.
func (q *WaitingQueue) popHead() *waitEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e
}

// summon pulls the earliest waiting player out of the lobby and waits for
// its worker to stop reading the connection. Ownership of the connection
// passes to the caller.
func (q *WaitingQueue) summon() *waitEntry {
	e := q.popHead()
	if e == nil {
		return nil
	}
	close(e.stop)
	<-e.done
	return e
}

// runWaiting is the per-entry lobby worker: it keeps the parked player
// informed, relays their chat, and leaves cleanly on quit or disconnect.
// When summoned it surrenders the connection without touching the presence
// reservation.
func (s *Server) runWaiting(ctx context.Context, e *waitEntry) {
	defer close(e.done)

	slog.Info("player entered waiting lobby", "username", e.username)
	if err := e.conn.SendText(protocol.TypeChat, "You are in the waiting lobby. Waiting for another player..."); err != nil {
		s.dropWaiting(e)
		return
	}
	e.conn.SendText(protocol.TypeChat, "Type 'quit' to leave the waiting lobby, or send messages to chat with others.")

	lastStatus := time.Now()
	corrupt := 0
	for {
		select {
		case <-e.stop:
			slog.Debug("waiting player summoned", "username", e.username)
			return
		case <-ctx.Done():
			s.dropWaiting(e)
			return
		default:
		}

		res := e.conn.Receive(waitReceiveTimeout)
		select {
		case <-e.stop:
			return
		default:
		}

		switch res.Kind {
		case protocol.RecvValid:
			corrupt = 0
			switch res.Header.Type {
			case protocol.TypeChat:
				text := strings.TrimSpace(string(res.Payload))
				if strings.EqualFold(text, "quit") {
					slog.Info("player left waiting lobby", "username", e.username)
					e.conn.SendText(protocol.TypeChat, "You have left the waiting lobby.")
					s.dropWaiting(e)
					return
				}
				if text != "" {
					s.RelayChat(e.username, text)
				}
			case protocol.TypeDisconnect:
				slog.Info("waiting player disconnected", "username", e.username)
				s.dropWaiting(e)
				return
			case protocol.TypeHeartbeat:
				e.conn.Send(protocol.TypeAck, nil)
			}
		case protocol.RecvClosed:
			slog.Info("waiting player connection lost", "username", e.username)
			s.dropWaiting(e)
			return
		case protocol.RecvCorrupt:
			corrupt++
			slog.Debug("corrupted packet from waiting player", "username", e.username, "count", corrupt, "err", res.Err)
			if corrupt >= maxCorruptPackets {
				slog.Info("dropping waiting player after repeated corrupt frames", "username", e.username)
				s.dropWaiting(e)
				return
			}
		case protocol.RecvTimeout:
			// Idle; fall through to the status cadence below.
		}

		if time.Since(lastStatus) > waitStatusInterval {
			lastStatus = time.Now()
			if err := e.conn.SendText(protocol.TypeChat, "Still waiting for a game..."); err != nil {
				s.dropWaiting(e)
				return
			}
			e.conn.Send(protocol.TypeHeartbeat, nil)
		}
	}
}

// dropWaiting removes a dead or departing lobby entry and releases its
// presence reservation, unless the entry was concurrently summoned (the
// session will then discover the dead connection on first use).
func (s *Server) dropWaiting(e *waitEntry) {
	if s.queue.leave(e) {
		s.registry.Release(e.username, e.conn)
		e.conn.Close()
	}
}

// gameID builds the per-match identifier from both usernames and the start
// time.
func gameID(p1, p2 string) string {
	return fmt.Sprintf("%s_vs_%s_%d", p1, p2, time.Now().Unix())
}
