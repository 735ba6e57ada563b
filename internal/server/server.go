// Package server owns the listening socket and everything between an
// accepted connection and a running match: admission routing, the waiting
// lobby, the spectator fanout, and the global chat relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/battlego/internal/config"
	"github.com/udisondev/battlego/internal/game"
	"github.com/udisondev/battlego/internal/presence"
	"github.com/udisondev/battlego/internal/protocol"
)

const (
	// admissionTimeout bounds the wait for the identification packet.
	admissionTimeout = 5 * time.Second

	// sweepInterval is the background cadence for dropping expired parked
	// entries.
	sweepInterval = 30 * time.Second

	// maxCorruptPackets is how many corrupt frames in a row a lobby or
	// spectator connection may produce before it is closed.
	maxCorruptPackets = 5
)

// Server accepts connections on one TCP port and routes each identified
// client to a player slot, the waiting lobby, a spectator seat, or a
// resumed match.
type Server struct {
	cfg        config.Server
	codec      *protocol.Codec
	registry   *presence.Registry
	queue      *WaitingQueue
	spectators *Spectators
	sessionCfg game.Config

	mu       sync.Mutex
	current  *game.Session
	listener net.Listener

	wg sync.WaitGroup
}

// NewServer wires the server from its collaborators. Extra sinks receive
// the spectator traffic additionally (the web feed registers itself here).
func NewServer(cfg config.Server, codec *protocol.Codec, registry *presence.Registry, sinks ...Sink) *Server {
	return &Server{
		cfg:        cfg,
		codec:      codec,
		registry:   registry,
		queue:      NewWaitingQueue(),
		spectators: NewSpectators(sinks...),
		sessionCfg: game.Config{
			MoveTimeout:    cfg.MoveTimeoutDuration(),
			RematchTimeout: cfg.RematchTimeoutDuration(),
		},
	}
}

// Addr returns the bound listener address, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens on the configured address and serves until the context ends.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from a ready listener. Exposed separately so
// tests can pass a loopback listener on an ephemeral port.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})

	g.Go(func() error {
		s.registry.RunSweeper(ctx, sweepInterval)
		return nil
	})

	g.Go(func() error {
		slog.Info("server started", "address", ln.Addr())
		return s.acceptLoop(ctx, ln)
	})

	err := g.Wait()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			slog.Error("failed to accept new connection", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.admit(ctx, protocol.NewConn(conn, s.codec))
		}()
	}
}

// admit reads the identification packet and routes the connection: a fresh
// username plays or waits or spectates; a parked username resumes; a taken
// username is rejected after an optional liveness probe of its old socket.
func (s *Server) admit(ctx context.Context, conn *protocol.Conn) {
	slog.Info("new connection", "remote", conn.RemoteAddr())

	res := conn.Receive(admissionTimeout)
	if res.Kind != protocol.RecvValid {
		slog.Warn("connection failed to identify", "remote", conn.RemoteAddr(), "outcome", res.Kind)
		conn.Close()
		return
	}
	if res.Header.Type != protocol.TypeUsername {
		conn.SendText(protocol.TypeError, "Expected USERNAME packet first. Closing connection.")
		conn.Close()
		return
	}
	username := strings.TrimSpace(string(res.Payload))
	if username == "" {
		conn.SendText(protocol.TypeError, "Username cannot be empty. Closing connection.")
		conn.Close()
		return
	}

	status := s.registry.TryReserve(username, conn)
	if status == presence.AlreadyActive {
		// The old socket may be a zombie; one failed probe converts it to
		// a resumable disconnect and frees the name.
		if old, ok := s.registry.Active(username); ok && !s.probeAlive(old) {
			if s.registry.Demote(username, old) {
				old.Close()
			}
			status = s.registry.TryReserve(username, conn)
		}
	}

	slog.Info("username identified",
		"username", username, "remote", conn.RemoteAddr(), "status", status)

	switch status {
	case presence.AlreadyActive:
		conn.SendText(protocol.TypeError, "Username already in use by another player.")
		conn.Close()
		return

	case presence.ResumeEligible:
		old, ok := s.registry.AdoptResumed(username, conn)
		if !ok {
			// The window closed between the reserve check and now; start
			// over as a fresh player.
			if s.registry.TryReserve(username, conn) != presence.Reserved {
				conn.SendText(protocol.TypeError, "Failed to process reconnection. Please try a new connection.")
				conn.Close()
				return
			}
		} else if old != nil {
			old.SendText(protocol.TypeError, "Another client reconnected with your username. Closing this old session.")
			old.Close()
		}
		if ok {
			// The parked session observes the new active binding and swaps
			// it in; nothing else to do here.
			return
		}
	}

	// Reserved: route by the presence of a running match.
	if s.currentSession() != nil {
		s.runSpectator(ctx, conn, username)
		return
	}

	entry := &waitEntry{
		conn:     conn,
		username: username,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.queue.add(entry)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runWaiting(ctx, entry)
	}()

	s.tryStartMatch(ctx)
}

// probeAlive checks a possibly stale connection with a heartbeat. The probe
// is send-only: the connection belongs to its owning task (lobby worker,
// spectator loop, or session), so reading the ack here would steal packets
// from the owner. A write failure is what a zombie socket reliably gives.
func (s *Server) probeAlive(conn *protocol.Conn) bool {
	return conn.Send(protocol.TypeHeartbeat, nil) == nil
}

func (s *Server) currentSession() *game.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// tryStartMatch pairs the two earliest waiting players into a new session
// when no match is running.
func (s *Server) tryStartMatch(ctx context.Context) {
	s.mu.Lock()
	if s.current != nil || s.queue.Len() < 2 {
		s.mu.Unlock()
		return
	}

	e1 := s.queue.summon()
	e2 := s.queue.summon()
	if e1 == nil || e2 == nil {
		// A waiter vanished while being summoned; requeue the survivor.
		s.mu.Unlock()
		for _, e := range []*waitEntry{e1, e2} {
			if e == nil {
				continue
			}
			fresh := &waitEntry{conn: e.conn, username: e.username, stop: make(chan struct{}), done: make(chan struct{})}
			s.queue.add(fresh)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runWaiting(ctx, fresh)
			}()
		}
		return
	}

	id := gameID(e1.username, e2.username)
	p1 := game.NewPlayerConn(e1.username, e1.conn, s)
	p2 := game.NewPlayerConn(e2.username, e2.conn, s)
	session := game.NewSession(id, p1, p2, s.registry, s.spectators, s.sessionCfg)
	s.current = session
	s.mu.Unlock()

	slog.Info("starting match", "game_id", id, "player1", e1.username, "player2", e2.username)
	s.spectators.BroadcastChat(fmt.Sprintf("SPECTATOR_PLAYER_NAMES:P1=%s,P2=%s", e1.username, e2.username))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runMatch(ctx, session, p1, p2)
	}()
}

// runMatch drives one session to completion and settles the aftermath:
// releasing or requeueing players and promoting spectators into empty
// slots.
func (s *Server) runMatch(ctx context.Context, session *game.Session, p1, p2 *game.PlayerConn) {
	result := session.Run(ctx)

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	for _, p := range []*game.PlayerConn{p1, p2} {
		if result.Stayer == p {
			continue
		}
		s.registry.Release(p.Username, p.Conn())
		p.Close()
	}

	switch {
	case result.Stayer != nil:
		stayer := result.Stayer
		if s.spectators.Count() > 0 {
			stayer.SendChat("Your opponent declined rematch. You'll play against a spectator instead.")
			s.spectators.InviteToPlay(1)
		} else {
			stayer.SendChat("No spectators available to play with you. Waiting for a new opponent.")
		}
		fresh := &waitEntry{conn: stayer.Conn(), username: stayer.Username, stop: make(chan struct{}), done: make(chan struct{})}
		s.queue.add(fresh)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runWaiting(ctx, fresh)
		}()

	case result.BothDeclined:
		if s.spectators.Count() >= 2 {
			s.spectators.BroadcastChat("Both players declined rematch. Starting a new game with the first two spectators!")
			s.spectators.InviteToPlay(2)
		}
	}

	s.spectators.BroadcastEvent("Game session has concluded.")
	s.tryStartMatch(ctx)
}

// RelayChat broadcasts a chat line to every active connection except the
// sender. Spectators are identified players, so the active set covers them.
func (s *Server) RelayChat(from, text string) {
	line := fmt.Sprintf("[CHAT] %s: %s", from, text)
	slog.Debug("relaying chat", "from", from)
	s.registry.ForEachActive(func(username string, conn *protocol.Conn) {
		if username == from {
			return
		}
		if err := conn.SendText(protocol.TypeChat, line); err != nil {
			slog.Debug("chat relay send failed", "to", username, "err", err)
		}
	})
}
