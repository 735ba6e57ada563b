package game

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/udisondev/battlego/internal/protocol"
)

// ErrPeerGone tags a player connection failure: socket closed, send failure,
// an explicit Disconnect packet, or too many corrupt frames in a row. The
// session engine converts it into an Interrupted transition.
var ErrPeerGone = errors.New("peer gone")

// ErrInputTimeout tags an expired player-input read. Setup handles it by
// falling back to random placement; the turn loop treats it as a
// disconnection.
var ErrInputTimeout = errors.New("input timeout")

// maxConsecutiveCorrupt is how many corrupt frames in a row a connection may
// produce before it is treated as gone.
const maxConsecutiveCorrupt = 5

// ChatRelay forwards free-text chat received while the engine was waiting
// for game input.
type ChatRelay interface {
	RelayChat(from, text string)
}

// gameCommandChats are single-word Chat payloads interpreted as game
// commands even though the client sent them as Chat rather than Move. The
// reference clients rely on this leniency.
var gameCommandChats = map[string]bool{
	"Y": true, "N": true, "YES": true, "NO": true, "QUIT": true,
}

// PlayerConn binds a username to its current framed connection and adapts
// packet traffic into the line-oriented reads the session engine consumes.
// The connection is swappable: after a successful reconnection the engine
// installs the new socket and the adapter carries on.
type PlayerConn struct {
	Username string

	mu   sync.Mutex
	conn *protocol.Conn

	chat ChatRelay
}

// NewPlayerConn wraps an identified connection.
func NewPlayerConn(username string, conn *protocol.Conn, chat ChatRelay) *PlayerConn {
	return &PlayerConn{Username: username, conn: conn, chat: chat}
}

// Conn returns the current connection.
func (p *PlayerConn) Conn() *protocol.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// SwapConn installs a new connection after a reconnection.
func (p *PlayerConn) SwapConn(conn *protocol.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

// Close closes the current connection.
func (p *PlayerConn) Close() {
	p.Conn().Close()
}

// ReadLine blocks until the player produces one game-relevant input line or
// the timeout expires. Chat that is not a game command is relayed and the
// wait continues; heartbeats are acknowledged inline; corrupt frames are
// dropped, with the connection declared gone after too many in a row.
func (p *PlayerConn) ReadLine(timeout time.Duration) (string, error) {
	corrupt := 0
	for {
		res := p.Conn().Receive(timeout)
		switch res.Kind {
		case protocol.RecvClosed:
			return "", fmt.Errorf("%w: %s", ErrPeerGone, p.Username)
		case protocol.RecvTimeout:
			return "", fmt.Errorf("%w: %s", ErrInputTimeout, p.Username)
		case protocol.RecvCorrupt:
			corrupt++
			slog.Warn("corrupt packet from player",
				"username", p.Username, "count", corrupt, "err", res.Err)
			if corrupt >= maxConsecutiveCorrupt {
				return "", fmt.Errorf("%w: %s: repeated corrupt frames", ErrPeerGone, p.Username)
			}
			continue
		}
		corrupt = 0

		text := strings.TrimSpace(string(res.Payload))
		switch res.Header.Type {
		case protocol.TypeMove:
			return text, nil
		case protocol.TypeChat:
			if cmd := strings.ToUpper(text); gameCommandChats[cmd] {
				return cmd, nil
			}
			if p.chat != nil && text != "" {
				p.chat.RelayChat(p.Username, text)
			}
		case protocol.TypeDisconnect:
			return "", fmt.Errorf("%w: %s: disconnect packet", ErrPeerGone, p.Username)
		case protocol.TypeHeartbeat:
			if err := p.Conn().Send(protocol.TypeAck, nil); err != nil {
				return "", fmt.Errorf("%w: %s: %v", ErrPeerGone, p.Username, err)
			}
		case protocol.TypeAck:
			// Stray ack from an earlier probe; ignore.
		default:
			slog.Debug("ignoring packet while waiting for game input",
				"username", p.Username, "type", res.Header.Type)
		}
	}
}

// SendChat delivers a game-flow or prompt message.
func (p *PlayerConn) SendChat(text string) error {
	return p.send(protocol.TypeChat, text)
}

// SendBoard delivers a rendered board update.
func (p *PlayerConn) SendBoard(text string) error {
	return p.send(protocol.TypeBoardUpdate, text)
}

// SendPacket delivers an arbitrary packet type with a text payload.
func (p *PlayerConn) SendPacket(ptype protocol.PacketType, text string) error {
	return p.send(ptype, text)
}

func (p *PlayerConn) send(ptype protocol.PacketType, text string) error {
	if err := p.Conn().SendText(ptype, text); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPeerGone, p.Username, err)
	}
	return nil
}
