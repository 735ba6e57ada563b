package protocol

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// RecvKind tags the outcome of one Receive call. A stream read ends in
// exactly one of four ways, and callers handle each at the call site instead
// of unwinding through the stack.
type RecvKind int

const (
	// RecvValid means a whole frame arrived, verified and decrypted.
	RecvValid RecvKind = iota
	// RecvCorrupt means bytes arrived but the frame failed validation.
	RecvCorrupt
	// RecvClosed means the peer closed the connection or the socket died.
	RecvClosed
	// RecvTimeout means the deadline expired before a whole frame arrived.
	RecvTimeout
)

// String returns the outcome name for logs.
func (k RecvKind) String() string {
	switch k {
	case RecvValid:
		return "valid"
	case RecvCorrupt:
		return "corrupt"
	case RecvClosed:
		return "closed"
	case RecvTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// RecvResult carries the outcome of one Receive call. Header and Payload are
// meaningful only when Kind is RecvValid (Header may be partially filled for
// RecvCorrupt, for diagnostics).
type RecvResult struct {
	Kind    RecvKind
	Header  Header
	Payload []byte
	Err     error
}

const (
	sendRetries      = 3
	sendRetryBackoff = 100 * time.Millisecond
)

// Conn wraps one stream socket with the frame codec. Writes are serialized
// under a mutex so messages to a peer leave in emit order regardless of
// which task emits them. Close is idempotent.
type Conn struct {
	conn  net.Conn
	codec *Codec

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an accepted (or dialed) socket.
func NewConn(conn net.Conn, codec *Codec) *Conn {
	return &Conn{conn: conn, codec: codec}
}

// RemoteAddr returns the peer address string.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes the underlying socket. Safe to call from any task, any
// number of times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Receive blocks for up to timeout and returns one tagged outcome.
// The read deadline is always cleared before returning, so a later call
// with a different timeout starts clean. A timeout of zero blocks forever.
func (c *Conn) Receive(timeout time.Duration) RecvResult {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return RecvResult{Kind: RecvClosed, Err: fmt.Errorf("setting read deadline: %w", err)}
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}

	var headerBuf [HeaderSize]byte
	if _, err := io.ReadFull(c.conn, headerBuf[:]); err != nil {
		return classifyReadError(err)
	}

	header, err := ParseHeader(headerBuf[:])
	if err != nil {
		// Magic or length violation: reject before reading any body bytes.
		return RecvResult{Kind: RecvCorrupt, Header: header, Err: err}
	}

	frame := make([]byte, HeaderSize+int(header.DataLen))
	copy(frame, headerBuf[:])
	if _, err := io.ReadFull(c.conn, frame[HeaderSize:]); err != nil {
		res := classifyReadError(err)
		res.Header = header
		return res
	}

	header, payload, err := c.codec.Decode(frame)
	if err != nil {
		return RecvResult{Kind: RecvCorrupt, Header: header, Err: err}
	}

	slog.Debug("packet received",
		"remote", c.RemoteAddr(), "type", header.Type, "seq", header.Seq, "len", len(payload))
	return RecvResult{Kind: RecvValid, Header: header, Payload: payload}
}

// Send encodes once and writes the frame, retrying transient errors with a
// short linear backoff. A failed send means the peer is effectively gone.
func (c *Conn) Send(ptype PacketType, payload []byte) error {
	frame, err := c.codec.Encode(ptype, payload)
	if err != nil {
		return fmt.Errorf("send %s: %w", ptype, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		if _, err := c.conn.Write(frame); err == nil {
			slog.Debug("packet sent", "remote", c.RemoteAddr(), "type", ptype, "len", len(payload))
			return nil
		} else {
			lastErr = err
			if !isTransient(err) {
				break
			}
			time.Sleep(sendRetryBackoff * time.Duration(attempt))
		}
	}
	return fmt.Errorf("send %s: %w", ptype, lastErr)
}

// SendText is Send for UTF-8 text payloads.
func (c *Conn) SendText(ptype PacketType, text string) error {
	return c.Send(ptype, []byte(text))
}

func classifyReadError(err error) RecvResult {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return RecvResult{Kind: RecvTimeout, Err: err}
	}
	return RecvResult{Kind: RecvClosed, Err: err}
}

func isTransient(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
