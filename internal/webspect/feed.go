// Package webspect serves a read-only websocket feed of the current match
// for browser observers. It is one more sink of the spectator fanout and
// carries no game input: inbound messages are drained and discarded.
package webspect

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Message is one feed event pushed to browser observers.
type Message struct {
	Type string `json:"type"` // "board" or "event"
	Text string `json:"text"`
}

// isValidOrigin allows same-origin and localhost connections.
func isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No origin header - could be a non-browser client.
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == originURL.Host {
		return true
	}
	return strings.HasPrefix(originURL.Host, "localhost:") ||
		strings.HasPrefix(originURL.Host, "127.0.0.1:") ||
		originURL.Host == "localhost" ||
		originURL.Host == "127.0.0.1"
}

var upgrader = websocket.Upgrader{CheckOrigin: isValidOrigin}

// Feed is the websocket observer hub. It implements the server's spectator
// Sink interface, so it receives the grid views and game-event lines sent to
// TCP spectators (events without their "[GAME EVENT] " prefix); other
// spectator chat is not forwarded.
type Feed struct {
	addr string

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewFeed creates a feed that will listen on addr (e.g. "127.0.0.1:8080").
func NewFeed(addr string) *Feed {
	return &Feed{addr: addr, clients: make(map[*websocket.Conn]struct{})}
}

// Board forwards a rendered grid view to all browser observers.
func (f *Feed) Board(text string) {
	f.push(Message{Type: "board", Text: text})
}

// Event forwards a game event line to all browser observers.
func (f *Feed) Event(text string) {
	f.push(Message{Type: "event", Text: text})
}

func (f *Feed) push(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.clients))
	for conn := range f.clients {
		conns = append(conns, conn)
	}
	f.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			f.drop(conn)
		}
	}
}

func (f *Feed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	_, ok := f.clients[conn]
	delete(f.clients, conn)
	f.mu.Unlock()
	if ok {
		conn.Close()
		slog.Info("web spectator dropped", "remote", conn.RemoteAddr())
	}
}

func (f *Feed) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	f.mu.Lock()
	f.clients[conn] = struct{}{}
	f.mu.Unlock()
	slog.Info("web spectator joined", "remote", conn.RemoteAddr())

	// Drain and discard inbound frames; the feed is strictly one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.drop(conn)
				return
			}
		}
	}()
}

// Run serves the /watch endpoint until the context ends.
func (f *Feed) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", f.handleWatch)

	srv := &http.Server{Addr: f.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)

		f.mu.Lock()
		conns := make([]*websocket.Conn, 0, len(f.clients))
		for conn := range f.clients {
			conns = append(conns, conn)
		}
		f.clients = make(map[*websocket.Conn]struct{})
		f.mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	}()

	slog.Info("web spectator feed started", "address", f.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
