// Package presence tracks which usernames are live on the server and which
// are disconnected but still eligible to resume an interrupted match. It is
// the single authority consulted by admission, the waiting lobby, and the
// session engine when a connection identity changes hands.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/battlego/internal/protocol"
)

// ReserveStatus is the outcome of TryReserve.
type ReserveStatus int

const (
	// Reserved means the username was free and is now bound to the
	// connection.
	Reserved ReserveStatus = iota
	// AlreadyActive means another live connection holds the username.
	AlreadyActive
	// ResumeEligible means the username belongs to a disconnected player
	// whose grace window has not expired.
	ResumeEligible
)

// String returns the status name for logs.
func (s ReserveStatus) String() string {
	switch s {
	case Reserved:
		return "reserved"
	case AlreadyActive:
		return "already_active"
	case ResumeEligible:
		return "resume_eligible"
	default:
		return "unknown"
	}
}

// Parked holds everything needed to resume a disconnected player's match.
// The snapshot is an opaque encoded blob; the registry never looks inside.
type Parked struct {
	Snapshot       []byte
	DisconnectTime time.Time
	GameID         string
	Opponent       string
}

// Registry is the process-wide presence state: two maps behind one mutex.
// Critical sections are allocation-light and never perform network I/O.
type Registry struct {
	window       time.Duration
	pollInterval time.Duration

	mu           sync.Mutex
	active       map[string]*protocol.Conn
	disconnected map[string]Parked
}

// NewRegistry creates a registry with the given reconnection grace window.
func NewRegistry(window time.Duration) *Registry {
	return &Registry{
		window:       window,
		pollInterval: time.Second,
		active:       make(map[string]*protocol.Conn),
		disconnected: make(map[string]Parked),
	}
}

// SetPollInterval overrides the WaitForReturn polling granularity. Tests use
// this to shrink the wait loops.
func (r *Registry) SetPollInterval(d time.Duration) {
	r.pollInterval = d
}

// Window returns the reconnection grace window.
func (r *Registry) Window() time.Duration {
	return r.window
}

// TryReserve claims a username for a new connection. Expired disconnected
// entries are swept first, so a stale parked name does not block a fresh
// player. On Reserved the connection is atomically bound to the username;
// the other statuses bind nothing.
func (r *Registry) TryReserve(username string, conn *protocol.Conn) ReserveStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	if parked, ok := r.disconnected[username]; ok {
		if time.Since(parked.DisconnectTime) <= r.window {
			return ResumeEligible
		}
		delete(r.disconnected, username)
	}

	if _, ok := r.active[username]; ok {
		return AlreadyActive
	}

	r.active[username] = conn
	return Reserved
}

// Release removes the username's active binding, but only if it still points
// at the given connection. A stale release after a reconnection swap is a
// no-op.
func (r *Registry) Release(username string, conn *protocol.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[username] == conn {
		delete(r.active, username)
	}
}

// Active returns the username's current connection, if any.
func (r *Registry) Active(username string) (*protocol.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.active[username]
	return conn, ok
}

// Park moves a username from active to disconnected, stamping the current
// time. Idempotent for the same match: a later park overwrites an earlier
// one, so the latest snapshot wins after repeat disconnections.
func (r *Registry) Park(username string, snapshot []byte, gameID, opponent string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, username)
	r.disconnected[username] = Parked{
		Snapshot:       snapshot,
		DisconnectTime: time.Now(),
		GameID:         gameID,
		Opponent:       opponent,
	}
	slog.Info("player parked", "username", username, "game_id", gameID, "window", r.window)
}

// AdoptResumed binds a returning player's new connection to their username.
// Succeeds only while the parked entry is inside the grace window. Returns
// the displaced connection, if a zombie one was still bound, so the caller
// can close it outside the lock.
func (r *Registry) AdoptResumed(username string, conn *protocol.Conn) (old *protocol.Conn, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parked, found := r.disconnected[username]
	if !found {
		return nil, false
	}
	if time.Since(parked.DisconnectTime) > r.window {
		delete(r.disconnected, username)
		return nil, false
	}

	old = r.active[username]
	if old == conn {
		old = nil
	}
	r.active[username] = conn
	slog.Info("player resumed connection adopted", "username", username, "game_id", parked.GameID)
	return old, true
}

// Claim consumes the parked snapshot for a resumed match: it succeeds only
// when the username is active again and the parked entry belongs to the
// given match. The parked entry is removed; the new connection is returned.
func (r *Registry) Claim(username, gameID string) (*protocol.Conn, []byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, liveAgain := r.active[username]
	if !liveAgain {
		return nil, nil, false
	}
	parked, found := r.disconnected[username]
	if !found || parked.GameID != gameID {
		return nil, nil, false
	}

	delete(r.disconnected, username)
	return conn, parked.Snapshot, true
}

// ParkedFor returns the parked record for a username when it belongs to the
// given match and is still inside the grace window.
func (r *Registry) ParkedFor(username, gameID string) (Parked, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parked, ok := r.disconnected[username]
	if !ok || parked.GameID != gameID {
		return Parked{}, false
	}
	if time.Since(parked.DisconnectTime) > r.window {
		return Parked{}, false
	}
	return parked, true
}

// Demote reclassifies a zombie active entry as disconnected with a fresh
// disconnect time. Used after a failed liveness probe when a new connection
// arrives for a name still marked active. Identity-guarded like Release.
func (r *Registry) Demote(username string, conn *protocol.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[username] != conn {
		return false
	}
	delete(r.active, username)

	parked := r.disconnected[username]
	parked.DisconnectTime = time.Now()
	r.disconnected[username] = parked
	slog.Info("stale active entry demoted", "username", username)
	return true
}

// Clean removes any parked snapshot still keyed to the given match, so a
// finished session cannot zombie-resume a later one.
func (r *Registry) Clean(username, gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if parked, ok := r.disconnected[username]; ok && parked.GameID == gameID {
		delete(r.disconnected, username)
	}
}

// sweepLocked drops expired disconnected entries. Caller holds the mutex.
func (r *Registry) sweepLocked() {
	now := time.Now()
	for username, parked := range r.disconnected {
		if now.Sub(parked.DisconnectTime) > r.window {
			delete(r.disconnected, username)
			slog.Info("expired parked entry swept", "username", username, "game_id", parked.GameID)
		}
	}
}

// Sweep drops expired disconnected entries.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
}

// ActiveCount returns the number of live username bindings.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// ParkedCount returns the number of disconnected-but-resumable entries.
func (r *Registry) ParkedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disconnected)
}

// ForEachActive calls fn for every active binding. The snapshot of entries
// is taken under the lock; fn runs outside it, so it may perform I/O.
func (r *Registry) ForEachActive(fn func(username string, conn *protocol.Conn)) {
	r.mu.Lock()
	type entry struct {
		name string
		conn *protocol.Conn
	}
	entries := make([]entry, 0, len(r.active))
	for name, conn := range r.active {
		entries = append(entries, entry{name, conn})
	}
	r.mu.Unlock()

	for _, e := range entries {
		fn(e.name, e.conn)
	}
}
