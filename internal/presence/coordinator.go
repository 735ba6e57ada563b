package presence

import (
	"context"
	"time"

	"github.com/udisondev/battlego/internal/protocol"
)

// ReturnOutcome tags the result of WaitForReturn.
type ReturnOutcome int

const (
	// Resumed means the player came back inside the window; Conn and
	// Snapshot are set.
	Resumed ReturnOutcome = iota
	// ExpiredForfeit means the window passed with no return.
	ExpiredForfeit
	// WaitCanceled means the surrounding context ended first.
	WaitCanceled
)

// ReturnResult is what a parked session learns about its missing player.
type ReturnResult struct {
	Outcome  ReturnOutcome
	Conn     *protocol.Conn
	Snapshot []byte
}

// WaitForReturn gates an interrupted session on its missing player. It polls
// the registry at up-to-one-second granularity until either the username is
// active again with a matching parked snapshot (which is then consumed), or
// the grace window expires. onTick, when non-nil, is invoked on each poll
// with the remaining time, letting the session keep the surviving player
// informed.
func (r *Registry) WaitForReturn(ctx context.Context, username, gameID string, onTick func(remaining time.Duration)) ReturnResult {
	deadline := time.Now().Add(r.window)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if conn, snapshot, ok := r.Claim(username, gameID); ok {
			return ReturnResult{Outcome: Resumed, Conn: conn, Snapshot: snapshot}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			// Drop the stale snapshot so it cannot resurrect later.
			r.Clean(username, gameID)
			return ReturnResult{Outcome: ExpiredForfeit}
		}
		if onTick != nil {
			onTick(remaining)
		}

		select {
		case <-ctx.Done():
			return ReturnResult{Outcome: WaitCanceled}
		case <-ticker.C:
		}
	}
}

// RunSweeper periodically drops expired parked entries until the context
// ends. The implicit sweep in TryReserve already keeps the maps honest; this
// keeps them small on an idle server.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
