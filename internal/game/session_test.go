package game

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/battlego/internal/crypto"
	"github.com/udisondev/battlego/internal/presence"
	"github.com/udisondev/battlego/internal/protocol"
)

const awaitTimeout = 5 * time.Second

// layoutLow parks every ship in rows F..J, leaving rows A..E empty water.
var layoutLow = []string{"F1 H", "G1 H", "H1 H", "I1 H", "J1 H"}

// layoutHigh parks every ship in rows A..E, leaving rows F..J empty water.
var layoutHigh = []string{"A1 H", "B1 H", "C1 H", "D1 H", "E1 H"}

type pkt struct {
	ptype   protocol.PacketType
	payload string
}

// testClient is a scripted peer: a pump goroutine drains every inbound
// packet into a channel and the script awaits the ones it cares about.
type testClient struct {
	t    *testing.T
	name string
	conn *protocol.Conn
	recv chan pkt
}

func newTestClient(t *testing.T, name string, raw net.Conn, codec *protocol.Codec) *testClient {
	c := &testClient{
		t:    t,
		name: name,
		conn: protocol.NewConn(raw, codec),
		recv: make(chan pkt, 256),
	}
	go func() {
		for {
			res := c.conn.Receive(0)
			if res.Kind != protocol.RecvValid {
				close(c.recv)
				return
			}
			c.recv <- pkt{ptype: res.Header.Type, payload: string(res.Payload)}
		}
	}()
	t.Cleanup(func() { c.conn.Close() })
	return c
}

// await consumes inbound packets until one matches, failing the test on
// timeout or a closed connection.
func (c *testClient) await(match func(pkt) bool) pkt {
	c.t.Helper()
	deadline := time.After(awaitTimeout)
	for {
		select {
		case p, ok := <-c.recv:
			if !ok {
				c.t.Fatalf("%s: connection closed while awaiting packet", c.name)
				return pkt{}
			}
			if match(p) {
				return p
			}
		case <-deadline:
			c.t.Fatalf("%s: timed out awaiting packet", c.name)
			return pkt{}
		}
	}
}

func (c *testClient) awaitChat(substr string) pkt {
	c.t.Helper()
	return c.await(func(p pkt) bool {
		return p.ptype == protocol.TypeChat && strings.Contains(p.payload, substr)
	})
}

func (c *testClient) awaitType(ptype protocol.PacketType) pkt {
	c.t.Helper()
	return c.await(func(p pkt) bool { return p.ptype == ptype })
}

func (c *testClient) sendMove(text string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SendText(protocol.TypeMove, text))
}

func (c *testClient) sendChat(text string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SendText(protocol.TypeChat, text))
}

// chooseRandomPlacement answers the mode prompt with R.
func (c *testClient) chooseRandomPlacement() {
	c.awaitChat("manually (M) or randomly (R)")
	c.sendMove("R")
	c.awaitChat("placed randomly on your board")
}

// placeManually answers the mode prompt with M and places each ship at the
// scripted position.
func (c *testClient) placeManually(placements []string) {
	c.awaitChat("manually (M) or randomly (R)")
	c.sendMove("M")
	for _, placement := range placements {
		c.awaitChat("Enter starting coordinate and orientation")
		c.sendMove(placement)
		c.awaitChat("placed successfully")
	}
}

// fire waits for the fire prompt and shoots.
func (c *testClient) fire(coord string) {
	c.awaitChat("Enter coordinate to fire at")
	c.sendMove(coord)
}

type stubHub struct {
	mu     sync.Mutex
	boards []string
	events []string
}

func (h *stubHub) BroadcastBoard(text string) {
	h.mu.Lock()
	h.boards = append(h.boards, text)
	h.mu.Unlock()
}

func (h *stubHub) BroadcastEvent(text string) {
	h.mu.Lock()
	h.events = append(h.events, text)
	h.mu.Unlock()
}

func (h *stubHub) boardsCopy() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.boards...)
}

func (h *stubHub) eventsCopy() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

type harness struct {
	session  *Session
	registry *presence.Registry
	hub      *stubHub
	codec    *protocol.Codec
	c1, c2   *testClient
	result   chan Result
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, cfg Config, window time.Duration) *harness {
	t.Helper()

	codec, err := protocol.NewCodec(make([]byte, crypto.KeySize))
	require.NoError(t, err)

	p1Client, p1Server := net.Pipe()
	p2Client, p2Server := net.Pipe()

	s1 := protocol.NewConn(p1Server, codec)
	s2 := protocol.NewConn(p2Server, codec)

	registry := presence.NewRegistry(window)
	registry.SetPollInterval(20 * time.Millisecond)
	require.Equal(t, presence.Reserved, registry.TryReserve("p1", s1))
	require.Equal(t, presence.Reserved, registry.TryReserve("p2", s2))

	hub := &stubHub{}
	session := NewSession("game-1",
		NewPlayerConn("p1", s1, nil),
		NewPlayerConn("p2", s2, nil),
		registry, hub, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		session:  session,
		registry: registry,
		hub:      hub,
		codec:    codec,
		c1:       newTestClient(t, "p1", p1Client, codec),
		c2:       newTestClient(t, "p2", p2Client, codec),
		result:   make(chan Result, 1),
		cancel:   cancel,
	}
	go func() {
		h.result <- session.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		s1.Close()
		s2.Close()
		h.drainResult(t)
	})
	return h
}

func (h *harness) drainResult(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-h.result:
		h.result <- res
		return res
	case <-time.After(awaitTimeout):
		t.Fatal("session did not finish")
		return Result{}
	}
}

func shortConfig() Config {
	return Config{MoveTimeout: 2 * time.Second, RematchTimeout: 2 * time.Second}
}

func TestTurnDoesNotAdvanceOnAlreadyShot(t *testing.T) {
	h := newHarness(t, shortConfig(), time.Minute)

	var wg sync.WaitGroup
	wg.Go(func() { h.c1.placeManually(layoutLow) })
	wg.Go(func() { h.c2.placeManually(layoutLow) })
	wg.Wait()

	// B2 and A1 are empty on both boards.
	h.c1.fire("B2")
	h.c1.awaitChat("MISS!")

	h.c2.fire("A1")
	h.c2.awaitChat("MISS!")

	h.c1.fire("B2")
	h.c1.awaitChat("already fired at that location")

	// The next turn prompt must still address p1: no turn change.
	p := h.c1.awaitChat("It's your turn")
	assert.Contains(t, p.payload, "p1")

	h.cancel()
}

func TestPlacementTimeoutDefaultsRandom(t *testing.T) {
	cfg := Config{MoveTimeout: 150 * time.Millisecond, RematchTimeout: time.Second}
	h := newHarness(t, cfg, 200*time.Millisecond)

	// p1 never answers the mode prompt.
	h.c1.awaitChat("manually (M) or randomly (R)")
	h.c1.awaitChat("No selection made within timeout period")

	update := h.c1.awaitType(protocol.TypeBoardUpdate)
	assert.Equal(t, 17, strings.Count(update.payload, "S"),
		"random placement must put all 17 ship cells on the own grid")
}

func TestQuitForfeitsAndRematchDeclined(t *testing.T) {
	h := newHarness(t, shortConfig(), time.Minute)

	var wg sync.WaitGroup
	wg.Go(func() { h.c1.chooseRandomPlacement() })
	wg.Go(func() { h.c2.chooseRandomPlacement() })
	wg.Wait()

	h.c1.fire("quit")

	h.c1.awaitChat("You have quit the game")
	h.c2.awaitChat("win by default")
	h.c1.awaitType(protocol.TypeGameEnd)
	h.c2.awaitType(protocol.TypeGameEnd)

	h.c1.awaitChat("Do you want to play again?")
	h.c1.sendMove("N")
	h.c2.awaitChat("Do you want to play again?")
	h.c2.sendMove("N")

	res := h.drainResult(t)
	assert.Equal(t, "p2", res.Winner)
	assert.True(t, res.BothDeclined)
	assert.Nil(t, res.Stayer)
}

func TestRematchOneStays(t *testing.T) {
	h := newHarness(t, shortConfig(), time.Minute)

	var wg sync.WaitGroup
	wg.Go(func() { h.c1.chooseRandomPlacement() })
	wg.Go(func() { h.c2.chooseRandomPlacement() })
	wg.Wait()

	h.c1.fire("quit")
	h.c1.awaitType(protocol.TypeGameEnd)
	h.c2.awaitType(protocol.TypeGameEnd)

	// p1 answers through a Chat packet: single-letter chats double as game
	// commands.
	h.c1.awaitChat("Do you want to play again?")
	h.c1.sendChat("Y")
	h.c2.awaitChat("Do you want to play again?")
	h.c2.sendMove("N")

	h.c2.await(func(p pkt) bool {
		return p.ptype == protocol.TypeGameEnd && strings.Contains(p.payload, "declined rematch")
	})

	res := h.drainResult(t)
	assert.Equal(t, "p2", res.Winner)
	require.NotNil(t, res.Stayer)
	assert.Equal(t, "p1", res.Stayer.Username)
	assert.False(t, res.BothDeclined)
}

func TestGraceExpiryForfeit(t *testing.T) {
	h := newHarness(t, shortConfig(), 300*time.Millisecond)

	var wg sync.WaitGroup
	wg.Go(func() { h.c1.chooseRandomPlacement() })
	wg.Go(func() { h.c2.chooseRandomPlacement() })
	wg.Wait()

	// p1 drops mid-turn and never comes back.
	h.c1.awaitChat("Enter coordinate to fire at")
	h.c1.conn.Close()

	h.c2.awaitChat("reconnection")
	h.c2.await(func(p pkt) bool {
		return p.ptype == protocol.TypeGameEnd && strings.Contains(p.payload, "default")
	})

	res := h.drainResult(t)
	assert.Equal(t, "p2", res.Winner)
	assert.Equal(t, 0, h.registry.ParkedCount(), "forfeit must clear the parked snapshot")
}

func TestMidMatchDisconnectReconnectResume(t *testing.T) {
	h := newHarness(t, shortConfig(), 5*time.Second)

	var wg sync.WaitGroup
	wg.Go(func() { h.c1.placeManually(layoutHigh) })
	wg.Go(func() { h.c2.placeManually(layoutLow) })
	wg.Wait()

	// p1 hits p2's Carrier at F1, then p2 misses at J10 (p1 keeps rows
	// F..J empty), and it is p1's turn again.
	h.c1.fire("F1")
	h.c1.awaitChat("HIT!")

	h.c2.fire("J10")
	h.c2.awaitChat("MISS!")

	h.c1.awaitChat("It's your turn")
	h.c1.conn.Close()

	h.c2.awaitChat("reconnection")

	// A new connection identifies as p1, exactly as admission would route
	// it.
	newClientRaw, newServerRaw := net.Pipe()
	newServer := protocol.NewConn(newServerRaw, h.codec)
	require.Equal(t, presence.ResumeEligible, h.registry.TryReserve("p1", newServer))
	_, ok := h.registry.AdoptResumed("p1", newServer)
	require.True(t, ok)

	c1b := newTestClient(t, "p1-reborn", newClientRaw, h.codec)

	c1b.awaitType(protocol.TypeReconnect)
	h.c2.awaitChat("has reconnected")
	c1b.awaitChat("Game resumed.")

	// Resume restores whose turn it was: p1's.
	p := c1b.awaitChat("It's your turn")
	assert.Contains(t, p.payload, "p1")

	// The restored view must reflect the earlier hit on p2's Carrier: row
	// F of the opponent grid carries the X.
	update := c1b.awaitType(protocol.TypeBoardUpdate)
	_, opponentGrid, found := strings.Cut(update.payload, "Opponent's Grid:")
	require.True(t, found)
	assert.Contains(t, opponentGrid, "F   X ")

	h.cancel()
}

func TestSpectatorViewIsMasked(t *testing.T) {
	h := newHarness(t, shortConfig(), time.Minute)

	var wg sync.WaitGroup
	wg.Go(func() { h.c1.chooseRandomPlacement() })
	wg.Go(func() { h.c2.chooseRandomPlacement() })
	wg.Wait()

	h.c1.fire("A1")
	h.c1.await(func(p pkt) bool {
		return p.ptype == protocol.TypeChat &&
			(strings.Contains(p.payload, "HIT!") || strings.Contains(p.payload, "MISS!"))
	})

	boards := h.hub.boardsCopy()
	require.NotEmpty(t, boards, "spectators must have received grid broadcasts")
	for _, b := range boards {
		for _, line := range strings.Split(b, "\n") {
			if len(line) == 0 || line[0] < 'A' || line[0] > 'J' || !strings.HasPrefix(line[1:], "  ") {
				continue // not a grid row
			}
			assert.NotContains(t, line, "S", "spectator grid row must not reveal ships: %q", line)
		}
	}

	events := h.hub.eventsCopy()
	assert.NotEmpty(t, events)

	h.cancel()
}

func TestManualPlacementValidation(t *testing.T) {
	cfg := Config{MoveTimeout: time.Second, RematchTimeout: time.Second}
	h := newHarness(t, cfg, time.Minute)

	// p2 is never prompted: the session is canceled during p1's placement.
	h.c1.awaitChat("manually (M) or randomly (R)")
	h.c1.sendMove("M")

	h.c1.awaitChat("Enter starting coordinate and orientation")
	h.c1.sendMove("nonsense")
	h.c1.awaitChat("Invalid format")

	h.c1.awaitChat("Enter starting coordinate and orientation")
	h.c1.sendMove("Z9 H")
	h.c1.awaitChat("Invalid input")

	h.c1.awaitChat("Enter starting coordinate and orientation")
	h.c1.sendMove("A1 X")
	h.c1.awaitChat("Invalid orientation")

	h.c1.awaitChat("Enter starting coordinate and orientation")
	h.c1.sendMove("A7 H")
	h.c1.awaitChat("Cannot place Carrier")

	h.c1.awaitChat("Enter starting coordinate and orientation")
	h.c1.sendMove("A1 H")
	h.c1.awaitChat("Carrier placed successfully")

	h.cancel()
}
