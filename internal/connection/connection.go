// Package connection implements C4: one bidirectional viewer session —
// handshake, inbound message demultiplexer, bounded outbound queue,
// and liveness. Each Connection is a pair of independent goroutines
// (reader/writer) the way the teacher's ws_input.go/ws_terminal.go
// pair a blocking ReadMessage loop with a writer goroutine draining a
// channel, rather than writing directly from arbitrary call sites.
package connection

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mizuir0/live-reaction-system/internal/types"
	"github.com/gorilla/websocket"
)

// OutboundQueueSize is the bounded per-connection send queue depth
// (spec.md §4.4 "recommended 64 frames").
const OutboundQueueSize = 64

// MaxFrameBytes rejects any inbound frame larger than this ceiling
// (spec.md §4.4 "recommended 8 KiB").
const MaxFrameBytes = 8 * 1024

// MaxMessagesPerSecond is the inbound rate signal for a policy-violation
// close (spec.md §4.4 "~50 msg/s for one full second").
const MaxMessagesPerSecond = 50

// IdleTimeout closes a connection with no inbound frames for this long
// (spec.md §5 "recommended 60s").
const IdleTimeout = 60 * time.Second

// Connection is the transient per-viewer state (spec.md §3 "Connection").
type Connection struct {
	ConnID          string // server-assigned, for log correlation only
	userID          string
	ExperimentGroup types.ExperimentGroup
	isHost          bool
	JoinedMS        int64

	ws       *websocket.Conn
	outbound chan []byte

	closeOnce sync.Once
	closed    atomic.Bool

	lastActivityMS atomic.Int64

	rateMu        sync.Mutex
	rateWindowMS  int64
	rateCount     int
}

// newConnection wraps an upgraded websocket.Conn with the bounded
// queue and bookkeeping every Connection needs, before the handshake
// frame has even been read.
func newConnection(ws *websocket.Conn, connID string) *Connection {
	c := &Connection{
		ConnID:   connID,
		ws:       ws,
		outbound: make(chan []byte, OutboundQueueSize),
	}
	c.lastActivityMS.Store(time.Now().UnixMilli())
	ws.SetReadLimit(MaxFrameBytes)
	return c
}

// UserID implements hub.Subscriber.
func (c *Connection) UserID() string { return c.userID }

// IsHost implements hub.Subscriber.
func (c *Connection) IsHost() bool { return c.isHost }

// Enqueue implements hub.Subscriber: a full queue drops the new frame
// (not the oldest), per spec.md §4.4's backpressure policy.
func (c *Connection) Enqueue(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.outbound <- frame:
		return true
	default:
		return false
	}
}

// Close implements hub.Subscriber. Idempotent: closing an
// already-closed Connection is a no-op (spec.md §4.3 "unregister is
// idempotent" extends naturally to Close).
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.outbound)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// touch records the inbound activity time (read back by idleFor) and
// returns whether the connection has now exceeded the per-second rate
// limit. The idle close itself comes from readLoop's read deadline.
func (c *Connection) touch(nowMS int64) (rateExceeded bool) {
	c.lastActivityMS.Store(nowMS)

	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	if nowMS-c.rateWindowMS >= 1000 {
		c.rateWindowMS = nowMS
		c.rateCount = 0
	}
	c.rateCount++
	return c.rateCount > MaxMessagesPerSecond
}

// idleFor reports how long it has been since the last inbound frame.
func (c *Connection) idleFor(nowMS int64) time.Duration {
	return time.Duration(nowMS-c.lastActivityMS.Load()) * time.Millisecond
}
