// Package hub implements C3: the registry of live connections, keyed
// by user id, with best-effort non-blocking fan-out. Registry access
// is serialized by one exclusive lock; broadcast copies the subscriber
// list under the lock and dispatches outside it, the same split the
// teacher's session_registry.go uses (spec.md §4.3, §9).
package hub

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Subscriber is anything the Hub can register, unregister, and send a
// frame to. internal/connection.Connection implements this; the
// interface keeps Hub free of any dependency on the websocket package.
type Subscriber interface {
	UserID() string
	IsHost() bool
	Enqueue(frame []byte) bool // false = frame dropped (queue full or subscriber closed)
	Close()
}

// Hub is the single process-wide connection registry (spec.md §9
// "Ambient singletons" — passed in as a dependency, not a global).
type Hub struct {
	mu      sync.Mutex
	byUser  map[string]Subscriber
	dropped uint64 // broadcast drops, for GET /status (§C supplemental)
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{byUser: make(map[string]Subscriber)}
}

// Register adds conn to the registry. If a Connection is already
// registered for the same user id, the previous one is closed first —
// the newest connection wins (spec.md §3 "Connection").
func (h *Hub) Register(conn Subscriber) {
	h.mu.Lock()
	previous, existed := h.byUser[conn.UserID()]
	h.byUser[conn.UserID()] = conn
	h.mu.Unlock()

	if existed {
		previous.Close()
	}
}

// Unregister removes conn from the registry, but only if it is still
// the registered connection for that user id — an older, already
// displaced Connection unregistering must not evict a newer one.
// Idempotent: unregistering an already-removed connection is a no-op.
func (h *Hub) Unregister(conn Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.byUser[conn.UserID()]; ok && current == conn {
		delete(h.byUser, conn.UserID())
	}
}

// Count returns the number of currently registered connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byUser)
}

// UserIDs returns the user ids of every currently registered connection.
func (h *Hub) UserIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		ids = append(ids, id)
	}
	return ids
}

// DropCount returns the cumulative number of broadcast/send frames a
// subscriber refused, whether its queue was full or it was already
// closed (§C supplemental drop counter).
func (h *Hub) DropCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// subscribers takes a stable snapshot of the registry under the lock;
// callers dispatch against the snapshot without holding it, so a slow
// or blocked subscriber can never stall registry access (spec.md §9).
func (h *Hub) subscribers() []Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Subscriber, 0, len(h.byUser))
	for _, conn := range h.byUser {
		out = append(out, conn)
	}
	return out
}

// Broadcast enqueues frame to every registered connection. A full
// outbound queue on one subscriber drops that subscriber's frame and
// is logged, but never blocks or affects delivery to any other
// subscriber (invariant I5).
func (h *Hub) Broadcast(frame []byte) {
	h.broadcastFiltered(frame, "")
}

// BroadcastExcept enqueues frame to every registered connection except
// exceptUserID — used so a host's own transport event is not echoed
// back to itself (spec.md §4.6).
func (h *Hub) BroadcastExcept(exceptUserID string, frame []byte) {
	h.broadcastFiltered(frame, exceptUserID)
}

func (h *Hub) broadcastFiltered(frame []byte, exceptUserID string) {
	for _, conn := range h.subscribers() {
		if exceptUserID != "" && conn.UserID() == exceptUserID {
			continue
		}
		if !conn.Enqueue(frame) {
			h.recordDrop()
			log.Warn().Str("user_id", conn.UserID()).Msg("broadcast dropped: outbound queue full")
		}
	}
}

// SendTo enqueues frame to exactly the connection registered for
// userID. If no connection is registered for that id, the send is
// silently dropped (spec.md §4.6 "if no host is currently registered,
// the request is dropped silently").
func (h *Hub) SendTo(userID string, frame []byte) {
	h.mu.Lock()
	conn, ok := h.byUser[userID]
	h.mu.Unlock()

	if !ok {
		return
	}
	if !conn.Enqueue(frame) {
		h.recordDrop()
		log.Warn().Str("user_id", userID).Msg("send_to dropped: outbound queue full")
	}
}

// Host returns the currently registered host connection, if any.
func (h *Hub) Host() (Subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conn := range h.byUser {
		if conn.IsHost() {
			return conn, true
		}
	}
	return nil, false
}

// CloseAll closes every currently registered connection, for use
// during graceful shutdown (spec.md §4.7 "close out open connections").
func (h *Hub) CloseAll() {
	for _, conn := range h.subscribers() {
		conn.Close()
	}
}

func (h *Hub) recordDrop() {
	h.mu.Lock()
	h.dropped++
	h.mu.Unlock()
}
