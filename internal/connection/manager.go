package connection

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Mizuir0/live-reaction-system/internal/hub"
	"github.com/Mizuir0/live-reaction-system/internal/store"
	"github.com/Mizuir0/live-reaction-system/internal/types"
	"github.com/Mizuir0/live-reaction-system/internal/wire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Persister is the subset of persistence.Store a Connection needs.
type Persister interface {
	EnsureUserRow(userID string, group types.ExperimentGroup) error
	LogReaction(sample types.Sample) error
	SessionCreate(sessionID, userID, videoID string) error
	SessionComplete(sessionID string, completedMS int64) error
	LogEffect(effect types.Effect) error
}

// Manager upgrades /ws requests into Connections and wires each one to
// Store, Persistence, and Hub (spec.md §4.7 "wires C4 to the Hub at
// session start").
type Manager struct {
	store       *store.Store
	persistence Persister
	hub         *hub.Hub
	upgrader    websocket.Upgrader
}

// NewManager builds a Manager whose CheckOrigin allows frontendURL
// ("*" allows any origin — spec.md §6 "FRONTEND_URL (CORS allowlist)").
func NewManager(st *store.Store, persistence Persister, h *hub.Hub, frontendURL string) *Manager {
	return &Manager{
		store:       st,
		persistence: persistence,
		hub:         h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if frontendURL == "" || frontendURL == "*" {
					return true
				}
				return r.Header.Get("Origin") == frontendURL
			},
		},
	}
}

// Accept upgrades the request, performs the handshake, and — on
// success — blocks for the lifetime of the connection running its
// reader loop; the writer runs on its own goroutine. Before Accept
// returns, the reader loop has exited and the Connection is unregistered
// from Hub and closed; closing its outbound queue ends the writer, which
// is not waited for.
func (m *Manager) Accept(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	conn := newConnection(ws, connID)

	if err := m.handshake(conn); err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Msg("handshake failed, closing")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	m.hub.Register(conn)
	log.Info().Str("conn_id", connID).Str("user_id", conn.userID).Bool("is_host", conn.isHost).Msg("connection registered")

	go m.writeLoop(conn)
	m.sendEstablished(conn)

	m.readLoop(conn)

	m.hub.Unregister(conn)
	conn.Close()
	log.Info().Str("conn_id", connID).Str("user_id", conn.userID).Msg("connection closed")
}

// handshake waits for the initial frame and populates userID/group/isHost.
func (m *Manager) handshake(conn *Connection) error {
	_ = conn.ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.ws.SetReadDeadline(time.Time{})

	_, data, err := conn.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading handshake frame: %w", err)
	}

	var hs wire.Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return fmt.Errorf("malformed handshake JSON: %w", err)
	}
	if strings.TrimSpace(hs.UserID) == "" {
		return fmt.Errorf("handshake missing userId")
	}

	group := types.ExperimentGroup(hs.ExperimentGroup)
	switch group {
	case types.GroupExperiment, types.GroupControl1, types.GroupControl2, types.GroupDebug:
	default:
		group = types.DefaultExperimentGroup
	}

	conn.userID = hs.UserID
	conn.ExperimentGroup = group
	conn.isHost = hs.IsHost
	conn.JoinedMS = types.NowMS()

	m.store.EnsureUser(conn.userID, group)
	if err := m.persistence.EnsureUserRow(conn.userID, group); err != nil {
		log.Error().Err(err).Str("user_id", conn.userID).Msg("failed to ensure user row")
	}

	return nil
}

func (m *Manager) sendEstablished(conn *Connection) {
	frame := wire.ConnectionEstablished{
		Type:            "connection_established",
		UserID:          conn.userID,
		ExperimentGroup: string(conn.ExperimentGroup),
		IsHost:          conn.isHost,
		Message:         fmt.Sprintf("welcome, %s", conn.userID),
		Timestamp:       time.UnixMilli(types.NowMS()).UTC().Format(time.RFC3339),
	}
	encoded, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode connection_established")
		return
	}
	if !conn.Enqueue(encoded) {
		log.Warn().Str("user_id", conn.userID).Msg("dropped connection_established: outbound queue full")
	}
}

// writeLoop drains the outbound queue, the sole writer to the
// underlying socket (gorilla/websocket forbids concurrent writers).
func (m *Manager) writeLoop(conn *Connection) {
	for frame := range conn.outbound {
		if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Debug().Err(err).Str("user_id", conn.userID).Msg("write failed, closing")
			conn.Close()
			return
		}
	}
}

// readLoop consumes inbound frames in arrival order (ordering
// guarantee O1) and dispatches each to the demux table in dispatch.go.
// It returns once the peer closes, a fatal I/O error occurs, the
// connection is idle beyond IdleTimeout, or the client exceeds the
// inbound rate limit.
func (m *Manager) readLoop(conn *Connection) {
	for {
		_ = conn.ws.SetReadDeadline(time.Now().Add(IdleTimeout))
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user_id", conn.userID).Msg("unexpected close")
			}
			return
		}

		now := types.NowMS()
		if conn.touch(now) {
			log.Warn().Str("user_id", conn.userID).Msg("inbound rate limit exceeded, closing")
			_ = conn.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				time.Now().Add(time.Second))
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("user_id", conn.userID).Msg("frame dispatch panicked, skipping frame")
				}
			}()
			m.dispatch(conn, data, now)
		}()
	}
}
