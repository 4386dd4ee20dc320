package connection

import (
	"encoding/json"

	"github.com/Mizuir0/live-reaction-system/internal/types"
	"github.com/Mizuir0/live-reaction-system/internal/wire"
	"github.com/rs/zerolog/log"
)

// dispatch decodes one inbound frame and routes it per the demux table
// in spec.md §4.4. "type" wins over heuristics; its absence alongside
// states/events is treated as a reaction sample.
func (m *Manager) dispatch(conn *Connection, data []byte, now int64) {
	var envelope wire.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Warn().Err(err).Str("user_id", conn.userID).Msg("malformed frame, ignoring")
		return
	}

	switch envelope.Type {
	case "", "reaction":
		m.handleReaction(conn, envelope.Type, data, now)
	case "video_play", "video_pause", "video_seek":
		m.handleTransport(conn, envelope.Type, data, now)
	case "time_sync_request":
		m.handleTimeSyncRequest(conn)
	case "time_sync_response":
		m.handleTimeSyncResponse(conn, data)
	case "video_url_selected":
		m.handleVideoURLSelected(conn, data)
	case "session_create":
		m.handleSessionCreate(conn, data)
	case "session_completed":
		m.handleSessionCompleted(conn, data, now)
	case "manual_effect":
		m.handleManualEffect(conn, data, now)
	default:
		log.Warn().Str("user_id", conn.userID).Str("type", envelope.Type).Msg("unknown frame type, ignoring")
	}
}

func (m *Manager) handleReaction(conn *Connection, frameType string, data []byte, now int64) {
	var frame wire.ReactionFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn().Err(err).Str("user_id", conn.userID).Msg("malformed reaction frame, ignoring")
		return
	}
	if frameType == "" && frame.States == nil && frame.Events == nil {
		log.Warn().Str("user_id", conn.userID).Msg("frame has no type and no states/events, ignoring")
		return
	}

	sample := types.Sample{
		UserID:          conn.userID,
		ServerReceiveMS: now, // invariant I2: server clock, never the client's own timestamp
		States:          decodeStates(frame.States),
		Events:          decodeEvents(frame.Events),
		VideoTime:       frame.VideoTime,
		SessionID:       frame.SessionID,
	}

	m.store.Append(sample)
	if err := m.persistence.LogReaction(sample); err != nil {
		log.Error().Err(err).Str("user_id", conn.userID).Msg("failed to persist reaction")
	}
}

// decodeStates maps only the fixed recognized state names; unknown
// names in the payload are ignored, missing ones default false
// (spec.md §3 "Sample").
func decodeStates(raw map[string]bool) map[types.StateName]bool {
	out := make(map[types.StateName]bool, len(types.StateNames))
	for _, name := range types.StateNames {
		out[name] = raw[string(name)]
	}
	return out
}

// decodeEvents maps only the fixed recognized event names; unknown
// names are ignored, missing ones default to 0.
func decodeEvents(raw map[string]int) map[types.EventName]int {
	out := make(map[types.EventName]int, len(types.EventNames))
	for _, name := range types.EventNames {
		out[name] = raw[string(name)]
	}
	return out
}

// handleTransport relays video_play/pause/seek from the host to every
// other connection; a non-host sender is a no-op (spec.md §4.4, §4.6).
// The host's own echo is suppressed via BroadcastExcept.
func (m *Manager) handleTransport(conn *Connection, frameType string, data []byte, now int64) {
	if !conn.isHost {
		return
	}

	var in wire.TransportFrame
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn().Err(err).Str("user_id", conn.userID).Msg("malformed transport frame, ignoring")
		return
	}

	out := wire.TransportFrame{
		Type:        frameType,
		CurrentTime: in.CurrentTime,
		Timestamp:   now,
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode transport frame")
		return
	}
	m.hub.BroadcastExcept(conn.userID, encoded)
}

// handleTimeSyncRequest unicasts a participant's request to the host,
// tagging it with the requester's id. Dropped silently if no host is
// registered (spec.md §4.6).
func (m *Manager) handleTimeSyncRequest(conn *Connection) {
	if conn.isHost {
		return
	}

	host, ok := m.hub.Host()
	if !ok {
		return
	}

	out := wire.TimeSyncRequestOut{Type: "time_sync_request", RequesterID: conn.userID}
	encoded, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode time_sync_request")
		return
	}
	m.hub.SendTo(host.UserID(), encoded)
}

// handleTimeSyncResponse unicasts the host's reply back to the named
// requester only (spec.md §4.6, S6).
func (m *Manager) handleTimeSyncResponse(conn *Connection, data []byte) {
	if !conn.isHost {
		return
	}

	var in wire.TimeSyncResponseIn
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn().Err(err).Str("user_id", conn.userID).Msg("malformed time_sync_response, ignoring")
		return
	}

	out := wire.TimeSyncResponseOut{Type: "time_sync_response", CurrentTime: in.CurrentTime}
	encoded, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode time_sync_response")
		return
	}
	m.hub.SendTo(in.RequesterID, encoded)
}

// handleVideoURLSelected broadcasts the host's chosen video to every
// connection so late joiners can leave their waiting screen.
func (m *Manager) handleVideoURLSelected(conn *Connection, data []byte) {
	if !conn.isHost {
		return
	}

	var in wire.VideoURLSelected
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn().Err(err).Str("user_id", conn.userID).Msg("malformed video_url_selected, ignoring")
		return
	}

	out := wire.VideoURLSelected{Type: "video_url_selected", VideoID: in.VideoID}
	encoded, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode video_url_selected")
		return
	}
	m.hub.Broadcast(encoded)
}

func (m *Manager) handleSessionCreate(conn *Connection, data []byte) {
	var frame wire.SessionCreateFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn().Err(err).Str("user_id", conn.userID).Msg("malformed session_create, ignoring")
		return
	}
	if err := m.persistence.SessionCreate(frame.SessionID, conn.userID, frame.VideoID); err != nil {
		log.Error().Err(err).Str("session_id", frame.SessionID).Msg("failed to create session")
	}
}

func (m *Manager) handleSessionCompleted(conn *Connection, data []byte, now int64) {
	var frame wire.SessionCompletedFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn().Err(err).Str("user_id", conn.userID).Msg("malformed session_completed, ignoring")
		return
	}
	if err := m.persistence.SessionComplete(frame.SessionID, now); err != nil {
		log.Error().Err(err).Str("session_id", frame.SessionID).Msg("failed to complete session")
	}
}

// handleManualEffect assembles and broadcasts a debug-triggered effect.
// Rejected (ignored) from any connection outside the debug experiment
// group (spec.md §4.4 "manual_effect").
func (m *Manager) handleManualEffect(conn *Connection, data []byte, now int64) {
	if conn.ExperimentGroup != types.GroupDebug {
		log.Warn().Str("user_id", conn.userID).Str("group", string(conn.ExperimentGroup)).Msg("manual_effect rejected: not in debug group")
		return
	}

	var frame wire.ManualEffectFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn().Err(err).Str("user_id", conn.userID).Msg("malformed manual_effect, ignoring")
		return
	}

	effect := types.Effect{
		EffectType:   types.EffectType(frame.EffectType),
		Intensity:    frame.Intensity,
		DurationMS:   frame.DurationMS,
		ServerSendMS: now,
		SessionID:    frame.SessionID,
		VideoTime:    frame.VideoTime,
	}

	if err := m.persistence.LogEffect(effect); err != nil {
		log.Error().Err(err).Str("effect_type", frame.EffectType).Msg("failed to persist manual effect")
	}

	outbound := wire.EffectFrame{
		Type:       "effect",
		EffectType: frame.EffectType,
		Intensity:  frame.Intensity,
		DurationMS: frame.DurationMS,
		Timestamp:  now,
	}
	encoded, err := json.Marshal(outbound)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode manual effect frame")
		return
	}
	m.hub.Broadcast(encoded)
}
