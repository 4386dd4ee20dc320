// Package wire defines the JSON frame shapes exchanged over /ws
// (spec.md §6). Keeping every frame shape in one place is the "tagged
// variant decoder" the source's dynamically-typed dispatch needed
// re-architecting into (spec.md §9).
package wire

// Handshake is the required first client frame.
type Handshake struct {
	UserID          string `json:"userId"`
	ExperimentGroup string `json:"experimentGroup,omitempty"`
	IsHost          bool   `json:"isHost,omitempty"`
}

// Envelope is decoded first on every subsequent inbound frame just far
// enough to read "type" — a reaction sample frame omits it entirely,
// spec.md §4.4's "absence of type with presence of states/events is
// treated as a reaction sample".
type Envelope struct {
	Type string `json:"type"`
}

// ReactionFrame is an inbound per-second reaction sample.
type ReactionFrame struct {
	UserID    string          `json:"userId"`
	Timestamp int64           `json:"timestamp,omitempty"`
	States    map[string]bool `json:"states"`
	Events    map[string]int  `json:"events"`
	VideoTime *float64        `json:"videoTime,omitempty"`
	SessionID *string         `json:"sessionId,omitempty"`
}

// TransportFrame covers video_play/video_pause/video_seek, both
// inbound (host-originated) and outbound (relayed to participants).
type TransportFrame struct {
	Type        string `json:"type"`
	CurrentTime float64 `json:"currentTime"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// TimeSyncRequestIn is the inbound frame from a participant.
type TimeSyncRequestIn struct {
	Type string `json:"type"`
}

// TimeSyncRequestOut is relayed to the host with the requester's id attached.
type TimeSyncRequestOut struct {
	Type        string `json:"type"`
	RequesterID string `json:"requesterId"`
}

// TimeSyncResponseIn is the inbound frame from the host.
type TimeSyncResponseIn struct {
	Type        string  `json:"type"`
	RequesterID string  `json:"requesterId"`
	CurrentTime float64 `json:"currentTime"`
}

// TimeSyncResponseOut is unicast back to the requester, without requesterId
// (the requester already knows who it is).
type TimeSyncResponseOut struct {
	Type        string  `json:"type"`
	CurrentTime float64 `json:"currentTime"`
}

// VideoURLSelected is both the inbound host frame and the outbound
// broadcast frame — the shape is identical.
type VideoURLSelected struct {
	Type    string `json:"type"`
	VideoID string `json:"videoId"`
}

// SessionCreateFrame is inbound.
type SessionCreateFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	VideoID   string `json:"videoId"`
}

// SessionCompletedFrame is inbound.
type SessionCompletedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ManualEffectFrame is inbound, debug-group only.
type ManualEffectFrame struct {
	Type       string   `json:"type"`
	EffectType string   `json:"effectType"`
	Intensity  float64  `json:"intensity"`
	DurationMS int64    `json:"durationMs"`
	SessionID  *string  `json:"sessionId,omitempty"`
	VideoTime  *float64 `json:"videoTime,omitempty"`
}

// ConnectionEstablished is the handshake response.
type ConnectionEstablished struct {
	Type            string `json:"type"`
	UserID          string `json:"userId"`
	ExperimentGroup string `json:"experimentGroup"`
	IsHost          bool   `json:"isHost"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
}

// EffectFrame is the outbound decision broadcast once per tick.
type EffectFrame struct {
	Type       string           `json:"type"`
	EffectType string           `json:"effectType"`
	Intensity  float64          `json:"intensity"`
	DurationMS int64            `json:"durationMs"`
	Timestamp  int64            `json:"timestamp"`
	Debug      *EffectFrameDebug `json:"debug,omitempty"`
}

// EffectFrameDebug carries the active-user count and the ratio/density
// maps that justified the decision.
type EffectFrameDebug struct {
	ActiveUsers  int                `json:"activeUsers"`
	RatioState   map[string]float64 `json:"ratioState"`
	DensityEvent map[string]float64 `json:"densityEvent"`
}
