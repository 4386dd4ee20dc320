package connection

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/Mizuir0/live-reaction-system/internal/hub"
	"github.com/Mizuir0/live-reaction-system/internal/store"
	"github.com/Mizuir0/live-reaction-system/internal/types"
	"github.com/Mizuir0/live-reaction-system/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePersister is an in-memory double satisfying Persister, recording
// every call for assertion without touching a real database.
type fakePersister struct {
	mu                sync.Mutex
	reactions         []types.Sample
	effects           []types.Effect
	sessionsCreated   []sessionCreateCall
	sessionsCompleted []sessionCompleteCall
}

type sessionCreateCall struct{ sessionID, userID, videoID string }
type sessionCompleteCall struct {
	sessionID   string
	completedMS int64
}

func (f *fakePersister) EnsureUserRow(string, types.ExperimentGroup) error { return nil }

func (f *fakePersister) LogReaction(sample types.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, sample)
	return nil
}

func (f *fakePersister) SessionCreate(sessionID, userID, videoID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionsCreated = append(f.sessionsCreated, sessionCreateCall{sessionID, userID, videoID})
	return nil
}

func (f *fakePersister) SessionComplete(sessionID string, completedMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionsCompleted = append(f.sessionsCompleted, sessionCompleteCall{sessionID, completedMS})
	return nil
}

func (f *fakePersister) LogEffect(effect types.Effect) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.effects = append(f.effects, effect)
	return nil
}

// fakeSub is a minimal hub.Subscriber double for asserting what the Hub
// delivers, independent of any real websocket plumbing.
type fakeSub struct {
	userID string
	host   bool
	queue  chan []byte
}

func newFakeSub(userID string, host bool) *fakeSub {
	return &fakeSub{userID: userID, host: host, queue: make(chan []byte, 8)}
}

func (f *fakeSub) UserID() string          { return f.userID }
func (f *fakeSub) IsHost() bool            { return f.host }
func (f *fakeSub) Close()                  {}
func (f *fakeSub) Enqueue(frame []byte) bool {
	select {
	case f.queue <- frame:
		return true
	default:
		return false
	}
}

func newTestManager() (*Manager, *fakePersister, *hub.Hub, *store.Store) {
	st := store.New()
	h := hub.New()
	p := &fakePersister{}
	m := &Manager{store: st, persistence: p, hub: h}
	return m, p, h, st
}

func TestDispatch_ReactionSample_DefaultTypeIsTreatedAsReaction(t *testing.T) {
	m, p, _, st := newTestManager()
	conn := &Connection{userID: "u1"}

	data := []byte(`{"userId":"u1","states":{"isSmiling":true},"events":{"clap":2}}`)
	m.dispatch(conn, data, 5000)

	assert.Equal(t, 1, st.WindowLen("u1"))
	require.Len(t, p.reactions, 1)
	assert.Equal(t, int64(5000), p.reactions[0].ServerReceiveMS)
	assert.True(t, p.reactions[0].States[types.StateIsSmiling])
	assert.Equal(t, 2, p.reactions[0].Events[types.EventClap])
}

func TestDispatch_ReactionSample_ExplicitTypeAccepted(t *testing.T) {
	m, p, _, st := newTestManager()
	conn := &Connection{userID: "u1"}

	data := []byte(`{"type":"reaction","userId":"u1","states":{},"events":{}}`)
	m.dispatch(conn, data, 1000)

	assert.Equal(t, 1, st.WindowLen("u1"))
	require.Len(t, p.reactions, 1)
}

func TestDispatch_ReactionSample_UnknownFieldNamesIgnored(t *testing.T) {
	m, p, _, _ := newTestManager()
	conn := &Connection{userID: "u1"}

	data := []byte(`{"userId":"u1","states":{"isSmiling":true,"isFrowning":true},"events":{"clap":1,"boo":9}}`)
	m.dispatch(conn, data, 1000)

	require.Len(t, p.reactions, 1)
	sample := p.reactions[0]
	assert.True(t, sample.States[types.StateIsSmiling])
	assert.Len(t, sample.States, len(types.StateNames))
	assert.Len(t, sample.Events, len(types.EventNames))
}

func TestDispatch_Transport_HostBroadcastsExceptItself(t *testing.T) {
	m, _, h, _ := newTestManager()
	viewer := newFakeSub("viewer1", false)
	h.Register(viewer)

	conn := &Connection{userID: "host1", isHost: true}
	data := []byte(`{"type":"video_play","currentTime":42.5}`)
	m.dispatch(conn, data, 9000)

	select {
	case frame := <-viewer.queue:
		var out wire.TransportFrame
		require.NoError(t, json.Unmarshal(frame, &out))
		assert.Equal(t, "video_play", out.Type)
		assert.Equal(t, 42.5, out.CurrentTime)
		assert.Equal(t, int64(9000), out.Timestamp)
	default:
		t.Fatal("expected relayed transport frame")
	}
}

func TestDispatch_Transport_NonHostIsNoOp(t *testing.T) {
	m, _, h, _ := newTestManager()
	viewer := newFakeSub("viewer1", false)
	h.Register(viewer)

	conn := &Connection{userID: "viewer2", isHost: false}
	data := []byte(`{"type":"video_pause","currentTime":1.0}`)
	m.dispatch(conn, data, 9000)

	select {
	case <-viewer.queue:
		t.Fatal("non-host transport frame should not be relayed")
	default:
	}
}

func TestDispatch_TimeSyncRequest_RelaysToHostWithRequesterID(t *testing.T) {
	m, _, h, _ := newTestManager()
	host := newFakeSub("host1", true)
	h.Register(host)

	conn := &Connection{userID: "viewerA", isHost: false}
	data := []byte(`{"type":"time_sync_request"}`)
	m.dispatch(conn, data, 1000)

	select {
	case frame := <-host.queue:
		var out wire.TimeSyncRequestOut
		require.NoError(t, json.Unmarshal(frame, &out))
		assert.Equal(t, "viewerA", out.RequesterID)
	default:
		t.Fatal("expected relayed time_sync_request")
	}
}

func TestDispatch_TimeSyncRequest_NoHostDropsSilently(t *testing.T) {
	m, _, _, _ := newTestManager()
	conn := &Connection{userID: "viewerA", isHost: false}
	data := []byte(`{"type":"time_sync_request"}`)

	assert.NotPanics(t, func() { m.dispatch(conn, data, 1000) })
}

func TestDispatch_TimeSyncResponse_RelaysToRequesterOnly(t *testing.T) {
	m, _, h, _ := newTestManager()
	requester := newFakeSub("viewerA", false)
	other := newFakeSub("viewerB", false)
	h.Register(requester)
	h.Register(other)

	conn := &Connection{userID: "host1", isHost: true}
	data := []byte(`{"type":"time_sync_response","requesterId":"viewerA","currentTime":12.25}`)
	m.dispatch(conn, data, 1000)

	select {
	case frame := <-requester.queue:
		var out wire.TimeSyncResponseOut
		require.NoError(t, json.Unmarshal(frame, &out))
		assert.Equal(t, 12.25, out.CurrentTime)
	default:
		t.Fatal("expected relayed time_sync_response to requester")
	}

	select {
	case <-other.queue:
		t.Fatal("time_sync_response must not reach a non-requester")
	default:
	}
}

func TestDispatch_TimeSyncResponse_NonHostIsNoOp(t *testing.T) {
	m, _, h, _ := newTestManager()
	requester := newFakeSub("viewerA", false)
	h.Register(requester)

	conn := &Connection{userID: "viewerB", isHost: false}
	data := []byte(`{"type":"time_sync_response","requesterId":"viewerA","currentTime":1.0}`)
	m.dispatch(conn, data, 1000)

	select {
	case <-requester.queue:
		t.Fatal("non-host time_sync_response should not be relayed")
	default:
	}
}

func TestDispatch_VideoURLSelected_HostBroadcastsToAll(t *testing.T) {
	m, _, h, _ := newTestManager()
	viewer := newFakeSub("viewer1", false)
	h.Register(viewer)

	conn := &Connection{userID: "host1", isHost: true}
	data := []byte(`{"type":"video_url_selected","videoId":"vid-42"}`)
	m.dispatch(conn, data, 1000)

	select {
	case frame := <-viewer.queue:
		var out wire.VideoURLSelected
		require.NoError(t, json.Unmarshal(frame, &out))
		assert.Equal(t, "vid-42", out.VideoID)
	default:
		t.Fatal("expected video_url_selected broadcast")
	}
}

func TestDispatch_SessionCreate_Persists(t *testing.T) {
	m, p, _, _ := newTestManager()
	conn := &Connection{userID: "u1"}
	data := []byte(`{"type":"session_create","sessionId":"s1","videoId":"vid-1"}`)
	m.dispatch(conn, data, 1000)

	require.Len(t, p.sessionsCreated, 1)
	assert.Equal(t, sessionCreateCall{"s1", "u1", "vid-1"}, p.sessionsCreated[0])
}

func TestDispatch_SessionCompleted_Persists(t *testing.T) {
	m, p, _, _ := newTestManager()
	conn := &Connection{userID: "u1"}
	data := []byte(`{"type":"session_completed","sessionId":"s1"}`)
	m.dispatch(conn, data, 2000)

	require.Len(t, p.sessionsCompleted, 1)
	assert.Equal(t, sessionCompleteCall{"s1", 2000}, p.sessionsCompleted[0])
}

func TestDispatch_ManualEffect_AcceptedFromDebugGroup(t *testing.T) {
	m, p, h, _ := newTestManager()
	viewer := newFakeSub("viewer1", false)
	h.Register(viewer)

	conn := &Connection{userID: "debugger1", ExperimentGroup: types.GroupDebug}
	data := []byte(`{"type":"manual_effect","effectType":"sparkle","intensity":0.8,"durationMs":2000}`)
	m.dispatch(conn, data, 3000)

	require.Len(t, p.effects, 1)
	assert.Equal(t, types.EffectSparkle, p.effects[0].EffectType)

	select {
	case frame := <-viewer.queue:
		var out wire.EffectFrame
		require.NoError(t, json.Unmarshal(frame, &out))
		assert.Equal(t, "sparkle", out.EffectType)
	default:
		t.Fatal("expected manual effect broadcast")
	}
}

func TestDispatch_ManualEffect_RejectedOutsideDebugGroup(t *testing.T) {
	m, p, h, _ := newTestManager()
	viewer := newFakeSub("viewer1", false)
	h.Register(viewer)

	conn := &Connection{userID: "u1", ExperimentGroup: types.GroupControl1}
	data := []byte(`{"type":"manual_effect","effectType":"sparkle","intensity":0.8,"durationMs":2000}`)
	m.dispatch(conn, data, 3000)

	assert.Empty(t, p.effects)
	select {
	case <-viewer.queue:
		t.Fatal("manual effect from a non-debug group must not broadcast")
	default:
	}
}

func TestDispatch_UnknownTypeIgnored(t *testing.T) {
	m, p, _, _ := newTestManager()
	conn := &Connection{userID: "u1"}
	data := []byte(`{"type":"not_a_real_type"}`)

	assert.NotPanics(t, func() { m.dispatch(conn, data, 1000) })
	assert.Empty(t, p.reactions)
}

func TestDispatch_MalformedJSONIgnored(t *testing.T) {
	m, _, _, _ := newTestManager()
	conn := &Connection{userID: "u1"}
	assert.NotPanics(t, func() { m.dispatch(conn, []byte("not json"), 1000) })
}
