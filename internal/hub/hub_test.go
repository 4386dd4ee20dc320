package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber is a minimal Subscriber for hub tests: a bounded
// channel standing in for a Connection's outbound queue.
type fakeSubscriber struct {
	userID string
	host   bool
	queue  chan []byte
	closed bool
}

func newFakeSubscriber(userID string, host bool, capacity int) *fakeSubscriber {
	return &fakeSubscriber{userID: userID, host: host, queue: make(chan []byte, capacity)}
}

func (f *fakeSubscriber) UserID() string { return f.userID }
func (f *fakeSubscriber) IsHost() bool   { return f.host }
func (f *fakeSubscriber) Close()         { f.closed = true }

func (f *fakeSubscriber) Enqueue(frame []byte) bool {
	select {
	case f.queue <- frame:
		return true
	default:
		return false
	}
}

func TestRegister_NewestWinsAndClosesPrevious(t *testing.T) {
	h := New()
	first := newFakeSubscriber("u1", false, 4)
	second := newFakeSubscriber("u1", false, 4)

	h.Register(first)
	h.Register(second)

	assert.Equal(t, 1, h.Count())
	assert.True(t, first.closed)
	assert.False(t, second.closed)
}

func TestUnregister_IsIdempotent(t *testing.T) {
	h := New()
	conn := newFakeSubscriber("u1", false, 4)
	h.Register(conn)

	h.Unregister(conn)
	h.Unregister(conn) // second call must not panic or error

	assert.Equal(t, 0, h.Count())
}

func TestUnregister_DoesNotEvictNewerConnection(t *testing.T) {
	h := New()
	stale := newFakeSubscriber("u1", false, 4)
	fresh := newFakeSubscriber("u1", false, 4)

	h.Register(stale)
	h.Register(fresh)
	h.Unregister(stale) // stale was already displaced; must be a no-op

	assert.Equal(t, 1, h.Count())
}

func TestBroadcast_FullQueueDropsOnlyThatSubscriber(t *testing.T) {
	h := New()
	slow := newFakeSubscriber("slow", false, 0) // zero-capacity: always full
	fast := newFakeSubscriber("fast", false, 4)

	h.Register(slow)
	h.Register(fast)

	h.Broadcast([]byte("frame"))

	require.Len(t, fast.queue, 1)
	assert.Len(t, slow.queue, 0)
	assert.Equal(t, uint64(1), h.DropCount())
}

func TestBroadcastExcept_SkipsNamedUser(t *testing.T) {
	h := New()
	host := newFakeSubscriber("host", true, 4)
	participant := newFakeSubscriber("p1", false, 4)

	h.Register(host)
	h.Register(participant)

	h.BroadcastExcept("host", []byte("frame"))

	assert.Len(t, host.queue, 0)
	require.Len(t, participant.queue, 1)
}

func TestSendTo_UnknownUserIsSilentNoOp(t *testing.T) {
	h := New()
	assert.NotPanics(t, func() {
		h.SendTo("nobody", []byte("frame"))
	})
}

func TestSendTo_DeliversOnlyToNamedUser(t *testing.T) {
	h := New()
	a := newFakeSubscriber("a", false, 4)
	b := newFakeSubscriber("b", false, 4)
	h.Register(a)
	h.Register(b)

	h.SendTo("b", []byte("frame"))

	assert.Len(t, a.queue, 0)
	require.Len(t, b.queue, 1)
}

func TestHost_ReturnsRegisteredHost(t *testing.T) {
	h := New()
	h.Register(newFakeSubscriber("p1", false, 4))
	hostConn := newFakeSubscriber("host", true, 4)
	h.Register(hostConn)

	found, ok := h.Host()
	require.True(t, ok)
	assert.Equal(t, "host", found.UserID())
}

func TestHost_NoneRegisteredReturnsFalse(t *testing.T) {
	h := New()
	_, ok := h.Host()
	assert.False(t, ok)
}

func TestCloseAll_ClosesEveryRegisteredConnection(t *testing.T) {
	h := New()
	a := newFakeSubscriber("a", false, 4)
	b := newFakeSubscriber("b", true, 4)
	h.Register(a)
	h.Register(b)

	h.CloseAll()

	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
