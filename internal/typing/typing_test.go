package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatcore/internal/clock"
	"chatcore/internal/transport"
	"chatcore/pkg/chatapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManualClock() *clock.Manual {
	return clock.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

type recordingSocket struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSocket) Emit(_ context.Context, event string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := payload.(chatapi.TypingPayload)
	s.events = append(s.events, event+":"+p.ConversationID)
	return nil
}

func (s *recordingSocket) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

const window = 3 * time.Second

var (
	start = transport.EventTypingStart + ":c1"
	stop  = transport.EventTypingStop + ":c1"
)

func TestEmitter_SingleStartTrailingStop(t *testing.T) {
	clk := newManualClock()
	socket := &recordingSocket{}
	e := NewEmitter(socket, window, clk)

	assert.True(t, e.Keystroke("c1"))
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		assert.False(t, e.Keystroke("c1"))
	}
	assert.Equal(t, []string{start}, socket.Events())
	assert.True(t, e.Typing("c1"))

	clk.Advance(window - time.Millisecond)
	assert.Equal(t, []string{start}, socket.Events())

	clk.Advance(time.Millisecond)
	assert.Equal(t, []string{start, stop}, socket.Events())
	assert.False(t, e.Typing("c1"))
}

func TestEmitter_ExplicitStop(t *testing.T) {
	clk := newManualClock()
	socket := &recordingSocket{}
	e := NewEmitter(socket, window, clk)

	e.Keystroke("c1")
	assert.True(t, e.Stop("c1"))
	assert.False(t, e.Stop("c1"))

	clk.Advance(window)
	assert.Equal(t, []string{start, stop}, socket.Events())
}

func TestEmitter_StartIsRateLimited(t *testing.T) {
	clk := newManualClock()
	socket := &recordingSocket{}
	e := NewEmitter(socket, window, clk)

	require.True(t, e.Keystroke("c1"))
	e.Stop("c1")
	assert.False(t, e.Keystroke("c1"), "restart inside the window")
	assert.Equal(t, []string{start, stop}, socket.Events())

	// Typing continues, so the held start goes out when the limit allows
	clk.Advance(window / 2)
	assert.False(t, e.Keystroke("c1"))
	clk.Advance(window / 2)
	assert.Equal(t, []string{start, stop, start}, socket.Events())
	assert.True(t, e.Typing("c1"))

	// The stop still follows the last keystroke by one window
	clk.Advance(window / 2)
	assert.Equal(t, []string{start, stop, start, stop}, socket.Events())
}

func TestEmitter_HeldStartDroppedWhenTypingEnds(t *testing.T) {
	clk := newManualClock()
	socket := &recordingSocket{}
	e := NewEmitter(socket, window, clk)

	require.True(t, e.Keystroke("c1"))
	e.Stop("c1")
	assert.False(t, e.Keystroke("c1"))

	clk.Advance(window)
	assert.Equal(t, []string{start, stop}, socket.Events())
	assert.False(t, e.Typing("c1"))

	// The limit has refilled by now
	clk.Advance(window)
	assert.True(t, e.Keystroke("c1"))
}

func TestEmitter_StopCancelsHeldStart(t *testing.T) {
	clk := newManualClock()
	socket := &recordingSocket{}
	e := NewEmitter(socket, window, clk)

	require.True(t, e.Keystroke("c1"))
	e.Stop("c1")
	assert.False(t, e.Keystroke("c1"))
	assert.False(t, e.Stop("c1"))
	assert.Zero(t, clk.Pending())

	clk.Advance(2 * window)
	assert.Equal(t, []string{start, stop}, socket.Events())
}

type blockingSocket struct {
	entered chan string
	release chan struct{}
}

func (s *blockingSocket) Emit(_ context.Context, event string, payload interface{}) error {
	s.entered <- event + ":" + payload.(chatapi.TypingPayload).ConversationID
	<-s.release
	return nil
}

func TestEmitter_SlowSocketDoesNotBlockState(t *testing.T) {
	clk := newManualClock()
	socket := &blockingSocket{entered: make(chan string, 4), release: make(chan struct{})}
	e := NewEmitter(socket, window, clk)

	done := make(chan bool, 1)
	go func() { done <- e.Keystroke("c1") }()

	select {
	case ev := <-socket.entered:
		assert.Equal(t, start, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("start never reached the socket")
	}

	// The first send is still in flight
	assert.True(t, e.Typing("c1"))
	assert.False(t, e.Keystroke("c1"))
	assert.True(t, e.Keystroke("c2"))

	close(socket.release)
	assert.True(t, <-done)
	select {
	case ev := <-socket.entered:
		assert.Equal(t, transport.EventTypingStart+":c2", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("queued start was not sent")
	}
}

func TestEmitter_CloseCancelsTimers(t *testing.T) {
	clk := newManualClock()
	socket := &recordingSocket{}
	e := NewEmitter(socket, window, clk)

	e.Keystroke("c1")
	e.Keystroke("c2")
	e.Close()
	clk.Advance(window)

	assert.Len(t, socket.Events(), 2)
	assert.False(t, e.Keystroke("c1"))
	e.Close()
}

func TestTracker_StartStopExpire(t *testing.T) {
	clk := newManualClock()
	var changes [][]string
	tr := NewTracker(window, clk, func(_ string, users []string) {
		changes = append(changes, users)
	})

	tr.Start("c1", "alice")
	tr.Start("c1", "bob")
	tr.Start("c1", "alice")
	assert.Equal(t, []string{"alice", "bob"}, tr.Typing("c1"))
	assert.Len(t, changes, 2)

	tr.Stop("c1", "bob")
	tr.Stop("c1", "bob")
	assert.Equal(t, []string{"alice"}, tr.Typing("c1"))

	clk.Advance(window)
	assert.Empty(t, tr.Typing("c1"))
	assert.Equal(t, [][]string{{"alice"}, {"alice", "bob"}, {"alice"}, {}}, changes)
}

func TestTracker_RestartExtendsExpiry(t *testing.T) {
	clk := newManualClock()
	tr := NewTracker(window, clk, nil)

	tr.Start("c1", "alice")
	clk.Advance(2 * time.Second)
	tr.Start("c1", "alice")
	clk.Advance(2 * time.Second)
	assert.Equal(t, []string{"alice"}, tr.Typing("c1"))

	clk.Advance(time.Second)
	assert.Empty(t, tr.Typing("c1"))
}

func TestTracker_ClearUserAndClose(t *testing.T) {
	clk := newManualClock()
	tr := NewTracker(window, clk, nil)

	tr.Start("c1", "alice")
	tr.Start("c2", "alice")
	tr.Start("c2", "bob")
	tr.ClearUser("alice")
	assert.Empty(t, tr.Typing("c1"))
	assert.Equal(t, []string{"bob"}, tr.Typing("c2"))

	tr.Close()
	assert.Empty(t, tr.Typing("c2"))
	tr.Start("c1", "carol")
	assert.Empty(t, tr.Typing("c1"))
}
