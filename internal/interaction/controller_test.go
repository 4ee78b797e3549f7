package interaction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chatcore/internal/clock"
	"chatcore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeLookup map[string]*models.Message

func (f fakeLookup) Message(id string) (*models.Message, bool) {
	m, ok := f[id]
	return m, ok
}

type mockForwarder struct {
	mock.Mock
}

func (m *mockForwarder) ForwardMessages(ctx context.Context, messageIDs, conversationIDs []string) ([]*models.Message, error) {
	args := m.Called(ctx, messageIDs, conversationIDs)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingSink struct {
	ids []string
}

func (s *recordingSink) ApplyIncoming(msg *models.Message) bool {
	s.ids = append(s.ids, msg.ID)
	return true
}

type fixture struct {
	clk       *clock.Manual
	forwarder *mockForwarder
	sink      *recordingSink
	haptics   int
	c         *Controller
}

func newFixture() *fixture {
	f := &fixture{
		clk:       clock.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		forwarder: new(mockForwarder),
		sink:      &recordingSink{},
	}
	lookup := fakeLookup{
		"m1":         {ID: "m1", Content: "first", SenderID: "peer", Type: models.TextMessage},
		"m2":         {ID: "m2", Content: "second", SenderID: "me", Type: models.TextMessage},
		"tmp_client": {ID: "tmp_client", Content: "pending", SenderID: "me"},
	}
	config := Config{
		Gesture: GestureConfig{LongPress: 500 * time.Millisecond, SwipeThreshold: 60, Slop: 10, MaxOffset: 120},
		Haptic:  func() { f.haptics++ },
	}
	f.c = NewController(lookup, f.forwarder, f.sink, config, f.clk)
	return f
}

func TestLongPressEntersSelection(t *testing.T) {
	f := newFixture()

	require.True(t, f.c.Press("m1", 100, 100))
	f.clk.Advance(499 * time.Millisecond)
	assert.False(t, f.c.Selecting())

	f.clk.Advance(time.Millisecond)
	assert.Equal(t, PhaseLongPress, f.c.Phase())
	assert.True(t, f.c.Selecting())
	assert.Equal(t, ActionSelect, f.c.Release())
	assert.Equal(t, []string{"m1"}, f.c.Selected())

	// Taps now toggle membership
	f.c.Press("m2", 0, 0)
	assert.Equal(t, ActionToggle, f.c.Release())
	assert.Equal(t, []string{"m1", "m2"}, f.c.Selected())

	f.c.Press("m1", 0, 0)
	f.c.Release()
	f.c.Press("m2", 0, 0)
	f.c.Release()
	assert.False(t, f.c.Selecting(), "deselecting the last item exits selection")
}

func TestShortPressIsTap(t *testing.T) {
	f := newFixture()

	f.c.Press("m1", 0, 0)
	f.clk.Advance(200 * time.Millisecond)
	assert.Equal(t, ActionTap, f.c.Release())
	f.clk.Advance(time.Second)
	assert.False(t, f.c.Selecting())
	assert.Equal(t, PhaseIdle, f.c.Phase())
}

func TestMoveCancelsLongPress(t *testing.T) {
	f := newFixture()

	f.c.Press("m1", 0, 0)
	f.c.Move(0, 40)
	f.clk.Advance(time.Second)
	assert.False(t, f.c.Selecting())
	assert.Equal(t, ActionNone, f.c.Release())
}

func TestSwipeToReply(t *testing.T) {
	f := newFixture()

	f.c.Press("m1", 0, 0)
	f.c.Move(30, 2)
	assert.Equal(t, PhaseSwiping, f.c.Phase())
	assert.Equal(t, 30.0, f.c.Offset("m1"))
	assert.Equal(t, 0.0, f.c.Offset("m2"))
	assert.Zero(t, f.haptics)

	f.c.Move(70, 2)
	assert.Equal(t, 1, f.haptics)
	f.c.Move(40, 2)
	f.c.Move(200, 2)
	assert.Equal(t, 1, f.haptics, "haptic fires once per gesture")
	assert.Equal(t, 120.0, f.c.Offset("m1"))

	f.clk.Advance(time.Second)
	assert.False(t, f.c.Selecting(), "swipe is not a long press")

	assert.Equal(t, ActionReply, f.c.Release())
	assert.Equal(t, 2, f.haptics)
	assert.Equal(t, 0.0, f.c.Offset("m1"))

	reply := f.c.ReplyTarget()
	require.NotNil(t, reply)
	assert.Equal(t, "m1", reply.ID)
	assert.Equal(t, "first", reply.Content)

	f.c.ClearReply()
	assert.Nil(t, f.c.ReplyTarget())
}

func TestSwipeReleasedShortOfThreshold(t *testing.T) {
	f := newFixture()

	f.c.Press("m1", 0, 0)
	f.c.Move(80, 0)
	f.c.Move(50, 0)
	assert.Equal(t, ActionNone, f.c.Release())
	assert.Equal(t, 1, f.haptics)
	assert.Nil(t, f.c.ReplyTarget())
}

func TestNoSwipeInSelectionMode(t *testing.T) {
	f := newFixture()
	f.c.Press("m1", 0, 0)
	f.clk.Advance(time.Second)
	f.c.Release()

	f.c.Press("m2", 0, 0)
	f.c.Move(90, 0)
	assert.Equal(t, PhasePressing, f.c.Phase())
	assert.Equal(t, 0.0, f.c.Offset("m2"))
	assert.Equal(t, ActionNone, f.c.Release())
	assert.Zero(t, f.haptics)
	assert.Equal(t, []string{"m1"}, f.c.Selected())
}

func TestOptimisticMessagesIgnoreGestures(t *testing.T) {
	f := newFixture()
	assert.False(t, f.c.Press("tmp_client", 0, 0))
	assert.False(t, f.c.Press("unknown", 0, 0))
	assert.Equal(t, PhaseIdle, f.c.Phase())
}

func TestCloseStopsLongPressTimer(t *testing.T) {
	f := newFixture()
	f.c.Press("m1", 0, 0)
	f.c.Close()
	f.clk.Advance(time.Second)
	assert.False(t, f.c.Selecting())
	assert.Zero(t, f.clk.Pending())
}

func selectBoth(f *fixture) {
	f.c.Press("m1", 0, 0)
	f.clk.Advance(time.Second)
	f.c.Release()
	f.c.Press("m2", 0, 0)
	f.c.Release()
}

func TestForward(t *testing.T) {
	t.Run("one batched call clears selection", func(t *testing.T) {
		f := newFixture()
		selectBoth(f)
		f.c.ToggleTarget("c2")
		f.c.ToggleTarget("c3")
		f.c.ToggleTarget("c4")
		f.c.ToggleTarget("c4")

		copies := []*models.Message{{ID: "f1", ConversationID: "c2"}, {ID: "f2", ConversationID: "c3"}}
		f.forwarder.On("ForwardMessages", mock.Anything, []string{"m1", "m2"}, []string{"c2", "c3"}).Return(copies, nil).Once()

		got, err := f.c.Forward(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.False(t, f.c.Selecting())
		assert.Empty(t, f.c.Targets())
		assert.Equal(t, []string{"f1", "f2"}, f.sink.ids)
		f.forwarder.AssertNumberOfCalls(t, "ForwardMessages", 1)
	})

	t.Run("failure keeps selection for retry", func(t *testing.T) {
		f := newFixture()
		selectBoth(f)
		f.c.ToggleTarget("c2")
		f.forwarder.On("ForwardMessages", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("server error")).Once()

		_, err := f.c.Forward(context.Background())
		require.Error(t, err)
		assert.Equal(t, []string{"m1", "m2"}, f.c.Selected())
		assert.Equal(t, []string{"c2"}, f.c.Targets())
		assert.Empty(t, f.sink.ids)
	})

	t.Run("needs messages and targets", func(t *testing.T) {
		f := newFixture()
		_, err := f.c.Forward(context.Background())
		require.Error(t, err)

		selectBoth(f)
		_, err = f.c.Forward(context.Background())
		require.Error(t, err)
		f.forwarder.AssertNotCalled(t, "ForwardMessages", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSelection(t *testing.T) {
	s := NewSelection()
	assert.False(t, s.Active())
	assert.True(t, s.Toggle("b"))
	assert.True(t, s.Toggle("a"))
	assert.Equal(t, []string{"a", "b"}, s.IDs())
	s.Remove("a", "zzz")
	assert.Equal(t, 1, s.Count())
	assert.False(t, s.Toggle("b"))
	assert.False(t, s.Active())
}
