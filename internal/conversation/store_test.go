package conversation

import (
	"context"
	"testing"
	"time"

	"chatcore/internal/acceptance"
	"chatcore/internal/errors"
	"chatcore/internal/models"
	"chatcore/pkg/chatapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const me = "me"

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) ListConversations(ctx context.Context, page, limit int) (*chatapi.ConversationPage, error) {
	args := m.Called(ctx, page, limit)
	if p := args.Get(0); p != nil {
		return p.(*chatapi.ConversationPage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) GetOrCreateConversation(ctx context.Context, peerID string) (*models.Conversation, error) {
	args := m.Called(ctx, peerID)
	if c := args.Get(0); c != nil {
		return c.(*models.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) ArchiveConversation(ctx context.Context, conversationID string) error {
	return m.Called(ctx, conversationID).Error(0)
}

func (m *mockAPI) UnarchiveConversation(ctx context.Context, conversationID string) error {
	return m.Called(ctx, conversationID).Error(0)
}

func (m *mockAPI) AcceptConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if c := args.Get(0); c != nil {
		return c.(*models.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) ReportConversation(ctx context.Context, conversationID, reason string) error {
	return m.Called(ctx, conversationID, reason).Error(0)
}

type fakePresence map[string]bool

func (p fakePresence) IsOnline(userID string) bool { return p[userID] }

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func conv(id string, status models.AcceptanceStatus, initiator string, at time.Duration, unread int) *models.Conversation {
	peer := "peer-" + id
	return &models.Conversation{
		ID:               id,
		Type:             models.ConversationDirect,
		Participants:     []models.Participant{{ID: me}, {ID: peer}},
		AcceptanceStatus: status,
		InitiatorID:      initiator,
		MessageCounts:    map[string]int{},
		UnreadCount:      unread,
		UpdatedAt:        base.Add(at),
	}
}

func page(convs ...*models.Conversation) *chatapi.ConversationPage {
	return &chatapi.ConversationPage{Conversations: convs}
}

func newTestStore(api *mockAPI) *Store {
	return NewStore(api, nil, Config{UserID: me, PageSize: 2}, nil)
}

func ids(convs []*models.Conversation) []string {
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}

func TestLoadPage_FirstReplacesLaterAppend(t *testing.T) {
	api := new(mockAPI)
	api.On("ListConversations", mock.Anything, 1, 2).Return(page(
		conv("c1", models.AcceptanceAccepted, me, 3*time.Minute, 0),
		conv("c2", models.AcceptanceAccepted, me, 2*time.Minute, 0),
	), nil).Once()
	api.On("ListConversations", mock.Anything, 2, 2).Return(page(
		conv("c2", models.AcceptanceAccepted, me, 2*time.Minute, 0),
		conv("c3", models.AcceptanceAccepted, me, time.Minute, 0),
	), nil).Once()
	api.On("ListConversations", mock.Anything, 1, 2).Return(page(
		conv("c4", models.AcceptanceAccepted, me, 4*time.Minute, 0),
	), nil).Once()

	s := newTestStore(api)
	ctx := context.Background()

	_, err := s.LoadPage(ctx, 1)
	require.NoError(t, err)
	_, err = s.LoadPage(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(s.List()))

	_, err = s.LoadPage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c4"}, ids(s.List()))
	api.AssertExpectations(t)
}

func TestLoadPage_StaleSnapshotKeepsHigherUnread(t *testing.T) {
	api := new(mockAPI)
	api.On("ListConversations", mock.Anything, 1, 2).Return(page(
		conv("c1", models.AcceptanceAccepted, me, 0, 1),
	), nil).Once()
	s := newTestStore(api)
	ctx := context.Background()
	_, err := s.LoadPage(ctx, 1)
	require.NoError(t, err)

	require.True(t, s.ApplyIncomingMessage(&models.Message{
		ID: "m1", ConversationID: "c1", SenderID: "peer-c1", CreatedAt: base.Add(time.Minute),
	}))
	got, _ := s.Get("c1")
	assert.Equal(t, 2, got.UnreadCount)

	// Same snapshot again: older than what the client has seen
	api.On("ListConversations", mock.Anything, 1, 2).Return(page(
		conv("c1", models.AcceptanceAccepted, me, 0, 1),
	), nil).Once()
	_, err = s.LoadPage(ctx, 1)
	require.NoError(t, err)
	got, _ = s.Get("c1")
	assert.Equal(t, 2, got.UnreadCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m1", got.LastMessage.MessageID)

	// A newer snapshot is authoritative, even if lower
	api.On("ListConversations", mock.Anything, 1, 2).Return(page(
		conv("c1", models.AcceptanceAccepted, me, 5*time.Minute, 0),
	), nil).Once()
	_, err = s.LoadPage(ctx, 1)
	require.NoError(t, err)
	got, _ = s.Get("c1")
	assert.Equal(t, 0, got.UnreadCount)
}

func TestLoadPage_DoesNotRollBackAcceptance(t *testing.T) {
	api := new(mockAPI)
	api.On("ListConversations", mock.Anything, 1, 2).Return(page(
		conv("c1", models.AcceptancePending, "peer-c1", 0, 0),
	), nil)
	s := newTestStore(api)
	ctx := context.Background()

	_, err := s.LoadPage(ctx, 1)
	require.NoError(t, err)
	s.ApplyAccepted("c1")

	_, err = s.LoadPage(ctx, 1)
	require.NoError(t, err)
	got, _ := s.Get("c1")
	assert.Equal(t, models.AcceptanceAccepted, got.AcceptanceStatus)
}

func TestLoadPage_Error(t *testing.T) {
	api := new(mockAPI)
	api.On("ListConversations", mock.Anything, 1, 2).Return(nil, errors.New(errors.ErrCodeChatAPI, "down"))
	s := newTestStore(api)

	_, err := s.LoadPage(context.Background(), 1)
	assert.Error(t, err)
	assert.Empty(t, s.List())
}

func TestLoadPage_AppliesPresence(t *testing.T) {
	api := new(mockAPI)
	api.On("ListConversations", mock.Anything, 1, 20).Return(page(
		conv("c1", models.AcceptanceAccepted, me, 0, 0),
	), nil)
	s := NewStore(api, fakePresence{"peer-c1": true}, Config{UserID: me}, nil)

	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)
	got, _ := s.Get("c1")
	peer, ok := got.Peer(me)
	require.True(t, ok)
	assert.True(t, peer.Online)
}

func seeded(t *testing.T, convs ...*models.Conversation) (*Store, *mockAPI) {
	t.Helper()
	api := new(mockAPI)
	api.On("ListConversations", mock.Anything, 1, 2).Return(page(convs...), nil).Once()
	s := newTestStore(api)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)
	return s, api
}

func TestApplyIncomingMessage(t *testing.T) {
	s, _ := seeded(t,
		conv("c1", models.AcceptanceAccepted, me, 2*time.Minute, 0),
		conv("c2", models.AcceptanceAccepted, me, time.Minute, 0),
	)

	peerMsg := &models.Message{ID: "m1", ConversationID: "c2", SenderID: "peer-c2", Content: "yo", CreatedAt: base.Add(3 * time.Minute)}
	require.True(t, s.ApplyIncomingMessage(peerMsg))
	assert.Equal(t, []string{"c2", "c1"}, ids(s.List()))

	got, _ := s.Get("c2")
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, "yo", got.LastMessage.Content)

	// Re-delivery is a no-op
	require.True(t, s.ApplyIncomingMessage(peerMsg))
	got, _ = s.Get("c2")
	assert.Equal(t, 1, got.UnreadCount)

	// Own messages move the conversation but never count as unread
	require.True(t, s.ApplyIncomingMessage(&models.Message{ID: "m2", ConversationID: "c1", SenderID: me, CreatedAt: base.Add(4 * time.Minute)}))
	assert.Equal(t, []string{"c1", "c2"}, ids(s.List()))
	got, _ = s.Get("c1")
	assert.Equal(t, 0, got.UnreadCount)
	assert.Equal(t, 1, s.TotalUnread())

	assert.False(t, s.ApplyIncomingMessage(&models.Message{ID: "m3", ConversationID: "nope"}))
}

func TestApplyIncomingMessage_OlderDoesNotReplaceLast(t *testing.T) {
	s, _ := seeded(t, conv("c1", models.AcceptanceAccepted, me, 0, 0))

	require.True(t, s.ApplyIncomingMessage(&models.Message{ID: "new", ConversationID: "c1", SenderID: "peer-c1", CreatedAt: base.Add(time.Hour)}))
	require.True(t, s.ApplyIncomingMessage(&models.Message{ID: "old", ConversationID: "c1", SenderID: "peer-c1", CreatedAt: base.Add(time.Minute)}))

	got, _ := s.Get("c1")
	assert.Equal(t, "new", got.LastMessage.MessageID)
	assert.Equal(t, 2, got.UnreadCount)
}

func TestReserveSend_PendingLimit(t *testing.T) {
	s, api := seeded(t, conv("c1", models.AcceptancePending, me, 0, 0))

	for i, clientID := range []string{"a", "b", "c"} {
		assert.Equal(t, 3-i, s.RemainingMessages("c1"))
		require.NoError(t, s.ReserveSend("c1", clientID))
		assert.Equal(t, 2-i, s.RemainingMessages("c1"))
	}

	err := s.ReserveSend("c1", "d")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeGatingViolation, errors.GetCode(err))
	assert.False(t, s.CanSendMessage("c1"))

	// A failed send gives the slot back
	s.ReleaseSend("c1", "c")
	assert.Equal(t, 1, s.RemainingMessages("c1"))
	s.ReleaseSend("c1", "c")
	assert.Equal(t, 1, s.RemainingMessages("c1"))

	// Echo of a reserved send does not count twice
	require.True(t, s.ApplyIncomingMessage(&models.Message{ID: "m1", ClientID: "a", ConversationID: "c1", SenderID: me, CreatedAt: base.Add(time.Minute)}))
	assert.Equal(t, 1, s.RemainingMessages("c1"))

	api.AssertNotCalled(t, "AcceptConversation", mock.Anything, mock.Anything)
}

func TestReserveSend_CountsPeerAndForeignSends(t *testing.T) {
	s, _ := seeded(t, conv("c1", models.AcceptancePending, "peer-c1", 0, 0))

	require.True(t, s.ApplyIncomingMessage(&models.Message{ID: "m1", ConversationID: "c1", SenderID: "peer-c1", CreatedAt: base.Add(time.Minute)}))
	got, _ := s.Get("c1")
	assert.Equal(t, 1, got.MessageCounts["peer-c1"])

	// Sent from another device: no reservation to consume
	require.True(t, s.ApplyIncomingMessage(&models.Message{ID: "m2", ClientID: "other", ConversationID: "c1", SenderID: me, CreatedAt: base.Add(2 * time.Minute)}))
	got, _ = s.Get("c1")
	assert.Equal(t, 1, got.MessageCounts[me])
}

func TestReserveSend_EchoWithoutClientIDSettlesReservation(t *testing.T) {
	s, _ := seeded(t, conv("c1", models.AcceptancePending, me, 0, 0))
	require.NoError(t, s.ReserveSend("c1", "a"))
	require.NoError(t, s.ReserveSend("c1", "b"))
	assert.Equal(t, 1, s.RemainingMessages("c1"))

	require.True(t, s.ApplyIncomingMessage(&models.Message{ID: "m1", ConversationID: "c1", SenderID: me, CreatedAt: base.Add(time.Minute)}))
	require.True(t, s.ApplyIncomingMessage(&models.Message{ID: "m2", ConversationID: "c1", SenderID: me, CreatedAt: base.Add(2 * time.Minute)}))
	assert.Equal(t, 1, s.RemainingMessages("c1"))

	// Nothing left to settle: a third one was sent elsewhere
	require.True(t, s.ApplyIncomingMessage(&models.Message{ID: "m3", ConversationID: "c1", SenderID: me, CreatedAt: base.Add(3 * time.Minute)}))
	assert.Equal(t, 0, s.RemainingMessages("c1"))
}

func TestReserveSend_UnknownConversationAllowed(t *testing.T) {
	s := newTestStore(new(mockAPI))
	assert.NoError(t, s.ReserveSend("ghost", "x"))
	assert.True(t, s.CanSendMessage("ghost"))
}

func TestReportedStopsEveryone(t *testing.T) {
	s, _ := seeded(t, conv("c1", models.AcceptanceAccepted, me, 0, 0))
	require.True(t, s.CanSendMessage("c1"))

	s.ApplyReported("c1")
	assert.False(t, s.CanSendMessage("c1"))
	assert.Equal(t, "Reported", s.StatusLabel("c1"))
	assert.Error(t, s.ReserveSend("c1", "x"))

	// reported never returns to accepted
	s.ApplyAccepted("c1")
	got, _ := s.Get("c1")
	assert.Equal(t, models.AcceptanceReported, got.AcceptanceStatus)

	s.ApplyBlocked("c1")
	got, _ = s.Get("c1")
	assert.Equal(t, models.AcceptanceBlocked, got.AcceptanceStatus)
}

func TestAccept(t *testing.T) {
	s, api := seeded(t,
		conv("c1", models.AcceptancePending, "peer-c1", 0, 0),
		conv("c2", models.AcceptancePending, me, 0, 0),
	)
	ctx := context.Background()
	assert.True(t, s.NeedsAcceptance("c1"))
	assert.Equal(t, "Pending your acceptance", s.StatusLabel("c1"))
	assert.Equal(t, "Waiting for acceptance (3 left)", s.StatusLabel("c2"))

	api.On("AcceptConversation", mock.Anything, "c1").Return(nil, nil).Once()
	require.NoError(t, s.Accept(ctx, "c1"))
	assert.False(t, s.NeedsAcceptance("c1"))
	assert.Equal(t, acceptance.Unlimited, s.RemainingMessages("c1"))

	// The initiator cannot accept their own request
	err := s.Accept(ctx, "c2")
	assert.Equal(t, errors.ErrCodeGatingViolation, errors.GetCode(err))
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(s.Accept(ctx, "ghost")))
	api.AssertNumberOfCalls(t, "AcceptConversation", 1)
}

func TestAccept_APIFailureKeepsPending(t *testing.T) {
	s, api := seeded(t, conv("c1", models.AcceptancePending, "peer-c1", 0, 0))
	api.On("AcceptConversation", mock.Anything, "c1").Return(nil, errors.New(errors.ErrCodeChatAPI, "down"))

	assert.Error(t, s.Accept(context.Background(), "c1"))
	got, _ := s.Get("c1")
	assert.Equal(t, models.AcceptancePending, got.AcceptanceStatus)
}

func TestReport(t *testing.T) {
	s, api := seeded(t, conv("c1", models.AcceptancePending, "peer-c1", 0, 0))
	api.On("ReportConversation", mock.Anything, "c1", "spam").Return(nil).Once()

	require.NoError(t, s.Report(context.Background(), "c1", "spam"))
	got, _ := s.Get("c1")
	assert.Equal(t, models.AcceptanceReported, got.AcceptanceStatus)

	s.ApplyBlocked("c1")
	assert.Error(t, s.Report(context.Background(), "c1", "again"))
	api.AssertExpectations(t)
}

func TestArchiveUnarchive(t *testing.T) {
	s, api := seeded(t,
		conv("c1", models.AcceptanceAccepted, me, 2*time.Minute, 0),
		conv("c2", models.AcceptanceAccepted, me, time.Minute, 3),
	)
	ctx := context.Background()
	api.On("ArchiveConversation", mock.Anything, "c2").Return(nil)
	api.On("UnarchiveConversation", mock.Anything, "c2").Return(nil)

	require.NoError(t, s.Archive(ctx, "c2"))
	assert.Equal(t, []string{"c1"}, ids(s.List()))
	assert.Equal(t, []string{"c2"}, ids(s.Archived()))
	assert.Equal(t, 0, s.TotalUnread())

	// A page-1 refresh that omits archived conversations keeps them
	api.On("ListConversations", mock.Anything, 1, 2).Return(page(
		conv("c1", models.AcceptanceAccepted, me, 2*time.Minute, 0),
	), nil).Once()
	_, err := s.LoadPage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids(s.Archived()))

	require.NoError(t, s.Unarchive(ctx, "c2"))
	assert.Equal(t, []string{"c1", "c2"}, ids(s.List()))
	assert.Empty(t, s.Archived())
	assert.Equal(t, 3, s.TotalUnread())
}

func TestArchive_APIFailureLeavesFeed(t *testing.T) {
	s, api := seeded(t, conv("c1", models.AcceptanceAccepted, me, 0, 0))
	api.On("ArchiveConversation", mock.Anything, "c1").Return(errors.New(errors.ErrCodeChatAPI, "down"))

	assert.Error(t, s.Archive(context.Background(), "c1"))
	assert.Equal(t, []string{"c1"}, ids(s.List()))
}

func TestApplyReadEventAndPresence(t *testing.T) {
	s, _ := seeded(t, conv("c1", models.AcceptanceAccepted, me, 0, 4), conv("c2", models.AcceptanceAccepted, me, 0, 1))

	s.ApplyReadEvent("c1")
	got, _ := s.Get("c1")
	assert.Equal(t, 0, got.UnreadCount)
	assert.Equal(t, 1, s.TotalUnread())

	s.ApplyPresence("peer-c2", true)
	got, _ = s.Get("c2")
	peer, _ := got.Peer(me)
	assert.True(t, peer.Online)

	s.ApplyPresence("peer-c2", false)
	got, _ = s.Get("c2")
	peer, _ = got.Peer(me)
	assert.False(t, peer.Online)
}

func TestOpen(t *testing.T) {
	s, api := seeded(t, conv("c1", models.AcceptanceAccepted, me, 0, 0))
	created := conv("c9", models.AcceptancePending, me, 0, 0)
	api.On("GetOrCreateConversation", mock.Anything, "peer-c9").Return(created, nil)

	got, err := s.Open(context.Background(), "peer-c9")
	require.NoError(t, err)
	assert.Equal(t, "c9", got.ID)
	assert.Equal(t, []string{"c9", "c1"}, ids(s.List()))
	assert.True(t, s.IsInitiator("c9"))

	// Mutating the returned copy does not touch the store
	got.UnreadCount = 99
	again, _ := s.Get("c9")
	assert.Equal(t, 0, again.UnreadCount)
}
