package conversation

import (
	"context"
	"sync"

	"chatcore/internal/acceptance"
	"chatcore/internal/constants"
	"chatcore/internal/errors"
	"chatcore/internal/metrics"
	"chatcore/internal/models"
	"chatcore/internal/privacy"
	"chatcore/internal/tracing"
	"chatcore/pkg/chatapi"

	"github.com/sirupsen/logrus"
)

// API is the part of the REST client the store needs
type API interface {
	ListConversations(ctx context.Context, page, limit int) (*chatapi.ConversationPage, error)
	GetOrCreateConversation(ctx context.Context, peerID string) (*models.Conversation, error)
	ArchiveConversation(ctx context.Context, conversationID string) error
	UnarchiveConversation(ctx context.Context, conversationID string) error
	AcceptConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	ReportConversation(ctx context.Context, conversationID, reason string) error
}

// Presence answers whether a user is currently online
type Presence interface {
	IsOnline(userID string) bool
}

type Config struct {
	UserID   string
	PageSize int
	Policy   acceptance.Policy
}

// Store caches conversations for the authenticated user. REST calls run
// without the lock held; every merge happens under it.
type Store struct {
	api      API
	presence Presence
	config   Config
	metrics  *metrics.Metrics
	logger   *logrus.Logger

	mu       sync.Mutex
	byID     map[string]*models.Conversation
	feed     []string
	archived []string
	// reservations maps a send's client id to its conversation so the
	// counter bumped at send time is not bumped again by the echo
	reservations map[string]string
}

func NewStore(api API, presence Presence, config Config, m *metrics.Metrics) *Store {
	return NewStoreWithLogger(api, presence, config, m, nil)
}

func NewStoreWithLogger(api API, presence Presence, config Config, m *metrics.Metrics, logger *logrus.Logger) *Store {
	if config.PageSize <= 0 {
		config.PageSize = constants.DefaultConversationPageSize
	}
	if config.Policy.PendingLimit <= 0 {
		config.Policy = acceptance.DefaultPolicy()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Store{
		api:          api,
		presence:     presence,
		config:       config,
		metrics:      m,
		logger:       logger,
		byID:         make(map[string]*models.Conversation),
		reservations: make(map[string]string),
	}
}

// LoadPage fetches one page of the feed. Page 1 replaces the feed; later
// pages append conversations not already present.
func (s *Store) LoadPage(ctx context.Context, page int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "conversation.LoadPage", tracing.AttrPage.Int(page))
	result, err := s.api.ListConversations(ctx, page, s.config.PageSize)
	tracing.End(span, err)
	if err != nil {
		errors.Entry(s.logger.WithFields(logrus.Fields{
			"page": page,
		}), err).Warn("Failed to load conversations")
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if page == 1 {
		s.replaceLocked(result.Conversations)
	} else {
		s.appendLocked(result.Conversations)
	}

	s.logger.WithFields(logrus.Fields{
		"page":     page,
		"fetched":  len(result.Conversations),
		"feed":     len(s.feed),
		"archived": len(s.archived),
	}).Debug("Merged conversation page")
	return result.HasMore, nil
}

func (s *Store) replaceLocked(fetched []*models.Conversation) {
	byID := make(map[string]*models.Conversation, len(fetched)+len(s.archived))
	var feed, archived []string

	for _, conv := range fetched {
		if _, dup := byID[conv.ID]; dup {
			continue
		}
		merged := s.mergeLocked(conv)
		byID[conv.ID] = merged
		if merged.Archived {
			archived = append(archived, conv.ID)
		} else {
			feed = append(feed, conv.ID)
		}
	}

	// Archived conversations are kept even when the feed no longer lists them
	for _, id := range s.archived {
		if _, ok := byID[id]; ok {
			continue
		}
		byID[id] = s.byID[id]
		archived = append(archived, id)
	}

	s.byID = byID
	s.feed = feed
	s.archived = archived
}

func (s *Store) appendLocked(fetched []*models.Conversation) {
	for _, conv := range fetched {
		if _, ok := s.byID[conv.ID]; ok {
			continue
		}
		merged := s.mergeLocked(conv)
		s.byID[conv.ID] = merged
		if merged.Archived {
			s.archived = append(s.archived, conv.ID)
		} else {
			s.feed = append(s.feed, conv.ID)
		}
	}
}

// mergeLocked combines a fetched snapshot with any local copy. A stale
// snapshot never lowers the unread count and never rolls back a status the
// client has already seen move forward.
func (s *Store) mergeLocked(fetched *models.Conversation) *models.Conversation {
	merged := fetched.Clone()
	if merged.MessageCounts == nil {
		merged.MessageCounts = make(map[string]int)
	}
	if s.presence != nil {
		for i := range merged.Participants {
			merged.Participants[i].Online = s.presence.IsOnline(merged.Participants[i].ID)
		}
	}

	local, ok := s.byID[fetched.ID]
	if !ok {
		return merged
	}

	if !fetched.LastActivity().After(local.LastActivity()) {
		if local.UnreadCount > merged.UnreadCount {
			merged.UnreadCount = local.UnreadCount
		}
		if local.LastMessage != nil {
			last := *local.LastMessage
			merged.LastMessage = &last
		}
	}

	if local.AcceptanceStatus != fetched.AcceptanceStatus && acceptance.CanTransition(fetched.AcceptanceStatus, local.AcceptanceStatus) {
		merged.AcceptanceStatus = local.AcceptanceStatus
	}

	if merged.AcceptanceStatus == models.AcceptancePending {
		for id, n := range local.MessageCounts {
			if n > merged.MessageCounts[id] {
				merged.MessageCounts[id] = n
			}
		}
	}

	localOnline := make(map[string]bool, len(local.Participants))
	for _, p := range local.Participants {
		localOnline[p.ID] = p.Online
	}
	for i := range merged.Participants {
		if online, ok := localOnline[merged.Participants[i].ID]; ok {
			merged.Participants[i].Online = online
		}
	}
	return merged
}

// Open returns the direct conversation with peerID, creating it server-side
// on first contact, and moves it to the top of its list.
func (s *Store) Open(ctx context.Context, peerID string) (*models.Conversation, error) {
	conv, err := s.api.GetOrCreateConversation(ctx, peerID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.mergeLocked(conv)
	s.byID[conv.ID] = merged
	if merged.Archived {
		s.archived = moveToFront(s.archived, conv.ID)
		s.feed = remove(s.feed, conv.ID)
	} else {
		s.feed = moveToFront(s.feed, conv.ID)
		s.archived = remove(s.archived, conv.ID)
	}
	return merged.Clone(), nil
}

// Upsert stores a conversation snapshot through the normal merge rules
func (s *Store) Upsert(conv *models.Conversation) {
	if conv == nil || conv.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.byID[conv.ID]
	merged := s.mergeLocked(conv)
	s.byID[conv.ID] = merged
	if existed {
		return
	}
	if merged.Archived {
		s.archived = moveToFront(s.archived, conv.ID)
	} else {
		s.feed = moveToFront(s.feed, conv.ID)
	}
}

// ApplyIncomingMessage records a newly inserted confirmed message. It returns
// false when the conversation is unknown.
func (s *Store) ApplyIncomingMessage(msg *models.Message) bool {
	if msg == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[msg.ConversationID]
	if !ok {
		return false
	}
	if conv.LastMessage != nil && conv.LastMessage.MessageID == msg.ID {
		return true
	}

	newer := conv.LastMessage == nil || !msg.CreatedAt.Before(conv.LastMessage.CreatedAt)
	if newer {
		conv.LastMessage = msg.Summary()
		if msg.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = msg.CreatedAt
		}
		if conv.Archived {
			s.archived = moveToFront(s.archived, conv.ID)
		} else {
			s.feed = moveToFront(s.feed, conv.ID)
		}
	}

	own := msg.SenderID == s.config.UserID
	if !own {
		conv.UnreadCount++
	}

	if conv.AcceptanceStatus == models.AcceptancePending {
		_, reserved := s.reservations[msg.ClientID]
		switch {
		case own && msg.ClientID != "" && reserved:
			delete(s.reservations, msg.ClientID)
		case own && msg.ClientID == "" && s.consumeReservationLocked(msg.ConversationID):
			// An echo without a client id settles one of our open sends
		default:
			if conv.MessageCounts == nil {
				conv.MessageCounts = make(map[string]int)
			}
			conv.MessageCounts[msg.SenderID]++
		}
	} else if msg.ClientID != "" {
		delete(s.reservations, msg.ClientID)
	}
	return true
}

// ReserveSend runs the acceptance check for an outgoing message and, while
// pending, counts it immediately. Unknown conversations are not gated
// locally; the server still enforces its own limit.
func (s *Store) ReserveSend(conversationID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return nil
	}
	if err := s.config.Policy.CheckSend(conv, s.config.UserID); err != nil {
		s.metrics.GatingRejected()
		s.logger.WithFields(logrus.Fields{
			"conversation_id": privacy.MaskConversationID(conversationID),
			"status":          conv.AcceptanceStatus,
		}).Info("Send rejected by acceptance policy")
		return err
	}

	if conv.AcceptanceStatus == models.AcceptancePending {
		if conv.MessageCounts == nil {
			conv.MessageCounts = make(map[string]int)
		}
		conv.MessageCounts[s.config.UserID]++
		if clientID != "" {
			s.reservations[clientID] = conversationID
		}
	}
	return nil
}

// consumeReservationLocked drops one open reservation of a conversation.
// Counts are per user, so which of several sends it settles does not matter.
func (s *Store) consumeReservationLocked(conversationID string) bool {
	for clientID, cid := range s.reservations {
		if cid == conversationID {
			delete(s.reservations, clientID)
			return true
		}
	}
	return false
}

// ReleaseSend undoes ReserveSend after a failed send
func (s *Store) ReleaseSend(conversationID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[clientID]; !ok {
		return
	}
	delete(s.reservations, clientID)

	conv, ok := s.byID[conversationID]
	if !ok || conv.AcceptanceStatus != models.AcceptancePending {
		return
	}
	if conv.MessageCounts[s.config.UserID] > 0 {
		conv.MessageCounts[s.config.UserID]--
	}
}

// ApplyReadEvent clears the unread count of a conversation once reading is evidenced
func (s *Store) ApplyReadEvent(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.byID[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

// ApplyPresence updates the online flag of userID in every conversation
func (s *Store) ApplyPresence(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.byID {
		for i := range conv.Participants {
			if conv.Participants[i].ID == userID {
				conv.Participants[i].Online = online
			}
		}
	}
}

func (s *Store) ApplyAccepted(conversationID string) {
	s.applyStatus(conversationID, models.AcceptanceAccepted)
}

func (s *Store) ApplyReported(conversationID string) {
	s.applyStatus(conversationID, models.AcceptanceReported)
}

// ApplyBlocked records a moderation block
func (s *Store) ApplyBlocked(conversationID string) {
	s.applyStatus(conversationID, models.AcceptanceBlocked)
}

func (s *Store) applyStatus(conversationID string, to models.AcceptanceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return
	}
	status, err := acceptance.Transition(conv.AcceptanceStatus, to)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"conversation_id": privacy.MaskConversationID(conversationID),
			"from":            conv.AcceptanceStatus,
			"to":              to,
		}).Debug("Ignoring acceptance transition")
		return
	}
	conv.AcceptanceStatus = status

	if status != models.AcceptancePending {
		for clientID, cid := range s.reservations {
			if cid == conversationID {
				delete(s.reservations, clientID)
			}
		}
	}
}

// Accept accepts a pending conversation as its recipient
func (s *Store) Accept(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	conv, ok := s.byID[conversationID]
	var checkErr error
	if !ok {
		checkErr = errors.NewNotFoundError("conversation", conversationID)
	} else {
		checkErr = s.config.Policy.CheckAccept(conv, s.config.UserID)
	}
	s.mu.Unlock()
	if checkErr != nil {
		return checkErr
	}

	updated, err := s.api.AcceptConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if updated != nil {
		s.Upsert(updated)
	}
	s.ApplyAccepted(conversationID)
	return nil
}

// Report reports a conversation. Reporting is allowed from pending and accepted.
func (s *Store) Report(ctx context.Context, conversationID, reason string) error {
	s.mu.Lock()
	conv, ok := s.byID[conversationID]
	var checkErr error
	if !ok {
		checkErr = errors.NewNotFoundError("conversation", conversationID)
	} else {
		_, checkErr = acceptance.Transition(conv.AcceptanceStatus, models.AcceptanceReported)
	}
	s.mu.Unlock()
	if checkErr != nil {
		return checkErr
	}

	if err := s.api.ReportConversation(ctx, conversationID, reason); err != nil {
		return err
	}
	s.ApplyReported(conversationID)
	return nil
}

// Archive hides a conversation from the default feed
func (s *Store) Archive(ctx context.Context, conversationID string) error {
	if err := s.api.ArchiveConversation(ctx, conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return nil
	}
	conv.Archived = true
	s.feed = remove(s.feed, conversationID)
	s.archived = moveToFront(s.archived, conversationID)
	return nil
}

func (s *Store) Unarchive(ctx context.Context, conversationID string) error {
	if err := s.api.UnarchiveConversation(ctx, conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return nil
	}
	conv.Archived = false
	s.archived = remove(s.archived, conversationID)
	s.feed = insertByActivity(s.feed, conversationID, s.byID)
	return nil
}

func (s *Store) Get(conversationID string) (*models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// List returns the default feed, most recent first
func (s *Store) List() []*models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.feed)
}

func (s *Store) Archived() []*models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.archived)
}

func (s *Store) snapshotLocked(ids []string) []*models.Conversation {
	out := make([]*models.Conversation, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// TotalUnread sums unread counts over the default feed
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, id := range s.feed {
		total += s.byID[id].UnreadCount
	}
	return total
}

func (s *Store) CanSendMessage(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Policy.CanSendMessage(s.byID[conversationID], s.config.UserID)
}

func (s *Store) RemainingMessages(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Policy.RemainingMessages(s.byID[conversationID], s.config.UserID)
}

func (s *Store) NeedsAcceptance(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Policy.NeedsAcceptance(s.byID[conversationID], s.config.UserID)
}

func (s *Store) IsInitiator(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return acceptance.IsInitiator(s.byID[conversationID], s.config.UserID)
}

func (s *Store) StatusLabel(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Policy.StatusLabel(s.byID[conversationID], s.config.UserID)
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func moveToFront(ids []string, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, id)
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// insertByActivity places id before the first conversation with older activity
func insertByActivity(ids []string, id string, byID map[string]*models.Conversation) []string {
	ids = remove(ids, id)
	at := byID[id].LastActivity()
	for i, other := range ids {
		if byID[other].LastActivity().Before(at) {
			out := make([]string, 0, len(ids)+1)
			out = append(out, ids[:i]...)
			out = append(out, id)
			return append(out, ids[i:]...)
		}
	}
	return append(ids, id)
}
