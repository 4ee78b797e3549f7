package message

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatcore/internal/constants"
	"chatcore/internal/errors"
	"chatcore/internal/metrics"
	"chatcore/internal/models"
	"chatcore/internal/privacy"
	"chatcore/internal/tracing"
	"chatcore/internal/transport"
	"chatcore/pkg/chatapi"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// API is the part of the REST client the store needs
type API interface {
	ListMessages(ctx context.Context, conversationID string, page, limit int) (*chatapi.MessagePage, error)
	SendText(ctx context.Context, conversationID string, req chatapi.SendTextRequest) (*models.Message, error)
	SendDocument(ctx context.Context, conversationID string, doc chatapi.Document) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	BulkDeleteMessages(ctx context.Context, messageIDs []string) error
}

// Emitter sends fire-and-forget socket events
type Emitter interface {
	Emit(ctx context.Context, event string, payload interface{}) error
}

// Conversations is the conversation-side bookkeeping the message store
// drives: send gating and the denormalized list fields.
type Conversations interface {
	ReserveSend(conversationID, clientID string) error
	ReleaseSend(conversationID, clientID string)
	ApplyIncomingMessage(msg *models.Message) bool
	ApplyReadEvent(conversationID string)
}

type Config struct {
	UserID   string
	Sender   models.Sender
	PageSize int
}

type thread struct {
	messages []*models.Message
	byID     map[string]*models.Message
	hasMore  bool
	pages    int
	// ids already covered by a read receipt
	receipted map[string]struct{}
}

func newThread() *thread {
	return &thread{
		byID:      make(map[string]*models.Message),
		receipted: make(map[string]struct{}),
		hasMore:   true,
	}
}

type pendingSend struct {
	conversationID string
	tempID         string
	confirmedID    string
}

type statusUpdate struct {
	status models.MessageStatus
	readBy []string
}

// Store keeps one ordered message list per conversation. Lists are sorted by
// creation time with the message id as tie-break and never hold two entries
// with the same id.
type Store struct {
	api     API
	socket  Emitter
	convs   Conversations
	config  Config
	metrics *metrics.Metrics
	logger  *logrus.Logger
	now     func() time.Time
	newID   func() string

	mu        sync.Mutex
	threads   map[string]*thread
	location  map[string]string
	pending   map[string]*pendingSend
	early     *expirable.LRU[string, statusUpdate]
	uploading map[string]int
	open      map[string]bool
}

func NewStore(api API, socket Emitter, convs Conversations, config Config, m *metrics.Metrics) *Store {
	return NewStoreWithLogger(api, socket, convs, config, m, nil)
}

func NewStoreWithLogger(api API, socket Emitter, convs Conversations, config Config, m *metrics.Metrics, logger *logrus.Logger) *Store {
	if config.PageSize <= 0 {
		config.PageSize = constants.DefaultPageSize
	}
	if config.Sender.ID == "" {
		config.Sender.ID = config.UserID
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Store{
		api:      api,
		socket:   socket,
		convs:    convs,
		config:   config,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		threads:  make(map[string]*thread),
		location: make(map[string]string),
		pending:  make(map[string]*pendingSend),
		early: expirable.NewLRU[string, statusUpdate](constants.DefaultEarlyStatusLimit, nil,
			time.Duration(constants.DefaultEarlyStatusTTLMinutes)*time.Minute),
		uploading: make(map[string]int),
		open:      make(map[string]bool),
	}
}

func (s *Store) threadLocked(conversationID string) *thread {
	t, ok := s.threads[conversationID]
	if !ok {
		t = newThread()
		s.threads[conversationID] = t
	}
	return t
}

// Open joins the conversation room and loads the newest page
func (s *Store) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.open[conversationID] = true
	s.mu.Unlock()

	s.emit(ctx, transport.EventConversationJoin, chatapi.JoinPayload{ConversationID: conversationID})
	_, err := s.LoadPage(ctx, conversationID, 1)
	return err
}

// Close leaves the conversation room. Cached messages are kept.
func (s *Store) Close(ctx context.Context, conversationID string) {
	s.mu.Lock()
	wasOpen := s.open[conversationID]
	delete(s.open, conversationID)
	s.mu.Unlock()

	if wasOpen {
		s.emit(ctx, transport.EventConversationLeave, chatapi.JoinPayload{ConversationID: conversationID})
	}
}

func (s *Store) IsOpen(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[conversationID]
}

// OpenConversations lists the conversations currently joined
func (s *Store) OpenConversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadPage fetches a page of history and merges it into the list. Loading
// page 1 also sends one batched read receipt for every message from others
// the current user has not read yet.
func (s *Store) LoadPage(ctx context.Context, conversationID string, page int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "message.LoadPage",
		tracing.AttrConversationID.String(conversationID),
		tracing.AttrPage.Int(page),
	)
	result, err := s.api.ListMessages(ctx, conversationID, page, s.config.PageSize)
	tracing.End(span, err)
	if err != nil {
		errors.Entry(s.logger.WithFields(logrus.Fields{
			"conversation_id": privacy.MaskConversationID(conversationID),
			"page":            page,
		}), err).Warn("Failed to load messages")
		return false, err
	}

	s.mu.Lock()
	t := s.threadLocked(conversationID)
	for _, msg := range result.Messages {
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		s.insertLocked(msg)
	}
	if page > t.pages {
		t.pages = page
		t.hasMore = result.HasMore
	}

	var unread []string
	if page == 1 {
		for _, msg := range t.messages {
			if msg.IsOptimistic() || msg.SenderID == s.config.UserID || msg.IsReadBy(s.config.UserID) {
				continue
			}
			if _, done := t.receipted[msg.ID]; done {
				continue
			}
			t.receipted[msg.ID] = struct{}{}
			msg.ReadBy = append(msg.ReadBy, s.config.UserID)
			unread = append(unread, msg.ID)
		}
	}
	total := len(t.messages)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"conversation_id": privacy.MaskConversationID(conversationID),
		"page":            page,
		"fetched":         len(result.Messages),
		"total":           total,
	}).Debug("Merged message page")

	if len(unread) > 0 {
		s.emit(ctx, transport.EventMessageRead, chatapi.ReadPayload{ConversationID: conversationID, MessageIDs: unread})
		if s.convs != nil {
			s.convs.ApplyReadEvent(conversationID)
		}
	}
	return result.HasMore, nil
}

// LoadOlder fetches the page after the last one loaded
func (s *Store) LoadOlder(ctx context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	t := s.threadLocked(conversationID)
	next := t.pages + 1
	hasMore := t.hasMore
	s.mu.Unlock()

	if next > 1 && !hasMore {
		return false, nil
	}
	return s.LoadPage(ctx, conversationID, next)
}

// MarkRead sends a read receipt for messages that became visible without a
// page load. Ids that were already receipted are skipped.
func (s *Store) MarkRead(ctx context.Context, conversationID string, messageIDs []string) int {
	s.mu.Lock()
	t, ok := s.threads[conversationID]
	var ids []string
	if ok {
		for _, id := range messageIDs {
			msg, found := t.byID[id]
			if !found || msg.SenderID == s.config.UserID || msg.IsReadBy(s.config.UserID) {
				continue
			}
			if _, done := t.receipted[id]; done {
				continue
			}
			t.receipted[id] = struct{}{}
			msg.ReadBy = append(msg.ReadBy, s.config.UserID)
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return 0
	}
	s.emit(ctx, transport.EventMessageRead, chatapi.ReadPayload{ConversationID: conversationID, MessageIDs: ids})
	if s.convs != nil {
		s.convs.ApplyReadEvent(conversationID)
	}
	return len(ids)
}

// insertLocked merges a confirmed message. It replaces the optimistic entry
// that shares its client id and returns false when the id is already present.
func (s *Store) insertLocked(msg *models.Message) bool {
	msg = msg.Clone()
	t := s.threadLocked(msg.ConversationID)

	if msg.ClientID == "" && msg.SenderID == s.config.UserID {
		if _, known := t.byID[msg.ID]; !known {
			msg.ClientID = s.soleUnconfirmedLocked(msg.ConversationID)
		}
	}

	if msg.ClientID != "" {
		if p, ok := s.pending[msg.ClientID]; ok && p.conversationID == msg.ConversationID {
			s.removeLocked(t, p.tempID)
			p.confirmedID = msg.ID
		}
	}

	if existing, ok := t.byID[msg.ID]; ok {
		s.mergeStatusLocked(existing, msg.Status, msg.ReadBy)
		if existing.ClientID == "" {
			existing.ClientID = msg.ClientID
		}
		return false
	}

	if upd, ok := s.early.Get(msg.ID); ok {
		s.mergeStatusLocked(msg, upd.status, upd.readBy)
		s.early.Remove(msg.ID)
	}

	i := sort.Search(len(t.messages), func(i int) bool { return models.Less(msg, t.messages[i]) })
	t.messages = append(t.messages, nil)
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = msg
	t.byID[msg.ID] = msg
	s.location[msg.ID] = msg.ConversationID
	return true
}

// soleUnconfirmedLocked returns the client id of the only unconfirmed text
// send in a conversation. With none or several in flight an echo that lacks
// a client id cannot be attributed and "" is returned.
func (s *Store) soleUnconfirmedLocked(conversationID string) string {
	found := ""
	for clientID, p := range s.pending {
		if p.conversationID != conversationID || p.confirmedID != "" {
			continue
		}
		if found != "" {
			return ""
		}
		found = clientID
	}
	return found
}

func (s *Store) removeLocked(t *thread, id string) bool {
	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	delete(s.location, id)
	for i, m := range t.messages {
		if m.ID == id {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			break
		}
	}
	return true
}

// mergeStatusLocked moves status forward only and unions readBy. It reports
// whether the incoming status was a regression.
func (s *Store) mergeStatusLocked(msg *models.Message, status models.MessageStatus, readBy []string) bool {
	regressed := false
	switch {
	case status.Rank() == 0:
	case msg.Status.Before(status):
		msg.Status = status
	case status.Before(msg.Status):
		regressed = true
	}
	for _, id := range readBy {
		if !msg.IsReadBy(id) {
			msg.ReadBy = append(msg.ReadBy, id)
		}
	}
	return regressed
}

// notify passes newly inserted confirmed messages to the conversation store
func (s *Store) notify(msg *models.Message, source string, inserted bool) {
	s.metrics.Reconciled(source, !inserted)
	if inserted && s.convs != nil {
		s.convs.ApplyIncomingMessage(msg)
	}
}

func (s *Store) emit(ctx context.Context, event string, payload interface{}) {
	if s.socket == nil {
		return
	}
	if err := s.socket.Emit(ctx, event, payload); err != nil {
		// Socket features degrade silently while disconnected
		errors.Entry(s.logger.WithFields(logrus.Fields{
			"event": event,
		}), err).Debug("Socket emit skipped")
	}
}

// Messages returns a copy of the ordered list for a conversation
func (s *Store) Messages(conversationID string) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[conversationID]
	if !ok {
		return nil
	}
	out := make([]*models.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) Message(messageID string) (*models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cid, ok := s.location[messageID]
	if !ok {
		return nil, false
	}
	return s.threads[cid].byID[messageID].Clone(), true
}

// HasMore reports whether older pages may exist
func (s *Store) HasMore(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[conversationID]
	return !ok || t.hasMore
}

// Uploading reports whether a document upload is in flight
func (s *Store) Uploading(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploading[conversationID] > 0
}

// SetSender replaces the sender snapshot put on optimistic messages
func (s *Store) SetSender(sender models.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sender.ID == "" {
		sender.ID = s.config.UserID
	}
	s.config.Sender = sender
}
