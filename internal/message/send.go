package message

import (
	"context"

	"chatcore/internal/errors"
	"chatcore/internal/models"
	"chatcore/internal/privacy"
	"chatcore/internal/tracing"
	"chatcore/internal/validation"
	"chatcore/pkg/chatapi"

	"github.com/sirupsen/logrus"
)

// Draft is the user input a failed send hands back for retry
type Draft struct {
	ConversationID string
	Content        string
	ReplyTo        *models.ReplySnapshot
	Document       *chatapi.Document
}

// DraftError is returned by every failed send. Err carries the cause.
type DraftError struct {
	Draft Draft
	Err   error
}

func (e *DraftError) Error() string {
	return e.Err.Error()
}

func (e *DraftError) Unwrap() error {
	return e.Err
}

// DraftFrom extracts the draft to restore from a send error
func DraftFrom(err error) (Draft, bool) {
	for err != nil {
		if de, ok := err.(*DraftError); ok {
			return de.Draft, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return Draft{}, false
		}
		err = u.Unwrap()
	}
	return Draft{}, false
}

// SendText appends an optimistic message and posts it. The optimistic entry is
// visible to readers for the duration of the call and is replaced by the
// confirmed message, or removed if the send fails.
func (s *Store) SendText(ctx context.Context, conversationID, content, replyToID string) (*models.Message, error) {
	draft := Draft{ConversationID: conversationID, Content: content}

	if err := validation.ValidateID(conversationID, "conversation id"); err != nil {
		return nil, &DraftError{Draft: draft, Err: err}
	}
	if err := validation.ValidateContent(content); err != nil {
		return nil, &DraftError{Draft: draft, Err: err}
	}

	s.mu.Lock()
	reply, err := s.replySnapshotLocked(conversationID, replyToID)
	sender := s.config.Sender
	s.mu.Unlock()
	if err != nil {
		return nil, &DraftError{Draft: draft, Err: err}
	}
	draft.ReplyTo = reply

	clientID := s.newID()
	if s.convs != nil {
		if err := s.convs.ReserveSend(conversationID, clientID); err != nil {
			return nil, &DraftError{Draft: draft, Err: err}
		}
	}

	now := s.now()
	optimistic := &models.Message{
		ID:             models.TempIDPrefix + clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       s.config.UserID,
		Sender:         sender,
		Type:           models.TextMessage,
		Content:        content,
		ReplyTo:        reply,
		Status:         models.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	s.pending[clientID] = &pendingSend{conversationID: conversationID, tempID: optimistic.ID}
	s.insertLocked(optimistic)
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "message.SendText", tracing.AttrConversationID.String(conversationID))
	confirmed, err := s.api.SendText(ctx, conversationID, chatapi.SendTextRequest{
		Content:  content,
		ReplyTo:  replyToID,
		ClientID: clientID,
	})
	tracing.End(span, err)

	if err != nil {
		return s.rollback(ctx, optimistic, draft, err)
	}

	if confirmed.ConversationID == "" {
		confirmed.ConversationID = conversationID
	}
	confirmed.ClientID = clientID

	s.mu.Lock()
	p := s.pending[clientID]
	t := s.threadLocked(conversationID)
	// Without a client id in the echo, the temp entry is still ours to remove
	s.removeLocked(t, p.tempID)
	inserted := s.insertLocked(confirmed)
	delete(s.pending, clientID)
	stored := t.byID[confirmed.ID].Clone()
	s.mu.Unlock()

	s.notify(stored, "http", inserted)
	s.metrics.MessageSent(string(models.TextMessage), true)
	return stored, nil
}

func (s *Store) rollback(ctx context.Context, optimistic *models.Message, draft Draft, cause error) (*models.Message, error) {
	clientID := optimistic.ClientID
	conversationID := optimistic.ConversationID

	s.mu.Lock()
	p := s.pending[clientID]
	delete(s.pending, clientID)
	var confirmed *models.Message
	if p != nil && p.confirmedID != "" {
		// The push echo already confirmed the send; the HTTP error was lost in transit
		confirmed = s.threadLocked(conversationID).byID[p.confirmedID].Clone()
	} else {
		s.removeLocked(s.threadLocked(conversationID), optimistic.ID)
	}
	s.mu.Unlock()

	if confirmed != nil {
		errors.Entry(s.logger.WithFields(logrus.Fields{
			"conversation_id": privacy.MaskConversationID(conversationID),
			"message_id":      privacy.MaskMessageID(confirmed.ID),
		}), cause).Info("Send reported failure after its echo arrived, keeping message")
		s.metrics.MessageSent(string(optimistic.Type), true)
		return confirmed, nil
	}

	if s.convs != nil {
		s.convs.ReleaseSend(conversationID, clientID)
	}
	s.metrics.OptimisticRollback()
	s.metrics.MessageSent(string(optimistic.Type), false)

	errors.Entry(s.logger.WithFields(logrus.Fields{
		"conversation_id": privacy.MaskConversationID(conversationID),
		"temp_id":         privacy.MaskMessageID(optimistic.ID),
		"status_code":     errors.StatusCode(cause),
	}), cause).Warn("Send failed, optimistic message rolled back")

	return nil, &DraftError{Draft: draft, Err: errors.NewSendError(conversationID, cause)}
}

func (s *Store) replySnapshotLocked(conversationID, replyToID string) (*models.ReplySnapshot, error) {
	if replyToID == "" {
		return nil, nil
	}
	t, ok := s.threads[conversationID]
	if !ok {
		return nil, errors.NewNotFoundError("message", replyToID)
	}
	target, ok := t.byID[replyToID]
	if !ok || target.IsOptimistic() {
		return nil, errors.NewValidationError("reply_to", replyToID, "reply target is not available")
	}
	return target.Snapshot(), nil
}

// SendDocument uploads a document. No optimistic entry is shown; Uploading
// reports true while the upload runs.
func (s *Store) SendDocument(ctx context.Context, conversationID string, doc chatapi.Document) (*models.Message, error) {
	draft := Draft{ConversationID: conversationID, Content: doc.Caption, Document: &doc}

	if err := validation.ValidateID(conversationID, "conversation id"); err != nil {
		return nil, &DraftError{Draft: draft, Err: err}
	}
	if err := validation.ValidateDocumentSize(int64(len(doc.Data))); err != nil {
		return nil, &DraftError{Draft: draft, Err: err}
	}

	clientID := s.newID()
	doc.ClientID = clientID
	if s.convs != nil {
		if err := s.convs.ReserveSend(conversationID, clientID); err != nil {
			return nil, &DraftError{Draft: draft, Err: err}
		}
	}

	s.mu.Lock()
	s.uploading[conversationID]++
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "message.SendDocument", tracing.AttrConversationID.String(conversationID))
	confirmed, err := s.api.SendDocument(ctx, conversationID, doc)
	tracing.End(span, err)

	s.mu.Lock()
	s.uploading[conversationID]--
	if s.uploading[conversationID] <= 0 {
		delete(s.uploading, conversationID)
	}
	s.mu.Unlock()

	if err != nil {
		if s.convs != nil {
			s.convs.ReleaseSend(conversationID, clientID)
		}
		s.metrics.MessageSent(string(models.DocumentMessage), false)
		errors.Entry(s.logger.WithFields(logrus.Fields{
			"conversation_id": privacy.MaskConversationID(conversationID),
			"size":            len(doc.Data),
		}), err).Warn("Document upload failed")
		return nil, &DraftError{Draft: draft, Err: errors.NewSendError(conversationID, err)}
	}

	if confirmed.ConversationID == "" {
		confirmed.ConversationID = conversationID
	}
	confirmed.ClientID = clientID

	s.mu.Lock()
	inserted := s.insertLocked(confirmed)
	stored := s.threadLocked(confirmed.ConversationID).byID[confirmed.ID].Clone()
	s.mu.Unlock()

	s.notify(stored, "http", inserted)
	s.metrics.MessageSent(string(models.DocumentMessage), true)
	return stored, nil
}

// Retry resends a draft returned by a failed send
func (s *Store) Retry(ctx context.Context, draft Draft) (*models.Message, error) {
	if draft.Document != nil {
		doc := *draft.Document
		doc.Caption = draft.Content
		return s.SendDocument(ctx, draft.ConversationID, doc)
	}
	replyTo := ""
	if draft.ReplyTo != nil {
		replyTo = draft.ReplyTo.ID
	}
	return s.SendText(ctx, draft.ConversationID, draft.Content, replyTo)
}
