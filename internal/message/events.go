package message

import (
	"context"
	"slices"

	"chatcore/internal/errors"
	"chatcore/internal/models"
	"chatcore/internal/privacy"
	"chatcore/internal/validation"

	"github.com/sirupsen/logrus"
)

// ApplyIncoming merges a pushed message, either a message from another
// participant or the echo of our own send. It returns false for a
// message already in the list.
func (s *Store) ApplyIncoming(msg *models.Message) bool {
	if msg == nil || msg.ID == "" || msg.ConversationID == "" {
		return false
	}

	s.mu.Lock()
	inserted := s.insertLocked(msg)
	stored := s.threadLocked(msg.ConversationID).byID[msg.ID].Clone()
	s.mu.Unlock()

	s.notify(stored, "push", inserted)
	return inserted
}

// ApplyStatusEvent moves a message's status forward. Updates for messages
// not loaded yet are held and applied when the message arrives. It returns
// false when the update was a regression or targeted an unknown message.
func (s *Store) ApplyStatusEvent(messageID string, status models.MessageStatus, readBy []string) bool {
	if messageID == "" || (status.Rank() == 0 && len(readBy) == 0) {
		return false
	}

	s.mu.Lock()
	cid, ok := s.location[messageID]
	if !ok {
		upd, _ := s.early.Get(messageID)
		if upd.status.Before(status) {
			upd.status = status
		}
		upd.readBy = appendUnique(upd.readBy, readBy...)
		s.early.Add(messageID, upd)
		s.mu.Unlock()
		return false
	}
	msg := s.threads[cid].byID[messageID]
	regressed := s.mergeStatusLocked(msg, status, readBy)
	s.mu.Unlock()

	if regressed {
		s.metrics.StatusRegressionRejected()
		s.logger.WithFields(logrus.Fields{
			"message_id": privacy.MaskMessageID(messageID),
			"status":     status,
		}).Debug("Ignored out-of-order status update")
		return false
	}
	return true
}

// ApplyDeletion removes a message. Deleting an unknown id is a no-op.
func (s *Store) ApplyDeletion(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(messageID)
}

// ApplyBulkDeletion removes every listed message and returns how many were present
func (s *Store) ApplyBulkDeletion(messageIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range messageIDs {
		if s.deleteLocked(id) {
			n++
		}
	}
	return n
}

func (s *Store) deleteLocked(messageID string) bool {
	s.early.Remove(messageID)
	cid, ok := s.location[messageID]
	if !ok {
		return false
	}
	return s.removeLocked(s.threads[cid], messageID)
}

// DeleteMessages removes messages locally and asks the server to delete
// them. On failure the first page is re-fetched, since it is unknown which
// of the ids the server actually removed.
func (s *Store) DeleteMessages(ctx context.Context, conversationID string, messageIDs []string) error {
	if err := validation.ValidateIDs(messageIDs, "message id"); err != nil {
		return err
	}

	s.ApplyBulkDeletion(messageIDs)

	var err error
	if len(messageIDs) == 1 {
		err = s.api.DeleteMessage(ctx, messageIDs[0])
	} else {
		err = s.api.BulkDeleteMessages(ctx, messageIDs)
	}
	if err == nil {
		return nil
	}

	s.metrics.Resync()
	errors.Entry(s.logger.WithFields(logrus.Fields{
		"conversation_id": privacy.MaskConversationID(conversationID),
		"count":           len(messageIDs),
	}), err).Warn("Delete failed, resynchronizing first page")

	if _, loadErr := s.LoadPage(ctx, conversationID, 1); loadErr != nil {
		errors.Entry(s.logger.WithFields(logrus.Fields{
			"conversation_id": privacy.MaskConversationID(conversationID),
		}), loadErr).Warn("Resync after failed delete also failed")
	}

	return errors.Wrap(err, errors.ErrCodeBulkPartial, "delete failed, messages resynchronized").
		WithContext("conversation_id", conversationID).
		WithContext("count", len(messageIDs)).
		WithUserMessage("Some messages could not be deleted")
}

func appendUnique(ids []string, add ...string) []string {
	for _, id := range add {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}
