package service

import (
	"context"
	"encoding/json"
	"sync"

	"chatcore/internal/errors"
	"chatcore/internal/models"
	"chatcore/internal/retry"
	"chatcore/internal/transport"
	"chatcore/pkg/chatapi"

	"github.com/sirupsen/logrus"
)

// route subscribes the stores to socket events. Handlers run on the socket
// reader in arrival order; anything that needs REST runs in the background.
func (s *Session) route() {
	subs := []func(){
		s.on(transport.EventMessageNew, s.handleMessage),
		s.on(transport.EventMessageSent, s.handleMessage),
		s.on(transport.EventMessageStatus, s.handleStatus),
		s.on(transport.EventMessageDeleted, s.handleDeleted),
		s.on(transport.EventUserTyping, s.handleTyping(true)),
		s.on(transport.EventUserStoppedTyping, s.handleTyping(false)),
		s.on(transport.EventUserOnline, s.handlePresence(true)),
		s.on(transport.EventUserOffline, s.handlePresence(false)),
		s.on(transport.EventConversationAccepted, s.handleConversation(s.Conversations.ApplyAccepted)),
		s.on(transport.EventConversationReported, s.handleConversation(s.Conversations.ApplyReported)),
		s.Socket.OnStateChange(s.handleState()),
	}

	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe, subs...)
	s.mu.Unlock()
}

// on registers a handler and logs payloads it fails to decode
func (s *Session) on(event string, handle func(payload json.RawMessage) error) func() {
	return s.Socket.On(event, func(payload json.RawMessage) {
		if err := handle(payload); err != nil {
			errors.Entry(s.logger.WithFields(logrus.Fields{
				LogFieldEvent: event,
			}), err).Warn("Dropped malformed socket event")
		}
	})
}

func (s *Session) handleMessage(payload json.RawMessage) error {
	var dto chatapi.MessageDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return err
	}
	msg := dto.ToModel()
	if msg.ID == "" || msg.ConversationID == "" {
		return nil
	}

	s.Messages.ApplyIncoming(msg)
	if msg.SenderID != s.config.Auth.UserID {
		s.Typists.Stop(msg.ConversationID, msg.SenderID)
	}

	// A message for a conversation we have not loaded means a new
	// conversation reached us; fetch it
	if _, known := s.Conversations.Get(msg.ConversationID); !known {
		s.background(func(ctx context.Context) {
			backoff := retry.NewBackoff(retry.DefaultBackoffConfig())
			err := backoff.RetryWithPredicate(ctx, func(int) error {
				_, err := s.Conversations.LoadPage(ctx, 1)
				return err
			}, errors.IsRetryable)
			if err != nil && ctx.Err() == nil {
				errors.Entry(s.logger.WithFields(idFields(s.ctx, msg.ConversationID, msg.ID, "")), err).Warn("Failed to load new conversation")
			}
		})
	}
	return nil
}

func (s *Session) handleStatus(payload json.RawMessage) error {
	var ev chatapi.StatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	status := models.MessageStatus(ev.Status)
	s.Messages.ApplyStatusEvent(ev.MessageID, status, ev.ReadBy)

	// Our own read evidenced from another device clears the unread badge
	if status == models.StatusRead && ev.ConversationID != "" {
		for _, id := range ev.ReadBy {
			if id == s.config.Auth.UserID {
				s.Conversations.ApplyReadEvent(ev.ConversationID)
				break
			}
		}
	}
	return nil
}

func (s *Session) handleDeleted(payload json.RawMessage) error {
	var ev chatapi.DeletedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	ids := ev.IDs()
	removed := s.Messages.ApplyBulkDeletion(ids)
	s.Interaction.Forget(ids...)

	s.logger.WithFields(idFields(s.ctx, ev.ConversationID, "", "")).WithFields(logrus.Fields{
		LogFieldCount: removed,
	}).Debug("Applied pushed deletion")
	return nil
}

func (s *Session) handleTyping(typing bool) func(json.RawMessage) error {
	return func(payload json.RawMessage) error {
		var ev chatapi.TypingEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		if ev.UserID == "" || ev.UserID == s.config.Auth.UserID {
			return nil
		}
		if typing {
			s.Typists.Start(ev.ConversationID, ev.UserID)
		} else {
			s.Typists.Stop(ev.ConversationID, ev.UserID)
		}
		return nil
	}
}

// The socket has already updated its online set when these run
func (s *Session) handlePresence(online bool) func(json.RawMessage) error {
	return func(payload json.RawMessage) error {
		var ev chatapi.PresenceEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		if ev.UserID == "" {
			return nil
		}
		s.Conversations.ApplyPresence(ev.UserID, online)
		if !online {
			s.Typists.ClearUser(ev.UserID)
		}
		return nil
	}
}

func (s *Session) handleConversation(apply func(conversationID string)) func(json.RawMessage) error {
	return func(payload json.RawMessage) error {
		var ev chatapi.ConversationEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		if ev.ConversationID != "" {
			apply(ev.ConversationID)
		}
		return nil
	}
}

// handleState rejoins open rooms and resyncs REST state after a reconnect
func (s *Session) handleState() func(transport.State) {
	var (
		mu       sync.Mutex
		previous transport.State
	)
	return func(state transport.State) {
		mu.Lock()
		reconnected := state == transport.StateConnected && previous == transport.StateReconnecting
		previous = state
		mu.Unlock()

		s.logger.WithField(LogFieldState, state).Debug("Socket state changed")
		if !reconnected {
			return
		}
		s.background(func(ctx context.Context) {
			for _, cid := range s.Messages.OpenConversations() {
				if err := s.Socket.Emit(ctx, transport.EventConversationJoin, chatapi.JoinPayload{ConversationID: cid}); err != nil {
					errors.Entry(s.logger.WithFields(idFields(s.ctx, cid, "", "")), err).Debug("Rejoin skipped")
				}
			}
		})
		s.scheduler.Trigger()
	}
}

// background runs fn on its own goroutine, bounded by the session lifetime
func (s *Session) background(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}
