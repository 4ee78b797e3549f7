package models

import (
	"time"
)

type ConversationType string

const (
	ConversationDirect      ConversationType = "direct"
	ConversationStatusReply ConversationType = "status_reply"
)

type AcceptanceStatus string

const (
	AcceptancePending  AcceptanceStatus = "pending"
	AcceptanceAccepted AcceptanceStatus = "accepted"
	AcceptanceReported AcceptanceStatus = "reported"
	AcceptanceBlocked  AcceptanceStatus = "blocked"
)

// IsValid reports whether s is one of the known acceptance states
func (s AcceptanceStatus) IsValid() bool {
	switch s {
	case AcceptancePending, AcceptanceAccepted, AcceptanceReported, AcceptanceBlocked:
		return true
	default:
		return false
	}
}

// Participant is a member of a conversation as seen by the client
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Online      bool   `json:"online"`
}

// GetDisplayName returns the best available name for the participant
func (p *Participant) GetDisplayName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// MessageSummary is the denormalized last message shown in the conversation list
type MessageSummary struct {
	MessageID string      `json:"message_id"`
	Content   string      `json:"content"`
	SenderID  string      `json:"sender_id"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// Conversation is the client-side cache entry for one conversation
type Conversation struct {
	ID               string           `json:"id"`
	Type             ConversationType `json:"type"`
	Participants     []Participant    `json:"participants"`
	AcceptanceStatus AcceptanceStatus `json:"acceptance_status"`
	InitiatorID      string           `json:"initiator_id"`
	MessageCounts    map[string]int   `json:"message_counts,omitempty"`
	LastMessage      *MessageSummary  `json:"last_message,omitempty"`
	UnreadCount      int              `json:"unread_count"`
	Archived         bool             `json:"archived"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so callers never share mutable state with a store
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]Participant(nil), c.Participants...)
	if c.MessageCounts != nil {
		out.MessageCounts = make(map[string]int, len(c.MessageCounts))
		for k, v := range c.MessageCounts {
			out.MessageCounts[k] = v
		}
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

// Participant looks up a participant by user id
func (c *Conversation) Participant(userID string) (*Participant, bool) {
	for i := range c.Participants {
		if c.Participants[i].ID == userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

// HasParticipant reports whether userID is a participant of record
func (c *Conversation) HasParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

// Peer returns the first participant that is not userID. For direct
// conversations this is the other side.
func (c *Conversation) Peer(userID string) (*Participant, bool) {
	for i := range c.Participants {
		if c.Participants[i].ID != userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

// LastActivity is the time used to order conversations and detect stale snapshots
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}

// SentCount returns the number of messages userID sent while the conversation was pending
func (c *Conversation) SentCount(userID string) int {
	if c.MessageCounts == nil {
		return 0
	}
	return c.MessageCounts[userID]
}
