package models

import (
	"strings"
	"time"
)

// TempIDPrefix marks a message id generated locally for an unconfirmed send
const TempIDPrefix = "tmp_"

type MessageType string

const (
	TextMessage     MessageType = "text"
	DocumentMessage MessageType = "document"
	SystemMessage   MessageType = "system"
	AdMessage       MessageType = "ad"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses sent < delivered < read. Unknown statuses rank lowest.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Before reports whether s is strictly earlier than other in the delivery lifecycle
func (s MessageStatus) Before(other MessageStatus) bool {
	return s.Rank() < other.Rank()
}

// Sender is the denormalized sender snapshot carried on each message
type Sender struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ReplySnapshot is a copy of the replied-to message taken at send time.
// It is not a live reference and survives deletion of the target.
type ReplySnapshot struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name,omitempty"`
	Type       MessageType `json:"type"`
}

// Attachment holds the document fields of a document message
type Attachment struct {
	URL       string `json:"url"`
	SignedURL string `json:"signed_url,omitempty"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
}

type Message struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Sender         Sender         `json:"sender"`
	Type           MessageType    `json:"type"`
	Content        string         `json:"content"`
	ReplyTo        *ReplySnapshot `json:"reply_to,omitempty"`
	Status         MessageStatus  `json:"status"`
	ReadBy         []string       `json:"read_by,omitempty"`
	Attachment     *Attachment    `json:"attachment,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsOptimistic reports whether the message is a local, unconfirmed entry
func (m *Message) IsOptimistic() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// IsReadBy reports whether userID appears in the read-by set
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Snapshot captures the fields a reply needs from this message
func (m *Message) Snapshot() *ReplySnapshot {
	return &ReplySnapshot{
		ID:         m.ID,
		Content:    m.Content,
		SenderID:   m.SenderID,
		SenderName: m.Sender.DisplayName,
		Type:       m.Type,
	}
}

// Summary builds the conversation-list preview for this message
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		MessageID: m.ID,
		Content:   m.Content,
		SenderID:  m.SenderID,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
	}
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	if m.Attachment != nil {
		a := *m.Attachment
		out.Attachment = &a
	}
	return &out
}

// Less orders messages by creation time, falling back to id so the order is total
func Less(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
