package chatapi

import (
	"time"

	"chatcore/internal/models"
)

// UserDTO is a user profile snapshot as the server returns it
type UserDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Online      bool   `json:"online"`
}

func (u UserDTO) ToParticipant() models.Participant {
	return models.Participant{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Online:      u.Online,
	}
}

type AttachmentDTO struct {
	URL       string `json:"url"`
	SignedURL string `json:"signedUrl,omitempty"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
}

type ReplyDTO struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Type       string `json:"type"`
}

// MessageDTO is shared by REST responses and socket pushes
type MessageDTO struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"clientId,omitempty"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Sender         *UserDTO       `json:"sender,omitempty"`
	Type           string         `json:"type"`
	Content        string         `json:"content"`
	ReplyTo        *ReplyDTO      `json:"replyTo,omitempty"`
	Status         string         `json:"status"`
	ReadBy         []string       `json:"readBy,omitempty"`
	Attachment     *AttachmentDTO `json:"attachment,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt,omitempty"`
}

// ToModel converts the wire shape into the store model. Unknown types fall
// back to text and unknown statuses to sent.
func (d MessageDTO) ToModel() *models.Message {
	msg := &models.Message{
		ID:             d.ID,
		ClientID:       d.ClientID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Type:           messageType(d.Type),
		Content:        d.Content,
		Status:         messageStatus(d.Status),
		ReadBy:         append([]string(nil), d.ReadBy...),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}

	if d.Sender != nil {
		msg.Sender = models.Sender{ID: d.Sender.ID, DisplayName: d.Sender.DisplayName, AvatarURL: d.Sender.AvatarURL}
	} else {
		msg.Sender = models.Sender{ID: d.SenderID}
	}
	if msg.SenderID == "" {
		msg.SenderID = msg.Sender.ID
	}

	if d.ReplyTo != nil {
		msg.ReplyTo = &models.ReplySnapshot{
			ID:         d.ReplyTo.ID,
			Content:    d.ReplyTo.Content,
			SenderID:   d.ReplyTo.SenderID,
			SenderName: d.ReplyTo.SenderName,
			Type:       messageType(d.ReplyTo.Type),
		}
	}

	if d.Attachment != nil {
		msg.Attachment = &models.Attachment{
			URL:       d.Attachment.URL,
			SignedURL: d.Attachment.SignedURL,
			Name:      d.Attachment.Name,
			MimeType:  d.Attachment.MimeType,
			Size:      d.Attachment.Size,
		}
	}
	return msg
}

func messageType(s string) models.MessageType {
	switch t := models.MessageType(s); t {
	case models.TextMessage, models.DocumentMessage, models.SystemMessage, models.AdMessage:
		return t
	default:
		return models.TextMessage
	}
}

func messageStatus(s string) models.MessageStatus {
	st := models.MessageStatus(s)
	if st.Rank() == 0 {
		return models.StatusSent
	}
	return st
}

type MessageSummaryDTO struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type ConversationDTO struct {
	ID               string             `json:"id"`
	Type             string             `json:"type"`
	Participants     []UserDTO          `json:"participants"`
	AcceptanceStatus string             `json:"acceptanceStatus"`
	InitiatorID      string             `json:"initiatorId"`
	MessageCounts    map[string]int     `json:"messageCounts,omitempty"`
	LastMessage      *MessageSummaryDTO `json:"lastMessage,omitempty"`
	UnreadCount      int                `json:"unreadCount"`
	Archived         bool               `json:"archived"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

func (d ConversationDTO) ToModel() *models.Conversation {
	conv := &models.Conversation{
		ID:               d.ID,
		Type:             models.ConversationDirect,
		AcceptanceStatus: models.AcceptanceStatus(d.AcceptanceStatus),
		InitiatorID:      d.InitiatorID,
		MessageCounts:    make(map[string]int, len(d.MessageCounts)),
		UnreadCount:      d.UnreadCount,
		Archived:         d.Archived,
		UpdatedAt:        d.UpdatedAt,
	}
	if models.ConversationType(d.Type) == models.ConversationStatusReply {
		conv.Type = models.ConversationStatusReply
	}
	// An absent status means the server predates acceptance gating
	if !conv.AcceptanceStatus.IsValid() {
		conv.AcceptanceStatus = models.AcceptanceAccepted
	}

	for _, p := range d.Participants {
		conv.Participants = append(conv.Participants, p.ToParticipant())
	}
	for id, n := range d.MessageCounts {
		conv.MessageCounts[id] = n
	}
	if d.LastMessage != nil {
		conv.LastMessage = &models.MessageSummary{
			MessageID: d.LastMessage.ID,
			Content:   d.LastMessage.Content,
			SenderID:  d.LastMessage.SenderID,
			Type:      messageType(d.LastMessage.Type),
			CreatedAt: d.LastMessage.CreatedAt,
		}
	}
	return conv
}

// ConversationPage is one page of the conversation feed
type ConversationPage struct {
	Conversations []*models.Conversation
	Page          int
	HasMore       bool
}

// MessagePage is one page of history, oldest first
type MessagePage struct {
	Messages []*models.Message
	Page     int
	HasMore  bool
}

type conversationPageDTO struct {
	Items   []ConversationDTO `json:"items"`
	Page    int               `json:"page"`
	HasMore bool              `json:"hasMore"`
}

type messagePageDTO struct {
	Items   []MessageDTO `json:"items"`
	Page    int          `json:"page"`
	HasMore bool         `json:"hasMore"`
}

// SendTextRequest is the body of a text send. ClientID is echoed back by the
// server on both the HTTP response and the message:sent push.
type SendTextRequest struct {
	Content  string `json:"content"`
	ReplyTo  string `json:"replyTo,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// Document is an upload for SendDocument
type Document struct {
	Name     string
	Data     []byte
	Caption  string
	ClientID string
}

type getOrCreateRequest struct {
	PeerID string `json:"peerId"`
}

type bulkDeleteRequest struct {
	MessageIDs []string `json:"messageIds"`
}

type reportRequest struct {
	Reason string `json:"reason,omitempty"`
}

type forwardRequest struct {
	MessageIDs      []string `json:"messageIds"`
	ConversationIDs []string `json:"conversationIds"`
}

type refreshURLResponse struct {
	SignedURL string `json:"signedUrl"`
	URL       string `json:"url,omitempty"`
}
