package chatapi

// Socket payloads. Message pushes (message:new, message:sent) carry a MessageDTO.

type StatusEvent struct {
	MessageID      string   `json:"messageId"`
	ConversationID string   `json:"conversationId"`
	Status         string   `json:"status"`
	ReadBy         []string `json:"readBy,omitempty"`
}

// DeletedEvent carries either a single id or a batch
type DeletedEvent struct {
	MessageID      string   `json:"messageId,omitempty"`
	MessageIDs     []string `json:"messageIds,omitempty"`
	ConversationID string   `json:"conversationId"`
}

func (e DeletedEvent) IDs() []string {
	ids := make([]string, 0, len(e.MessageIDs)+1)
	if e.MessageID != "" {
		ids = append(ids, e.MessageID)
	}
	return append(ids, e.MessageIDs...)
}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
}

// ConversationEvent is pushed for conversation:accepted and conversation:reported
type ConversationEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// ReadPayload is emitted as message:read. An empty MessageIDs marks the whole
// conversation read.
type ReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}
