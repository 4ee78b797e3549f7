package transport

// Events pushed by the server
const (
	EventMessageNew           = "message:new"
	EventMessageSent          = "message:sent"
	EventMessageStatus        = "message:status"
	EventMessageDeleted       = "message:deleted"
	EventUserTyping           = "user:typing"
	EventUserStoppedTyping    = "user:stopped_typing"
	EventUserOnline           = "user:online"
	EventUserOffline          = "user:offline"
	EventConversationAccepted = "conversation:accepted"
	EventConversationReported = "conversation:reported"
)

// Events emitted by the client
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventMessageRead       = "message:read"
)
