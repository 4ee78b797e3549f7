package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigError_Error(t *testing.T) {
	err := ConfigError{Message: "test error"}
	assert.Equal(t, "test error", err.Error())
}

func TestMessageStatus_Rank(t *testing.T) {
	tests := []struct {
		name     string
		a, b     MessageStatus
		expected bool
	}{
		{"sent before delivered", StatusSent, StatusDelivered, true},
		{"delivered before read", StatusDelivered, StatusRead, true},
		{"sent before read", StatusSent, StatusRead, true},
		{"read not before sent", StatusRead, StatusSent, false},
		{"same status", StatusDelivered, StatusDelivered, false},
		{"unknown before sent", MessageStatus("weird"), StatusSent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Before(tt.b))
		})
	}
}

func TestMessage_IsOptimistic(t *testing.T) {
	assert.True(t, (&Message{ID: TempIDPrefix + "abc"}).IsOptimistic())
	assert.False(t, (&Message{ID: "m1"}).IsOptimistic())
}

func TestLess_TieBreaksOnID(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a := &Message{ID: "a", CreatedAt: ts}
	b := &Message{ID: "b", CreatedAt: ts}
	c := &Message{ID: "0", CreatedAt: ts.Add(time.Millisecond)}

	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.True(t, Less(b, c))
}

func TestMessage_CloneIsDeep(t *testing.T) {
	orig := &Message{
		ID:         "m1",
		ReadBy:     []string{"u1"},
		ReplyTo:    &ReplySnapshot{ID: "m0", Content: "hello"},
		Attachment: &Attachment{Name: "a.pdf"},
	}
	cp := orig.Clone()
	cp.ReadBy[0] = "u2"
	cp.ReplyTo.Content = "changed"
	cp.Attachment.Name = "b.pdf"

	assert.Equal(t, "u1", orig.ReadBy[0])
	assert.Equal(t, "hello", orig.ReplyTo.Content)
	assert.Equal(t, "a.pdf", orig.Attachment.Name)
}

func TestConversation_CloneIsDeep(t *testing.T) {
	orig := &Conversation{
		ID:            "c1",
		Participants:  []Participant{{ID: "u1"}, {ID: "u2"}},
		MessageCounts: map[string]int{"u1": 1},
		LastMessage:   &MessageSummary{Content: "hi"},
	}
	cp := orig.Clone()
	cp.Participants[0].Online = true
	cp.MessageCounts["u1"] = 3
	cp.LastMessage.Content = "bye"

	assert.False(t, orig.Participants[0].Online)
	assert.Equal(t, 1, orig.MessageCounts["u1"])
	assert.Equal(t, "hi", orig.LastMessage.Content)
}

func TestConversation_PeerAndParticipant(t *testing.T) {
	c := &Conversation{Participants: []Participant{{ID: "me"}, {ID: "you", DisplayName: "You"}}}

	peer, ok := c.Peer("me")
	assert.True(t, ok)
	assert.Equal(t, "you", peer.ID)
	assert.Equal(t, "You", peer.GetDisplayName())

	assert.True(t, c.HasParticipant("me"))
	assert.False(t, c.HasParticipant("them"))
	assert.Equal(t, 0, c.SentCount("me"))
}

func TestConversation_LastActivity(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Conversation{UpdatedAt: base}
	assert.Equal(t, base, c.LastActivity())

	c.LastMessage = &MessageSummary{CreatedAt: base.Add(time.Hour)}
	assert.Equal(t, base.Add(time.Hour), c.LastActivity())
}
