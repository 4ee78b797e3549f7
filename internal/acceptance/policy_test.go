package acceptance

import (
	"testing"

	"chatcore/internal/errors"
	"chatcore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	initiator = "alice"
	recipient = "bob"
)

func pendingConversation() *models.Conversation {
	return &models.Conversation{
		ID:               "c1",
		Participants:     []models.Participant{{ID: initiator}, {ID: recipient}},
		AcceptanceStatus: models.AcceptancePending,
		InitiatorID:      initiator,
		MessageCounts:    map[string]int{},
	}
}

func TestScenarioA_InitiatorExhaustsPendingLimit(t *testing.T) {
	p := DefaultPolicy()
	c := pendingConversation()

	for i := 3; i > 0; i-- {
		assert.Equal(t, i, p.RemainingMessages(c, initiator))
		assert.True(t, p.CanSendMessage(c, initiator))
		c.MessageCounts[initiator]++
	}

	assert.Equal(t, 0, p.RemainingMessages(c, initiator))
	assert.False(t, p.CanSendMessage(c, initiator))
	assert.True(t, p.CanSendMessage(c, recipient))
	assert.True(t, p.NeedsAcceptance(c, recipient))
	assert.False(t, p.NeedsAcceptance(c, initiator))

	err := p.CheckSend(c, initiator)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeGatingViolation, errors.GetCode(err))
}

func TestScenarioB_AcceptLiftsLimits(t *testing.T) {
	p := DefaultPolicy()
	c := pendingConversation()
	c.MessageCounts[initiator] = 3

	require.NoError(t, p.CheckAccept(c, recipient))
	status, err := Transition(c.AcceptanceStatus, models.AcceptanceAccepted)
	require.NoError(t, err)
	c.AcceptanceStatus = status

	assert.Equal(t, models.AcceptanceAccepted, c.AcceptanceStatus)
	assert.Equal(t, Unlimited, p.RemainingMessages(c, initiator))
	assert.Equal(t, Unlimited, p.RemainingMessages(c, recipient))
	assert.True(t, p.CanSendMessage(c, initiator))
	assert.False(t, p.NeedsAcceptance(c, recipient))
}

func TestReportedBlocksEveryone(t *testing.T) {
	p := DefaultPolicy()

	for _, from := range []models.AcceptanceStatus{models.AcceptancePending, models.AcceptanceAccepted} {
		t.Run(string(from), func(t *testing.T) {
			c := pendingConversation()
			c.AcceptanceStatus = from

			status, err := Transition(from, models.AcceptanceReported)
			require.NoError(t, err)
			c.AcceptanceStatus = status

			assert.False(t, p.CanSendMessage(c, initiator))
			assert.False(t, p.CanSendMessage(c, recipient))
			assert.Equal(t, Unlimited, p.RemainingMessages(c, initiator))
			assert.Equal(t, "Reported", p.StatusLabel(c, recipient))
		})
	}
}

func TestRemainingMessagesDecreasesByOne(t *testing.T) {
	p := NewPolicy(5)
	c := pendingConversation()

	prev := p.RemainingMessages(c, initiator)
	for p.CanSendMessage(c, initiator) {
		c.MessageCounts[initiator]++
		next := p.RemainingMessages(c, initiator)
		assert.Equal(t, prev-1, next)
		prev = next
	}
	assert.Equal(t, 0, prev)

	c.MessageCounts[initiator] = 9
	assert.Equal(t, 0, p.RemainingMessages(c, initiator))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.AcceptanceStatus
		want     bool
	}{
		{models.AcceptancePending, models.AcceptanceAccepted, true},
		{models.AcceptancePending, models.AcceptanceReported, true},
		{models.AcceptancePending, models.AcceptanceBlocked, true},
		{models.AcceptanceAccepted, models.AcceptanceReported, true},
		{models.AcceptanceAccepted, models.AcceptanceBlocked, true},
		{models.AcceptanceReported, models.AcceptanceBlocked, true},
		{models.AcceptanceAccepted, models.AcceptanceAccepted, true},
		{models.AcceptanceAccepted, models.AcceptancePending, false},
		{models.AcceptanceReported, models.AcceptanceAccepted, false},
		{models.AcceptanceReported, models.AcceptancePending, false},
		{models.AcceptanceBlocked, models.AcceptanceAccepted, false},
		{models.AcceptanceBlocked, models.AcceptanceReported, false},
		{models.AcceptancePending, "archived", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_InvalidKeepsStatus(t *testing.T) {
	status, err := Transition(models.AcceptanceReported, models.AcceptanceAccepted)
	require.Error(t, err)
	assert.Equal(t, models.AcceptanceReported, status)
}

func TestCheckAccept(t *testing.T) {
	p := DefaultPolicy()
	c := pendingConversation()

	err := p.CheckAccept(c, initiator)
	assert.Equal(t, errors.ErrCodeGatingViolation, errors.GetCode(err))
	assert.NoError(t, p.CheckAccept(c, recipient))

	c.AcceptanceStatus = models.AcceptanceAccepted
	assert.NoError(t, p.CheckAccept(c, initiator))

	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(p.CheckAccept(nil, recipient)))
}

func TestCheckSendMessages(t *testing.T) {
	p := DefaultPolicy()

	c := pendingConversation()
	c.AcceptanceStatus = models.AcceptanceBlocked
	assert.Equal(t, "This conversation is blocked", errors.GetUserMessage(p.CheckSend(c, recipient)))

	c.AcceptanceStatus = models.AcceptanceReported
	assert.Equal(t, "This conversation has been reported", errors.GetUserMessage(p.CheckSend(c, recipient)))

	c.AcceptanceStatus = models.AcceptanceAccepted
	assert.NoError(t, p.CheckSend(c, initiator))
	assert.NoError(t, p.CheckSend(nil, initiator))
}

func TestStatusLabel(t *testing.T) {
	p := DefaultPolicy()
	c := pendingConversation()
	c.MessageCounts[initiator] = 1

	assert.Equal(t, "Pending your acceptance", p.StatusLabel(c, recipient))
	assert.Equal(t, "Waiting for acceptance (2 left)", p.StatusLabel(c, initiator))

	c.AcceptanceStatus = models.AcceptanceBlocked
	assert.Equal(t, "Blocked", p.StatusLabel(c, initiator))

	c.AcceptanceStatus = models.AcceptanceAccepted
	assert.Equal(t, "", p.StatusLabel(c, initiator))
	assert.Equal(t, "", p.StatusLabel(nil, initiator))
}

func TestNewPolicyDefaults(t *testing.T) {
	assert.Equal(t, 3, NewPolicy(0).PendingLimit)
	assert.Equal(t, 7, NewPolicy(7).PendingLimit)
	assert.False(t, IsInitiator(nil, initiator))
	assert.False(t, IsInitiator(pendingConversation(), ""))
}
