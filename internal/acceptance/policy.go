// Package acceptance gates who may message whom before a conversation is
// accepted. Everything here is a pure function of a conversation snapshot
// and the current user id.
package acceptance

import (
	"fmt"
	"math"

	"chatcore/internal/constants"
	"chatcore/internal/errors"
	"chatcore/internal/models"
)

// Unlimited is the remaining-message count once a conversation leaves pending
const Unlimited = math.MaxInt

// Policy holds the pending-message limit
type Policy struct {
	PendingLimit int
}

func NewPolicy(pendingLimit int) Policy {
	if pendingLimit <= 0 {
		pendingLimit = constants.DefaultPendingMessageLimit
	}
	return Policy{PendingLimit: pendingLimit}
}

func DefaultPolicy() Policy {
	return NewPolicy(constants.DefaultPendingMessageLimit)
}

func IsInitiator(c *models.Conversation, userID string) bool {
	return c != nil && userID != "" && c.InitiatorID == userID
}

// NeedsAcceptance is true for the gatekeeper of a pending conversation
func (p Policy) NeedsAcceptance(c *models.Conversation, userID string) bool {
	return c != nil && c.AcceptanceStatus == models.AcceptancePending && !IsInitiator(c, userID)
}

// RemainingMessages returns how many more messages userID may send while the
// conversation is pending, or Unlimited once it is not.
func (p Policy) RemainingMessages(c *models.Conversation, userID string) int {
	if c == nil {
		return p.PendingLimit
	}
	if c.AcceptanceStatus != models.AcceptancePending {
		return Unlimited
	}
	remaining := p.PendingLimit - c.SentCount(userID)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p Policy) CanSendMessage(c *models.Conversation, userID string) bool {
	if c == nil {
		return true
	}
	switch c.AcceptanceStatus {
	case models.AcceptanceReported, models.AcceptanceBlocked:
		return false
	case models.AcceptanceAccepted:
		return true
	case models.AcceptancePending:
		return c.SentCount(userID) < p.PendingLimit
	default:
		return false
	}
}

// CheckSend returns a gating error describing why userID may not send, or nil
func (p Policy) CheckSend(c *models.Conversation, userID string) error {
	if p.CanSendMessage(c, userID) {
		return nil
	}
	switch c.AcceptanceStatus {
	case models.AcceptanceReported:
		return errors.NewGatingError(c.ID, "This conversation has been reported")
	case models.AcceptanceBlocked:
		return errors.NewGatingError(c.ID, "This conversation is blocked")
	case models.AcceptancePending:
		return errors.NewGatingError(c.ID,
			fmt.Sprintf("You can send up to %d messages until your request is accepted", p.PendingLimit))
	default:
		return errors.NewGatingError(c.ID, fmt.Sprintf("Unknown conversation status %q", c.AcceptanceStatus))
	}
}

// StatusLabel is the short status line shown under a conversation title
func (p Policy) StatusLabel(c *models.Conversation, userID string) string {
	if c == nil {
		return ""
	}
	switch c.AcceptanceStatus {
	case models.AcceptancePending:
		if p.NeedsAcceptance(c, userID) {
			return "Pending your acceptance"
		}
		return fmt.Sprintf("Waiting for acceptance (%d left)", p.RemainingMessages(c, userID))
	case models.AcceptanceReported:
		return "Reported"
	case models.AcceptanceBlocked:
		return "Blocked"
	default:
		return ""
	}
}

// CanTransition reports whether from may move to to. Staying put is allowed
// so re-delivered events are harmless.
func CanTransition(from, to models.AcceptanceStatus) bool {
	if !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case models.AcceptancePending:
		return true
	case models.AcceptanceAccepted:
		return to == models.AcceptanceReported || to == models.AcceptanceBlocked
	case models.AcceptanceReported:
		return to == models.AcceptanceBlocked
	default:
		return false
	}
}

// Transition validates a status change and returns the resulting status
func Transition(from, to models.AcceptanceStatus) (models.AcceptanceStatus, error) {
	if !CanTransition(from, to) {
		return from, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("cannot move conversation from %s to %s", from, to)).
			WithContext("from", string(from)).
			WithContext("to", string(to))
	}
	return to, nil
}

// CheckAccept verifies that userID is the one allowed to accept c
func (p Policy) CheckAccept(c *models.Conversation, userID string) error {
	if c == nil {
		return errors.NewNotFoundError("conversation", "")
	}
	if c.AcceptanceStatus == models.AcceptanceAccepted {
		return nil
	}
	if !p.NeedsAcceptance(c, userID) {
		return errors.NewGatingError(c.ID, "Only the recipient can accept this conversation")
	}
	return nil
}
