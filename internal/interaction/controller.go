package interaction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatcore/internal/clock"
	"chatcore/internal/constants"
	"chatcore/internal/errors"
	"chatcore/internal/models"
	"chatcore/internal/privacy"
	"chatcore/internal/validation"

	"github.com/sirupsen/logrus"
)

// Lookup finds messages in the message store
type Lookup interface {
	Message(messageID string) (*models.Message, bool)
}

// Forwarder is the REST call behind forwarding
type Forwarder interface {
	ForwardMessages(ctx context.Context, messageIDs, conversationIDs []string) ([]*models.Message, error)
}

// Sink receives the copies created by a forward
type Sink interface {
	ApplyIncoming(msg *models.Message) bool
}

type Config struct {
	Gesture GestureConfig
	// Haptic is called when a swipe first crosses the threshold and again
	// when it is released past it
	Haptic func()
}

// Controller owns the local interaction state of one message list: the
// gesture in progress, the selection, the reply target and the forward
// targets. None of it is persisted or sent to the server until Forward.
type Controller struct {
	messages  Lookup
	forwarder Forwarder
	sink      Sink
	clock     clock.Clock
	haptic    func()
	logger    *logrus.Logger

	mu        sync.Mutex
	g         gesture
	gen       uint64
	timer     clock.Timer
	selection *Selection
	targets   map[string]struct{}
	reply     *models.ReplySnapshot
}

func NewController(messages Lookup, forwarder Forwarder, sink Sink, config Config, clk clock.Clock) *Controller {
	return NewControllerWithLogger(messages, forwarder, sink, config, clk, nil)
}

func NewControllerWithLogger(messages Lookup, forwarder Forwarder, sink Sink, config Config, clk clock.Clock, logger *logrus.Logger) *Controller {
	gc := config.Gesture
	if gc.LongPress <= 0 {
		gc.LongPress = time.Duration(constants.DefaultLongPressMs) * time.Millisecond
	}
	if gc.SwipeThreshold <= 0 {
		gc.SwipeThreshold = constants.DefaultSwipeThresholdPx
	}
	if gc.Slop <= 0 {
		gc.Slop = constants.DefaultSwipeSlopPx
	}
	if gc.MaxOffset < gc.SwipeThreshold {
		gc.MaxOffset = constants.DefaultSwipeMaxOffsetPx
		if gc.MaxOffset < gc.SwipeThreshold {
			gc.MaxOffset = gc.SwipeThreshold
		}
	}
	if clk == nil {
		clk = clock.Real
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Controller{
		messages:  messages,
		forwarder: forwarder,
		sink:      sink,
		clock:     clk,
		haptic:    config.Haptic,
		logger:    logger,
		g:         gesture{config: gc},
		selection: NewSelection(),
		targets:   make(map[string]struct{}),
	}
}

// Press starts a gesture on a message. Unconfirmed messages do not react.
func (c *Controller) Press(messageID string, x, y float64) bool {
	msg, ok := c.lookup(messageID)
	if !ok || msg.IsOptimistic() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.g.press(messageID, x, y, c.selection.Active())
	c.gen++
	gen := c.gen
	if !c.g.selecting {
		c.timer = c.clock.AfterFunc(c.g.config.LongPress, func() { c.longPress(gen) })
	}
	return true
}

func (c *Controller) longPress(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || !c.g.longPress() {
		return
	}
	if !c.selection.Contains(c.g.messageID) {
		c.selection.Toggle(c.g.messageID)
	}
}

// Move feeds a pointer position for the gesture in progress
func (c *Controller) Move(x, y float64) {
	c.mu.Lock()
	crossed := c.g.move(x, y)
	if c.g.moved {
		c.stopTimerLocked()
	}
	c.mu.Unlock()

	if crossed {
		c.buzz()
	}
}

// Release ends the gesture and applies its action
func (c *Controller) Release() Action {
	c.mu.Lock()
	c.stopTimerLocked()
	messageID := c.g.messageID
	haptics := c.g.haptics
	action := c.g.release()
	released := c.g.haptics > haptics

	switch action {
	case ActionToggle:
		c.selection.Toggle(messageID)
	case ActionReply:
		if msg, ok := c.lookup(messageID); ok {
			c.reply = msg.Snapshot()
		}
	}
	c.mu.Unlock()

	if released {
		c.buzz()
	}
	return action
}

// Cancel abandons the gesture in progress without any action
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.g.reset()
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.g.phase
}

// Offset is the horizontal displacement to render for a message
func (c *Controller) Offset(messageID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.g.phase != PhaseSwiping || c.g.messageID != messageID {
		return 0
	}
	return c.g.offset
}

func (c *Controller) Selecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.Active()
}

func (c *Controller) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.IDs()
}

// ExitSelection clears the selection explicitly
func (c *Controller) ExitSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection.Clear()
}

// Forget drops deleted messages from the selection. A reply target is a
// snapshot and stays valid.
func (c *Controller) Forget(messageIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection.Remove(messageIDs...)
}

func (c *Controller) ReplyTarget() *models.ReplySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reply == nil {
		return nil
	}
	r := *c.reply
	return &r
}

func (c *Controller) ClearReply() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = nil
}

// ToggleTarget flips a forward target conversation
func (c *Controller) ToggleTarget(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.targets[conversationID]; ok {
		delete(c.targets, conversationID)
		return false
	}
	c.targets[conversationID] = struct{}{}
	return true
}

func (c *Controller) Targets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.targets))
	for id := range c.targets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Forward sends the selected messages to the chosen conversations in one
// call. Success clears the selection and targets; failure keeps both.
func (c *Controller) Forward(ctx context.Context) ([]*models.Message, error) {
	c.mu.Lock()
	messageIDs := c.selection.IDs()
	conversationIDs := make([]string, 0, len(c.targets))
	for id := range c.targets {
		conversationIDs = append(conversationIDs, id)
	}
	c.mu.Unlock()
	sort.Strings(conversationIDs)

	if len(messageIDs) == 0 {
		return nil, errors.NewValidationError("selection", "", "no messages selected")
	}
	if err := validation.ValidateIDs(conversationIDs, "forward target"); err != nil {
		return nil, err
	}

	copies, err := c.forwarder.ForwardMessages(ctx, messageIDs, conversationIDs)
	if err != nil {
		errors.Entry(c.logger.WithFields(logrus.Fields{
			"messages": len(messageIDs),
			"targets":  len(conversationIDs),
		}), err).Warn("Forward failed, selection kept")
		return nil, fmt.Errorf("forward %d messages: %w", len(messageIDs), err)
	}

	c.mu.Lock()
	c.selection.Clear()
	c.targets = make(map[string]struct{})
	c.mu.Unlock()

	for _, msg := range copies {
		if c.sink != nil {
			c.sink.ApplyIncoming(msg)
		}
		c.logger.WithFields(logrus.Fields{
			"message_id":      privacy.MaskMessageID(msg.ID),
			"conversation_id": privacy.MaskConversationID(msg.ConversationID),
		}).Debug("Forwarded message")
	}
	return copies, nil
}

// Close cancels a pending long-press timer
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.gen++
	c.g.reset()
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) lookup(messageID string) (*models.Message, bool) {
	if c.messages == nil {
		return nil, false
	}
	return c.messages.Message(messageID)
}

func (c *Controller) buzz() {
	if c.haptic != nil {
		c.haptic()
	}
}
