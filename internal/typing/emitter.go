package typing

import (
	"context"
	"sync"
	"time"

	"chatcore/internal/clock"
	"chatcore/internal/constants"
	"chatcore/internal/errors"
	"chatcore/internal/privacy"
	"chatcore/internal/transport"
	"chatcore/pkg/chatapi"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Socket sends fire-and-forget socket events
type Socket interface {
	Emit(ctx context.Context, event string, payload interface{}) error
}

type outbound struct {
	timer   clock.Timer
	gen     uint64
	limiter *rate.Limiter
	active  bool
	lastKey time.Time

	// A start the limiter refused waits here until a token is due
	deferred    clock.Timer
	reservation *rate.Reservation
}

type typingEvent struct {
	event          string
	conversationID string
}

// Emitter turns keystrokes into typing:start and typing:stop events. One
// start is sent when typing begins, and one stop after the inactivity window
// passes with no further keystroke.
type Emitter struct {
	socket Socket
	window time.Duration
	clock  clock.Clock
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	convs    map[string]*outbound
	queue    []typingEvent
	flushing bool
	closed   bool
}

func NewEmitter(socket Socket, window time.Duration, clk clock.Clock) *Emitter {
	return NewEmitterWithLogger(socket, window, clk, nil)
}

func NewEmitterWithLogger(socket Socket, window time.Duration, clk clock.Clock, logger *logrus.Logger) *Emitter {
	if window <= 0 {
		window = time.Duration(constants.DefaultTypingWindowMs) * time.Millisecond
	}
	if clk == nil {
		clk = clock.Real
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Emitter{
		socket: socket,
		window: window,
		clock:  clk,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		convs:  make(map[string]*outbound),
	}
}

// Keystroke records input in a conversation. It returns true when a
// typing:start was emitted. A start refused by the rate limit is sent once
// the limit allows it, provided typing continued.
func (e *Emitter) Keystroke(conversationID string) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	o, ok := e.convs[conversationID]
	if !ok {
		o = &outbound{limiter: rate.NewLimiter(rate.Every(e.window), 1)}
		e.convs[conversationID] = o
	}
	now := e.clock.Now()
	o.lastKey = now

	switch {
	case o.active:
		o.timer.Stop()
		e.armStopLocked(conversationID, o, e.window)
		e.mu.Unlock()
		return false
	case o.deferred != nil:
		e.mu.Unlock()
		return false
	}

	r := o.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		gen := o.gen
		o.reservation = r
		o.deferred = e.clock.AfterFunc(delay, func() { e.deferredStart(conversationID, gen) })
		e.mu.Unlock()
		return false
	}
	e.startLocked(conversationID, o, now)
	e.mu.Unlock()

	e.flush()
	return true
}

// Stop ends typing right away, for example when the message is sent
func (e *Emitter) Stop(conversationID string) bool {
	e.mu.Lock()
	o, ok := e.convs[conversationID]
	if !ok || e.closed {
		e.mu.Unlock()
		return false
	}
	if o.deferred != nil {
		o.deferred.Stop()
		o.reservation.CancelAt(e.clock.Now())
		o.deferred, o.reservation = nil, nil
		o.gen++
	}
	if !o.active {
		e.mu.Unlock()
		return false
	}
	o.timer.Stop()
	o.gen++
	o.active = false
	e.enqueueLocked(transport.EventTypingStop, conversationID)
	e.mu.Unlock()

	e.flush()
	return true
}

// Typing reports whether a start was sent without a matching stop
func (e *Emitter) Typing(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.convs[conversationID]
	return ok && o.active
}

func (e *Emitter) deferredStart(conversationID string, gen uint64) {
	e.mu.Lock()
	o, ok := e.convs[conversationID]
	if !ok || e.closed || o.gen != gen || o.active {
		e.mu.Unlock()
		return
	}
	o.deferred, o.reservation = nil, nil
	now := e.clock.Now()
	if now.Sub(o.lastKey) >= e.window {
		e.mu.Unlock()
		return
	}
	e.startLocked(conversationID, o, now)
	e.mu.Unlock()

	e.flush()
}

// startLocked marks typing active and schedules the stop one window after
// the last keystroke
func (e *Emitter) startLocked(conversationID string, o *outbound, now time.Time) {
	o.active = true
	e.armStopLocked(conversationID, o, e.window-now.Sub(o.lastKey))
	e.enqueueLocked(transport.EventTypingStart, conversationID)
}

func (e *Emitter) armStopLocked(conversationID string, o *outbound, after time.Duration) {
	o.gen++
	gen := o.gen
	o.timer = e.clock.AfterFunc(after, func() { e.expire(conversationID, gen) })
}

func (e *Emitter) expire(conversationID string, gen uint64) {
	e.mu.Lock()
	o, ok := e.convs[conversationID]
	if !ok || !o.active || o.gen != gen || e.closed {
		e.mu.Unlock()
		return
	}
	o.active = false
	e.enqueueLocked(transport.EventTypingStop, conversationID)
	e.mu.Unlock()

	e.flush()
}

func (e *Emitter) enqueueLocked(event, conversationID string) {
	e.queue = append(e.queue, typingEvent{event: event, conversationID: conversationID})
}

// flush sends queued events in order without holding e.mu. Only one caller
// drains at a time; events queued meanwhile go out with that drain.
func (e *Emitter) flush() {
	e.mu.Lock()
	if e.flushing {
		e.mu.Unlock()
		return
	}
	e.flushing = true
	for len(e.queue) > 0 && !e.closed {
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		e.emit(ev.event, ev.conversationID)
		e.mu.Lock()
	}
	e.flushing = false
	e.mu.Unlock()
}

func (e *Emitter) emit(event, conversationID string) {
	if e.socket == nil {
		return
	}
	if err := e.socket.Emit(e.ctx, event, chatapi.TypingPayload{ConversationID: conversationID}); err != nil {
		errors.Entry(e.logger.WithFields(logrus.Fields{
			"event":           event,
			"conversation_id": privacy.MaskConversationID(conversationID),
		}), err).Debug("Typing event not sent")
	}
}

// Close cancels every pending timer. No events are emitted afterwards.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	e.cancel()
	for _, o := range e.convs {
		if o.timer != nil {
			o.timer.Stop()
		}
		if o.deferred != nil {
			o.deferred.Stop()
		}
	}
	e.convs = make(map[string]*outbound)
	e.queue = nil
}
