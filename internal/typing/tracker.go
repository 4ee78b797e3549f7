package typing

import (
	"sort"
	"sync"
	"time"

	"chatcore/internal/clock"
	"chatcore/internal/constants"
)

type inbound struct {
	timer clock.Timer
	gen   uint64
}

// Tracker holds who is typing in each conversation. Entries expire after the
// window in case the stop event is lost.
type Tracker struct {
	window   time.Duration
	clock    clock.Clock
	onChange func(conversationID string, users []string)

	mu     sync.Mutex
	typing map[string]map[string]*inbound
	closed bool
}

// NewTracker creates a tracker. onChange, if set, runs after each change
// with the current typists of the conversation. It must not call back into
// the tracker.
func NewTracker(window time.Duration, clk clock.Clock, onChange func(conversationID string, users []string)) *Tracker {
	if window <= 0 {
		window = time.Duration(constants.DefaultTypingWindowMs) * time.Millisecond
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Tracker{
		window:   window,
		clock:    clk,
		onChange: onChange,
		typing:   make(map[string]map[string]*inbound),
	}
}

// Start records a user:typing event
func (t *Tracker) Start(conversationID, userID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	users, ok := t.typing[conversationID]
	if !ok {
		users = make(map[string]*inbound)
		t.typing[conversationID] = users
	}
	entry, existed := users[userID]
	if existed {
		entry.timer.Stop()
	} else {
		entry = &inbound{}
		users[userID] = entry
	}
	entry.gen++
	gen := entry.gen
	entry.timer = t.clock.AfterFunc(t.window, func() { t.expire(conversationID, userID, gen) })
	snapshot := t.usersLocked(conversationID)
	t.mu.Unlock()

	if !existed {
		t.changed(conversationID, snapshot)
	}
}

// Stop records a user:stopped_typing event
func (t *Tracker) Stop(conversationID, userID string) {
	t.mu.Lock()
	removed := t.removeLocked(conversationID, userID, 0)
	snapshot := t.usersLocked(conversationID)
	t.mu.Unlock()

	if removed {
		t.changed(conversationID, snapshot)
	}
}

// ClearUser drops a user from every conversation, used when they go offline
func (t *Tracker) ClearUser(userID string) {
	t.mu.Lock()
	var affected []string
	for cid := range t.typing {
		if t.removeLocked(cid, userID, 0) {
			affected = append(affected, cid)
		}
	}
	snapshots := make(map[string][]string, len(affected))
	for _, cid := range affected {
		snapshots[cid] = t.usersLocked(cid)
	}
	t.mu.Unlock()

	sort.Strings(affected)
	for _, cid := range affected {
		t.changed(cid, snapshots[cid])
	}
}

// Typing lists the users typing in a conversation, sorted
func (t *Tracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usersLocked(conversationID)
}

func (t *Tracker) expire(conversationID, userID string, gen uint64) {
	t.mu.Lock()
	removed := t.removeLocked(conversationID, userID, gen)
	snapshot := t.usersLocked(conversationID)
	t.mu.Unlock()

	if removed {
		t.changed(conversationID, snapshot)
	}
}

// removeLocked deletes an entry. A non-zero gen only matches the timer that
// was armed with it.
func (t *Tracker) removeLocked(conversationID, userID string, gen uint64) bool {
	users, ok := t.typing[conversationID]
	if !ok {
		return false
	}
	entry, ok := users[userID]
	if !ok || (gen != 0 && entry.gen != gen) {
		return false
	}
	entry.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.typing, conversationID)
	}
	return true
}

func (t *Tracker) usersLocked(conversationID string) []string {
	users := t.typing[conversationID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) changed(conversationID string, users []string) {
	if t.onChange != nil {
		t.onChange(conversationID, users)
	}
}

// Close stops every expiry timer and forgets all typists
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for _, users := range t.typing {
		for _, entry := range users {
			entry.timer.Stop()
		}
	}
	t.typing = make(map[string]map[string]*inbound)
}
