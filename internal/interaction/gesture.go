package interaction

import (
	"fmt"
	"math"
	"time"
)

// Phase is the state of the single gesture in progress
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePressing
	PhaseLongPress
	PhaseSwiping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePressing:
		return "pressing"
	case PhaseLongPress:
		return "long_press"
	case PhaseSwiping:
		return "swiping"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Action is what a finished gesture step asks the controller to do
type Action int

const (
	ActionNone Action = iota
	ActionTap
	ActionSelect
	ActionToggle
	ActionReply
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionTap:
		return "tap"
	case ActionSelect:
		return "select"
	case ActionToggle:
		return "toggle"
	case ActionReply:
		return "reply"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

type GestureConfig struct {
	LongPress      time.Duration
	SwipeThreshold float64
	Slop           float64
	MaxOffset      float64
}

// gesture tracks one touch on one message. Swiping is only reachable from
// pressing outside selection mode, and a long press ends any chance of a
// swipe.
type gesture struct {
	config    GestureConfig
	phase     Phase
	messageID string
	selecting bool
	startX    float64
	startY    float64
	moved     bool
	offset    float64
	crossed   bool
	// haptics fired during this gesture
	haptics int
}

func (g *gesture) press(messageID string, x, y float64, selecting bool) {
	*g = gesture{
		config:    g.config,
		phase:     PhasePressing,
		messageID: messageID,
		selecting: selecting,
		startX:    x,
		startY:    y,
	}
}

// move returns true when the threshold was crossed for the first time
func (g *gesture) move(x, y float64) bool {
	dx, dy := x-g.startX, y-g.startY

	switch g.phase {
	case PhasePressing:
		if math.Abs(dx) <= g.config.Slop && math.Abs(dy) <= g.config.Slop {
			return false
		}
		g.moved = true
		if g.selecting || math.Abs(dx) <= math.Abs(dy) || dx <= 0 {
			// Vertical scroll, leftward drag or selection mode: not a swipe
			return false
		}
		g.phase = PhaseSwiping
		return g.track(dx)
	case PhaseSwiping:
		return g.track(dx)
	default:
		return false
	}
}

func (g *gesture) track(dx float64) bool {
	g.offset = math.Max(0, math.Min(dx, g.config.MaxOffset))
	if g.offset >= g.config.SwipeThreshold && !g.crossed {
		g.crossed = true
		g.haptics++
		return true
	}
	return false
}

// longPress returns true when the press turned into a long press
func (g *gesture) longPress() bool {
	if g.phase != PhasePressing || g.moved || g.selecting {
		return false
	}
	g.phase = PhaseLongPress
	return true
}

// release ends the gesture and reports the resulting action
func (g *gesture) release() Action {
	action := ActionNone
	switch g.phase {
	case PhasePressing:
		switch {
		case g.moved:
		case g.selecting:
			action = ActionToggle
		default:
			action = ActionTap
		}
	case PhaseLongPress:
		action = ActionSelect
	case PhaseSwiping:
		if g.offset >= g.config.SwipeThreshold {
			action = ActionReply
			g.haptics++
		}
	}
	g.reset()
	return action
}

func (g *gesture) reset() {
	g.phase = PhaseIdle
	g.offset = 0
	g.crossed = false
	g.moved = false
}
