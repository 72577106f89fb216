package projections

import (
	"fmt"

	"github.com/ripkitten-co/purr/events"
)

// State is the lifecycle phase of a Driver's current subscription session.
type State int32

const (
	StateInitializing State = iota
	StateCatchingUp
	StateLive
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateCatchingUp:
		return "catching-up"
	case StateLive:
		return "live"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type dropClass int

const (
	dropFatal dropClass = iota
	dropUser
	dropTransient
)

func (c dropClass) String() string {
	switch c {
	case dropUser:
		return "user"
	case dropTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// classifyDrop maps a subscription drop reason to the driver's reaction.
// Reasons not listed are fatal.
func classifyDrop(r events.DropReason) dropClass {
	switch r {
	case events.DropUserInitiated:
		return dropUser
	case events.DropSubscribingError,
		events.DropServerError,
		events.DropConnectionClosed,
		events.DropCatchUpError,
		events.DropProcessingQueueOverflow,
		events.DropEventHandlerException:
		return dropTransient
	default:
		return dropFatal
	}
}
