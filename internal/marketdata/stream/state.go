package stream

import "tradedash/internal/model"

// State is the connection manager's lifecycle state.
//
//	Disconnected → Connecting → Connected → Disconnected (transport error)
//	Connected → Resubscribing → Connecting (symbol switch)
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Resubscribing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Resubscribing:
		return "resubscribing"
	}
	return "unknown"
}

// MessageKind identifies what a Message carries.
type MessageKind int

const (
	MsgTick     MessageKind = iota // Tick is set
	MsgSwitched                    // Symbol is the newly active symbol
	MsgError                       // Err is a recoverable transport error
	MsgState                       // State and Attempt are set
)

// Message is what the manager hands to its consumer on the out channel.
type Message struct {
	Kind    MessageKind
	Symbol  string
	Tick    model.Tick
	Err     error
	State   State
	Attempt int
}
