package wireless

import (
	"fmt"
	"time"
)

// Role is the GAP role of the local node.
type Role int

const (
	RoleNone Role = iota
	RolePeripheral
	RoleCentral
)

func (r Role) String() string {
	switch r {
	case RolePeripheral:
		return "peripheral"
	case RoleCentral:
		return "central"
	default:
		return "none"
	}
}

// ParseRole accepts "central", "peripheral" or "none".
func ParseRole(s string) (Role, error) {
	switch s {
	case "central":
		return RoleCentral, nil
	case "peripheral":
		return RolePeripheral, nil
	case "", "none":
		return RoleNone, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// State is the GAP connection state of a session.
type State int

const (
	StateIdle State = iota
	StateSeeking
	StateConnected
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeking:
		return "seeking"
	case StateConnected:
		return "connected"
	case StateTearingDown:
		return "tearing-down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind classifies session events.
type EventKind string

const (
	EventStateChanged EventKind = "state"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventRejected     EventKind = "rejected"
	EventFailure      EventKind = "failure"
)

// Event is published on Session.Events for observers such as the CLI.
type Event struct {
	At      time.Time
	Kind    EventKind
	State   State
	Address string
	Name    string
	Err     error
}

func (e Event) String() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.At.Format(time.TimeOnly), e.Kind, e.Err)
	case e.Address != "" || e.Name != "":
		return fmt.Sprintf("%s %s %s (%s)", e.At.Format(time.TimeOnly), e.Kind, e.Name, e.Address)
	default:
		return fmt.Sprintf("%s %s %s", e.At.Format(time.TimeOnly), e.Kind, e.State)
	}
}
