package manager

import (
	"errors"
	"fmt"
)

// Control-surface errors. Everything else stays inside the supervisor and
// is observable only through events or snapshots.
var (
	ErrNotFound      = errors.New("unknown server id")
	ErrInvalidAction = errors.New("unknown action")
)

// Action is a control-surface command against a single server.
type Action int

const (
	ActionStart Action = iota
	ActionStop
	ActionRestart
)

// ParseAction maps the wire form to an Action. Unrecognized names surface
// ErrInvalidAction here, once, at the boundary.
func ParseAction(s string) (Action, error) {
	switch s {
	case "start":
		return ActionStart, nil
	case "stop":
		return ActionStop, nil
	case "restart":
		return ActionRestart, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionRestart:
		return "restart"
	default:
		return "unknown"
	}
}
