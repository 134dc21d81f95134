package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a container record.
type Status uint8

const (
	StatusStarting Status = iota + 1
	StatusRunning
	StatusStopped
	StatusExited
	StatusRemoved
	StatusError
)

var statusNames = map[Status]string{
	StatusStarting: "starting",
	StatusRunning:  "running",
	StatusStopped:  "stopped",
	StatusExited:   "exited",
	StatusRemoved:  "removed",
	StatusError:    "error",
}

// transitions lists, per state, the states it may move to.
var transitions = map[Status][]Status{
	StatusStarting: {StatusRunning, StatusStopped, StatusExited, StatusError, StatusRemoved},
	StatusRunning:  {StatusStopped, StatusExited, StatusError, StatusRemoved},
	StatusStopped:  {StatusRemoved},
	StatusExited:   {StatusRemoved},
	StatusError:    {StatusRemoved},
	StatusRemoved:  nil,
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is one of the declared states.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether the container can no longer run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusExited, StatusRemoved, StatusError:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus is the inverse of String.
func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for s, name := range statusNames {
		if name == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, v)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Action is a state change a container owner may request.
type Action string

const (
	ActionStop   Action = "stop"
	ActionKill   Action = "kill"
	ActionRemove Action = "remove"
)

// ParseAction rejects anything outside the supported action set.
func ParseAction(v string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(v))); a {
	case ActionStop, ActionKill, ActionRemove:
		return a, nil
	}
	return "", fmt.Errorf("%w: unsupported action %q, valid actions are stop, kill, remove", ErrInvalidArgument, v)
}

// Target is the state an action drives a container into.
func (a Action) Target() Status {
	if a == ActionRemove {
		return StatusRemoved
	}
	return StatusStopped
}
