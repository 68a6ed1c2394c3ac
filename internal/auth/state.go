package auth

import "fmt"

// ConnState is the authentication state of one connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateActive
	StateTokenExpiring
	StateReauthenticating
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateTokenExpiring:
		return "token-expiring"
	case StateReauthenticating:
		return "reauthenticating"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var connTransitions = map[ConnState][]ConnState{
	StateConnecting:       {StateAuthenticated, StateDisconnected},
	StateAuthenticated:    {StateActive, StateDisconnected},
	StateActive:           {StateTokenExpiring, StateReauthenticating, StateDisconnected},
	StateTokenExpiring:    {StateReauthenticating, StateDisconnected},
	StateReauthenticating: {StateActive, StateTokenExpiring, StateDisconnected},
	StateDisconnected:     nil,
}

// Transition returns the next state or an error for an illegal move.
// Moving to the current state is a no-op.
func (s ConnState) Transition(to ConnState) (ConnState, error) {
	if s == to {
		return s, nil
	}
	for _, next := range connTransitions[s] {
		if next == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("illegal connection transition %s -> %s", s, to)
}
