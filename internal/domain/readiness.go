package domain

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type ReadinessState int

const (
	ReadinessUninitialized ReadinessState = iota
	ReadinessBootstrapping
	ReadinessUIReady
	ReadinessDestroyed
)

func (s ReadinessState) String() string {
	switch s {
	case ReadinessUninitialized:
		return "uninitialized"
	case ReadinessBootstrapping:
		return "bootstrapping"
	case ReadinessUIReady:
		return "ui_ready"
	case ReadinessDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("invalid state transition")

func NewInvalidTransitionError(from, to ReadinessState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Destroyed is reachable from every live state and is terminal.
var validTransitions = map[ReadinessState][]ReadinessState{
	ReadinessUninitialized: {ReadinessBootstrapping, ReadinessDestroyed},
	ReadinessBootstrapping: {ReadinessUIReady, ReadinessDestroyed},
	ReadinessUIReady:       {ReadinessDestroyed},
}

func CanTransition(from, to ReadinessState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

type StateTransition struct {
	From      ReadinessState
	To        ReadinessState
	Reason    string
	Timestamp time.Time
}

// Readiness tracks bootstrap progress of one session.
type Readiness struct {
	mu          sync.RWMutex
	state       ReadinessState
	transitions []StateTransition
}

func NewReadiness() *Readiness {
	return &Readiness{
		state:       ReadinessUninitialized,
		transitions: make([]StateTransition, 0, 4),
	}
}

func (r *Readiness) TransitionTo(newState ReadinessState, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !CanTransition(r.state, newState) {
		return NewInvalidTransitionError(r.state, newState)
	}

	r.transitions = append(r.transitions, StateTransition{
		From:      r.state,
		To:        newState,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	r.state = newState
	return nil
}

func (r *Readiness) State() ReadinessState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Ready reports whether commands may be dispatched.
func (r *Readiness) Ready() bool {
	return r.State() == ReadinessUIReady
}

func (r *Readiness) Destroyed() bool {
	return r.State() == ReadinessDestroyed
}

func (r *Readiness) Transitions() []StateTransition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StateTransition, len(r.transitions))
	copy(out, r.transitions)
	return out
}
