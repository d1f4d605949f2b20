package domain

import (
	"fmt"
	"slices"
)

// TransitionTable is a declarative state machine keyed by
// (current state, actor kind) -> allowed next states. Every workflow
// checks a table once per operation before mutating anything.
type TransitionTable[S ~string] map[S]map[ActorKind][]S

// Allowed returns the next states the actor kind may request from a state.
func (t TransitionTable[S]) Allowed(from S, kind ActorKind) []S {
	return t[from][kind]
}

// Can reports whether kind may move from -> to.
func (t TransitionTable[S]) Can(from, to S, kind ActorKind) bool {
	return slices.Contains(t[from][kind], to)
}

// reachable reports whether any actor may move from -> to.
func (t TransitionTable[S]) reachable(from, to S) bool {
	for _, targets := range t[from] {
		if slices.Contains(targets, to) {
			return true
		}
	}
	return false
}

// Terminal reports whether no actor can leave the state.
func (t TransitionTable[S]) Terminal(s S) bool {
	for _, targets := range t[s] {
		if len(targets) > 0 {
			return false
		}
	}
	return true
}

// Check validates a move. A move nobody may make is an illegal transition;
// a move that exists for other roles is a permission failure.
func (t TransitionTable[S]) Check(op, entity string, from, to S, kind ActorKind) error {
	if t.Can(from, to, kind) {
		return nil
	}
	if !t.reachable(from, to) {
		return IllegalTransition(op, entity, string(from), string(to))
	}
	return Forbidden(op, fmt.Sprintf("%s may not move %s from %s to %s", kind, entity, from, to))
}
