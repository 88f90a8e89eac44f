// Package payment gates paid agent services behind a request-scoped
// settlement negotiation carried in x402 message metadata.
package payment

import (
	"errors"
	"fmt"
)

// State is the position of one request in the payment negotiation.
type State int

const (
	NotRequired State = iota
	Required
	Submitted
	Verified
	Completed
	Failed
	InsufficientBalance
	InvalidReceipt
)

var stateNames = [...]string{
	NotRequired:         "NOT_REQUIRED",
	Required:            "REQUIRED",
	Submitted:           "SUBMITTED",
	Verified:            "VERIFIED",
	Completed:           "COMPLETED",
	Failed:              "FAILED",
	InsufficientBalance: "INSUFFICIENT_BALANCE",
	InvalidReceipt:      "INVALID_RECEIPT",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

var transitions = map[State][]State{
	NotRequired: {Required},
	Required:    {Submitted, Verified},
	Submitted:   {Completed, Failed, InsufficientBalance, InvalidReceipt},
}

// CanTransition reports whether next directly follows s.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Success reports whether s lets the request proceed.
func (s State) Success() bool {
	return s == NotRequired || s == Verified || s == Completed
}

// ErrInvalidTransition is returned by Flow.To for a move the negotiation
// does not allow.
var ErrInvalidTransition = errors.New("payment: invalid transition")

// Flow records the states one request passed through.
type Flow struct {
	trail []State
}

// NewFlow starts a flow at NotRequired.
func NewFlow() *Flow {
	return &Flow{trail: []State{NotRequired}}
}

// State returns the current state.
func (f *Flow) State() State {
	return f.trail[len(f.trail)-1]
}

// To moves the flow to next.
func (f *Flow) To(next State) error {
	cur := f.State()
	if !cur.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	f.trail = append(f.trail, next)
	return nil
}

// Trail returns a copy of the visited states in order.
func (f *Flow) Trail() []State {
	return append([]State(nil), f.trail...)
}

func (f *Flow) String() string {
	s := ""
	for i, st := range f.trail {
		if i > 0 {
			s += " -> "
		}
		s += st.String()
	}
	return s
}
