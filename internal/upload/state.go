package upload

import "fmt"

// State is the lifecycle position of one file inside the coordinator.
type State int

const (
	StateQueued State = iota
	StateRequestingSlot
	StateTransferring
	StateConfirming
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRequestingSlot:
		return "requesting_slot"
	case StateTransferring:
		return "transferring"
	case StateConfirming:
		return "confirming"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Phase names the protocol step that produced a failure.
type Phase int

const (
	PhaseRequestSlot Phase = iota + 1
	PhaseTransfer
	PhaseConfirmRegistration
)

func (p Phase) String() string {
	switch p {
	case PhaseRequestSlot:
		return "RequestSlot"
	case PhaseTransfer:
		return "Transfer"
	case PhaseConfirmRegistration:
		return "ConfirmRegistration"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Cancellation is only honoured before RequestSlot and before Transfer; once
// bytes may have landed the file can only succeed or fail.
var transitions = map[State][]State{
	StateQueued:         {StateRequestingSlot, StateCancelled},
	StateRequestingSlot: {StateTransferring, StateFailed, StateCancelled},
	StateTransferring:   {StateConfirming, StateFailed},
	StateConfirming:     {StateSucceeded, StateFailed},
}

// Transition is reported to observers on every state change.
type Transition struct {
	TempID string
	From   State
	To     State
	Err    error
}

type machine struct {
	tempID  string
	state   State
	observe func(Transition)
}

func newMachine(tempID string, observe func(Transition)) *machine {
	return &machine{tempID: tempID, state: StateQueued, observe: observe}
}

func (m *machine) to(next State, err error) {
	if !allowed(m.state, next) {
		panic(fmt.Sprintf("upload: illegal transition %s -> %s", m.state, next))
	}
	prev := m.state
	m.state = next
	if m.observe != nil {
		m.observe(Transition{TempID: m.tempID, From: prev, To: next, Err: err})
	}
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
