package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/dharsanguruparan/ChartDrop/internal/model"
)

// PhaseError attributes a failure to the protocol step that produced it.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Outcome is the terminal result for one staged file.
type Outcome struct {
	TempID   string
	Filename string
	State    State
	Record   *model.ClinicalFileRecord
	// Err is a *PhaseError for failed files and the context error for cancelled ones.
	Err error
	// StorageKey is set once a slot was issued, even if a later phase failed.
	StorageKey string
}

func (o Outcome) Succeeded() bool {
	return o.State == StateSucceeded
}

// FailedPhase returns the phase of a failed outcome.
func (o Outcome) FailedPhase() (Phase, bool) {
	var pe *PhaseError
	if o.State != StateFailed || !errors.As(o.Err, &pe) {
		return 0, false
	}
	return pe.Phase, true
}

// OrphanRisk reports whether an object may sit in storage without a record.
// That is the case after a confirm failure, and after a transfer that was
// interrupted by cancellation or a deadline rather than rejected by storage.
func (o Outcome) OrphanRisk() bool {
	phase, ok := o.FailedPhase()
	if !ok {
		return false
	}
	switch phase {
	case PhaseConfirmRegistration:
		return true
	case PhaseTransfer:
		return errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded)
	default:
		return false
	}
}

func (o Outcome) String() string {
	switch o.State {
	case StateSucceeded:
		if o.Record == nil {
			return "Succeeded"
		}
		return fmt.Sprintf("Succeeded(%s)", o.Record.ID)
	case StateFailed:
		return fmt.Sprintf("Failed(%v)", o.Err)
	default:
		return o.State.String()
	}
}
