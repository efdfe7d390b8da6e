// Package upload drives staged files through the three-phase protocol:
// request a transfer slot, PUT the bytes to storage, confirm the registration.
// A confirmation is only ever sent after storage accepted the bytes, so the
// backend never holds a record for an object that was not written.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/model"
	"github.com/dharsanguruparan/ChartDrop/internal/staging"
)

var (
	ErrInvalidSubject = errors.New("invalid subject")
	errMalformedSlot  = errors.New("registrar returned an incomplete transfer slot")
	errEmptyRecord    = errors.New("registrar returned no record")
)

// Target identifies who the files belong to.
type Target struct {
	SubjectID    string
	EncounterRef *string
}

// Coordinator runs the protocol for one file at a time. It holds no per-file
// state, so a single Coordinator may serve concurrent Run calls.
type Coordinator struct {
	registrar MetadataRegistrar
	gateway   StorageGateway
	log       zerolog.Logger
	observer  func(Transition)

	slotTimeout     time.Duration
	transferTimeout time.Duration
	confirmTimeout  time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver registers a callback for every state change. It may be called
// from several goroutines when the coordinator serves a parallel batch.
func WithObserver(fn func(Transition)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

// WithPhaseTimeouts bounds each phase. Zero leaves a phase unbounded.
func WithPhaseTimeouts(slot, transfer, confirm time.Duration) Option {
	return func(c *Coordinator) {
		c.slotTimeout = slot
		c.transferTimeout = transfer
		c.confirmTimeout = confirm
	}
}

// NewCoordinator wires the two backend adapters.
func NewCoordinator(registrar MetadataRegistrar, gateway StorageGateway, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registrar: registrar,
		gateway:   gateway,
		log:       log.With().Str("component", "upload-coordinator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes RequestSlot, Transfer and ConfirmRegistration in order and
// returns the terminal outcome. It never retries.
func (c *Coordinator) Run(ctx context.Context, fd staging.FileDescriptor, target Target) Outcome {
	m := newMachine(fd.TempID, c.observer)
	out := Outcome{TempID: fd.TempID, Filename: fd.Payload.Name()}
	log := c.log.With().
		Str("temp_id", fd.TempID).
		Str("filename", out.Filename).
		Str("category", string(fd.Category)).
		Logger()

	if err := ctx.Err(); err != nil {
		return c.cancel(m, out, err, log)
	}
	m.to(StateRequestingSlot, nil)
	slot, err := c.requestSlot(ctx, fd, target)
	if err != nil {
		return c.fail(m, out, PhaseRequestSlot, err, log)
	}
	out.StorageKey = slot.StorageKey

	if err := ctx.Err(); err != nil {
		return c.cancel(m, out, err, log)
	}
	m.to(StateTransferring, nil)
	if err := c.transfer(ctx, fd, slot); err != nil {
		return c.fail(m, out, PhaseTransfer, err, log)
	}

	// The object is stored from here on; cancellation now surfaces as a
	// confirm failure so the caller sees the orphan risk.
	m.to(StateConfirming, nil)
	if err := ctx.Err(); err != nil {
		return c.fail(m, out, PhaseConfirmRegistration, err, log)
	}
	record, err := c.confirm(ctx, fd, slot, target)
	if err != nil {
		return c.fail(m, out, PhaseConfirmRegistration, err, log)
	}

	m.to(StateSucceeded, nil)
	out.State = StateSucceeded
	out.Record = record
	log.Debug().Str("record_id", record.ID).Str("storage_key", slot.StorageKey).Msg("file registered")
	return out
}

func (c *Coordinator) requestSlot(ctx context.Context, fd staging.FileDescriptor, target Target) (*model.TransferSlot, error) {
	ctx, cancel := withTimeout(ctx, c.slotTimeout)
	defer cancel()
	slot, err := c.registrar.RequestTransferSlot(ctx, model.SlotRequest{
		SubjectID:    target.SubjectID,
		Filename:     fd.Payload.Name(),
		ContentType:  fd.Payload.ContentType(),
		Category:     fd.Category,
		EncounterRef: target.EncounterRef,
	})
	if err != nil {
		return nil, err
	}
	if slot == nil || slot.UploadURL == "" || slot.StorageKey == "" {
		return nil, errMalformedSlot
	}
	return slot, nil
}

func (c *Coordinator) transfer(ctx context.Context, fd staging.FileDescriptor, slot *model.TransferSlot) error {
	body, err := fd.Payload.Open()
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer body.Close()
	ctx, cancel := withTimeout(ctx, c.transferTimeout)
	defer cancel()
	return c.gateway.PutObject(ctx, slot.UploadURL, body, fd.Payload.Size(), fd.Payload.ContentType())
}

func (c *Coordinator) confirm(ctx context.Context, fd staging.FileDescriptor, slot *model.TransferSlot, target Target) (*model.ClinicalFileRecord, error) {
	ctx, cancel := withTimeout(ctx, c.confirmTimeout)
	defer cancel()
	record, err := c.registrar.ConfirmTransfer(ctx, model.ConfirmRequest{
		SubjectID:    target.SubjectID,
		StorageKey:   slot.StorageKey,
		TransferID:   slot.TransferID,
		Filename:     fd.Payload.Name(),
		ContentType:  fd.Payload.ContentType(),
		SizeBytes:    fd.Payload.Size(),
		Category:     fd.Category,
		EncounterRef: target.EncounterRef,
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errEmptyRecord
	}
	return record, nil
}

func (c *Coordinator) fail(m *machine, out Outcome, phase Phase, err error, log zerolog.Logger) Outcome {
	perr := &PhaseError{Phase: phase, Err: err}
	m.to(StateFailed, perr)
	out.State = StateFailed
	out.Err = perr
	ev := log.Warn().Err(err).Str("phase", phase.String())
	if out.StorageKey != "" {
		ev = ev.Str("storage_key", out.StorageKey)
	}
	ev.Bool("orphan_risk", out.OrphanRisk()).Msg("upload failed")
	return out
}

func (c *Coordinator) cancel(m *machine, out Outcome, err error, log zerolog.Logger) Outcome {
	m.to(StateCancelled, err)
	out.State = StateCancelled
	out.Err = err
	log.Info().Msg("upload cancelled")
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
