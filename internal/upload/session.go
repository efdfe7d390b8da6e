package upload

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/processing"
	"github.com/dharsanguruparan/ChartDrop/internal/staging"
)

// Runner executes the protocol for one file.
type Runner interface {
	Run(ctx context.Context, fd staging.FileDescriptor, target Target) Outcome
}

// Report aggregates a commit. Outcomes follow snapshot order.
type Report struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	Cancelled int
}

// Session commits a staging queue for one subject and encounter.
type Session struct {
	queue     *staging.Queue
	runner    Runner
	pool      *processing.Processor
	onOutcome func(Outcome)
	log       zerolog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithConcurrency bounds how many files are in flight at once.
func WithConcurrency(n int) SessionOption {
	return func(s *Session) { s.pool = processing.New(n) }
}

// WithOutcomeHook receives each outcome as soon as its file finishes, in
// completion order. Calls are serialized.
func WithOutcomeHook(fn func(Outcome)) SessionOption {
	return func(s *Session) { s.onOutcome = fn }
}

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// NewSession binds a queue to a runner, normally a *Coordinator.
func NewSession(queue *staging.Queue, runner Runner, opts ...SessionOption) *Session {
	s := &Session{
		queue:  queue,
		runner: runner,
		pool:   processing.New(1),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "upload-session").Logger()
	return s
}

// Commit uploads every file in the queue snapshot taken at call time. Each
// file gets exactly one outcome; one file failing never stops another. Only
// succeeded files leave the queue.
func (s *Session) Commit(ctx context.Context, subjectID string, encounterRef *string) (*Report, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, ErrInvalidSubject
	}
	if encounterRef != nil && strings.TrimSpace(*encounterRef) == "" {
		encounterRef = nil
	}
	target := Target{SubjectID: subjectID, EncounterRef: encounterRef}

	snapshot := s.queue.Snapshot()
	outcomes := make([]Outcome, len(snapshot))
	var hookMu sync.Mutex

	s.pool.Run(ctx, len(snapshot), func(ctx context.Context, i int) {
		o := s.runner.Run(ctx, snapshot[i], target)
		outcomes[i] = o
		if s.onOutcome != nil {
			hookMu.Lock()
			s.onOutcome(o)
			hookMu.Unlock()
		}
	})

	report := &Report{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.State {
		case StateSucceeded:
			report.Succeeded++
			s.queue.Remove(o.TempID)
		case StateCancelled:
			report.Cancelled++
		default:
			report.Failed++
		}
	}
	s.log.Info().
		Str("subject_id", subjectID).
		Int("files", len(snapshot)).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("cancelled", report.Cancelled).
		Msg("batch committed")
	return report, nil
}
