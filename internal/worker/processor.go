package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/metrics"
	"github.com/dharsanguruparan/ChartDrop/internal/model"
	pdfutil "github.com/dharsanguruparan/ChartDrop/internal/pdf"
	"github.com/dharsanguruparan/ChartDrop/internal/queue"
	"github.com/dharsanguruparan/ChartDrop/internal/repository"
)

// Records is the slice of the repository the jobs touch.
type Records interface {
	SetPageCount(ctx context.Context, id string, pages int) error
}

// Objects is the slice of the object store the jobs touch.
type Objects interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	repo  Records
	store Objects
	log   zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(repo Records, store Objects, log zerolog.Logger) *Processor {
	return &Processor{repo: repo, store: store, log: log.With().Str("component", "worker").Logger()}
}

// Handler registers the job handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.RemoveObjectTask, p.handleRemove)
	mux.HandleFunc(queue.InspectFileTask, p.handleInspect)
	return mux
}

func (p *Processor) handleRemove(ctx context.Context, task *asynq.Task) error {
	var payload queue.RemovePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		metrics.RecordJob(queue.RemoveObjectTask, "invalid")
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if err := p.store.Remove(ctx, payload.StorageKey); err != nil {
		metrics.RecordJob(queue.RemoveObjectTask, "error")
		p.log.Warn().Err(err).Str("storage_key", payload.StorageKey).Msg("remove object failed")
		return err
	}
	metrics.RecordJob(queue.RemoveObjectTask, "success")
	p.log.Info().Str("storage_key", payload.StorageKey).Str("file_id", payload.FileID).Msg("object removed")
	return nil
}

func (p *Processor) handleInspect(ctx context.Context, task *asynq.Task) error {
	var payload queue.InspectPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		metrics.RecordJob(queue.InspectFileTask, "invalid")
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	log := p.log.With().Str("file_id", payload.FileID).Str("storage_key", payload.StorageKey).Logger()
	if !pdfutil.IsPDFType(payload.MimeType) {
		metrics.RecordJob(queue.InspectFileTask, "skipped")
		return nil
	}

	body, err := p.store.Open(ctx, payload.StorageKey)
	if errors.Is(err, model.ErrObjectNotFound) {
		// Deleted before the job ran.
		metrics.RecordJob(queue.InspectFileTask, "skipped")
		return nil
	}
	if err != nil {
		metrics.RecordJob(queue.InspectFileTask, "error")
		return err
	}
	defer body.Close()

	pages, err := pdfutil.PageCountFromReader(body)
	if err != nil {
		metrics.RecordJob(queue.InspectFileTask, "invalid")
		log.Warn().Err(err).Msg("pdf inspection failed")
		return fmt.Errorf("count pages: %w: %w", err, asynq.SkipRetry)
	}
	if err := p.repo.SetPageCount(ctx, payload.FileID, pages); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.RecordJob(queue.InspectFileTask, "skipped")
			return nil
		}
		metrics.RecordJob(queue.InspectFileTask, "error")
		return err
	}
	metrics.RecordJob(queue.InspectFileTask, "success")
	log.Info().Int("pages", pages).Msg("file inspected")
	return nil
}
