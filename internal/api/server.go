// Package api serves the transfer slot and registration endpoints used by the
// upload client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/metrics"
	"github.com/dharsanguruparan/ChartDrop/internal/model"
	"github.com/dharsanguruparan/ChartDrop/internal/records"
)

const maxJSONBody = 1 << 20

// Records is the service the handlers delegate to.
type Records interface {
	RequestSlot(ctx context.Context, req model.SlotRequest) (*model.TransferSlot, error)
	Confirm(ctx context.Context, req model.ConfirmRequest) (*model.ClinicalFileRecord, error)
	List(ctx context.Context, subjectID string, encounterRef *string) ([]model.ClinicalFileRecord, error)
	Delete(ctx context.Context, fileID string) error
}

// Server exposes HTTP endpoints for slots and clinical file records.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	records         Records
	objects         http.Handler
	log             zerolog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithObjects mounts the local object store handler under /objects/.
func WithObjects(h http.Handler) Option {
	return func(s *Server) { s.objects = h }
}

// WithShutdownTimeout bounds graceful shutdown in Run.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// New constructs a Server.
func New(addr string, recs Records, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		shutdownTimeout: 5 * time.Second,
		records:         recs,
		log:             log.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	s.log.Info().Msg("api stopped")
	return nil
}

// Handler returns the routed handler wrapped in the logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/subjects/{subjectId}/files/slots", s.handleRequestSlot)
	mux.HandleFunc("POST /v1/subjects/{subjectId}/files", s.handleConfirm)
	mux.HandleFunc("GET /v1/subjects/{subjectId}/files", s.handleList)
	mux.HandleFunc("DELETE /v1/files/{fileId}", s.handleDelete)
	if s.objects != nil {
		mux.Handle("/objects/", s.objects)
	}
	return s.loggingMiddleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRequestSlot(w http.ResponseWriter, r *http.Request) {
	var req model.SlotRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.SubjectID = r.PathValue("subjectId")
	slot, err := s.records.RequestSlot(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, slot)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req model.ConfirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.SubjectID = r.PathValue("subjectId")
	rec, err := s.records.Confirm(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var encounter *string
	if q := r.URL.Query(); q.Has("encounter") {
		v := q.Get("encounter")
		encounter = &v
	}
	recs, err := s.records.List(r.Context(), r.PathValue("subjectId"), encounter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.ClinicalFileRecord{}
	}
	respondJSON(w, http.StatusOK, model.FileList{Files: recs})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.records.Delete(r.Context(), r.PathValue("fileId")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, model.ErrorResponse{
			Error:   model.CodeInvalidRequest,
			Message: "malformed JSON body: " + err.Error(),
		})
		return false
	}
	return true
}

// errorCodes maps service sentinels to wire codes and statuses, in match order.
var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{records.ErrInvalidSubject, model.CodeInvalidSubject, http.StatusBadRequest},
	{records.ErrInvalidCategory, model.CodeInvalidCategory, http.StatusBadRequest},
	{records.ErrInvalidRequest, model.CodeInvalidRequest, http.StatusBadRequest},
	{records.ErrObjectMissing, model.CodeObjectMissing, http.StatusConflict},
	{records.ErrSlotNotFound, model.CodeSlotNotFound, http.StatusNotFound},
	{records.ErrSlotMismatch, model.CodeSlotMismatch, http.StatusConflict},
	{records.ErrSizeMismatch, model.CodeSizeMismatch, http.StatusConflict},
	{records.ErrNotFound, model.CodeNotFound, http.StatusNotFound},
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			respondJSON(w, e.status, model.ErrorResponse{Error: e.code, Message: err.Error()})
			return
		}
	}
	s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	respondJSON(w, http.StatusInternalServerError, model.ErrorResponse{
		Error:   model.CodeInternal,
		Message: "internal error",
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		// ServeMux fills in Pattern on the way through.
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordRequest(r.Method, endpoint, strconv.Itoa(rec.status), elapsed.Seconds())

		ev := s.log.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("request")
	})
}
