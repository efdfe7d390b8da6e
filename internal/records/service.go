// Package records issues transfer slots and registers clinical file metadata
// once the matching object is present in storage.
package records

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/fileid"
	"github.com/dharsanguruparan/ChartDrop/internal/metrics"
	"github.com/dharsanguruparan/ChartDrop/internal/model"
	pdfutil "github.com/dharsanguruparan/ChartDrop/internal/pdf"
	"github.com/dharsanguruparan/ChartDrop/internal/repository"
)

var (
	ErrInvalidSubject  = errors.New("invalid subject")
	ErrInvalidCategory = model.ErrInvalidCategory
	ErrInvalidRequest  = errors.New("invalid request")
	ErrObjectMissing   = errors.New("object missing from storage")
	ErrSlotNotFound    = errors.New("transfer slot not found")
	ErrSlotMismatch    = errors.New("transfer slot does not match request")
	ErrSizeMismatch    = errors.New("stored size does not match request")
	ErrNotFound        = errors.New("clinical file not found")
)

var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const (
	maxFilename     = 255
	maxEncounterRef = 128
	defaultMime     = "application/octet-stream"
)

// Repository defines persistence operations needed by the service.
type Repository interface {
	CreateSlot(ctx context.Context, slot *model.Slot) error
	GetSlotByKey(ctx context.Context, storageKey string) (*model.Slot, error)
	ConfirmSlot(ctx context.Context, rec *model.ClinicalFileRecord) error
	GetByStorageKey(ctx context.Context, storageKey string) (*model.ClinicalFileRecord, error)
	List(ctx context.Context, subjectID string, encounterRef *string) ([]model.ClinicalFileRecord, error)
	Delete(ctx context.Context, id string) (*model.ClinicalFileRecord, error)
}

// ObjectStore defines the object storage operations the service needs.
type ObjectStore interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
	Stat(ctx context.Context, key string) (model.ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

// Jobs schedules background work. A nil Jobs makes deletes remove objects inline.
type Jobs interface {
	EnqueueRemoveObject(ctx context.Context, storageKey, fileID string) error
	EnqueueInspect(ctx context.Context, fileID, storageKey, mimeType string) error
}

// Options tunes slot lifetime and limits.
type Options struct {
	SlotTTL     time.Duration
	URLTTL      time.Duration
	MaxFileSize int64
}

// Service orchestrates slot issue, confirmation, listing and deletion.
type Service struct {
	repo  Repository
	store ObjectStore
	jobs  Jobs
	opts  Options
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(repo Repository, store ObjectStore, jobs Jobs, opts Options, log zerolog.Logger) *Service {
	if opts.SlotTTL <= 0 {
		opts.SlotTTL = 15 * time.Minute
	}
	if opts.URLTTL <= 0 {
		opts.URLTTL = 5 * time.Minute
	}
	return &Service{
		repo:  repo,
		store: store,
		jobs:  jobs,
		opts:  opts,
		log:   log.With().Str("component", "records-service").Logger(),
		now:   time.Now,
	}
}

// RequestSlot reserves a storage key and returns a pre-signed upload URL for it.
func (s *Service) RequestSlot(ctx context.Context, req model.SlotRequest) (*model.TransferSlot, error) {
	subject, err := validSubject(req.SubjectID)
	if err != nil {
		return nil, err
	}
	category, err := model.ParseCategory(string(req.Category))
	if err != nil {
		return nil, err
	}
	filename, err := cleanFilename(req.Filename)
	if err != nil {
		return nil, err
	}
	encounter, err := cleanEncounter(req.EncounterRef)
	if err != nil {
		return nil, err
	}
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = defaultMime
	}

	key := fmt.Sprintf("subjects/%s/%s/%s%s", subject, category.Slug(), fileid.NewObjectName(), extension(filename))
	uploadURL, err := s.store.PresignPut(ctx, key, contentType, s.opts.SlotTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	now := s.now().UTC()
	slot := &model.Slot{
		TransferID:   fileid.NewTransferID(),
		StorageKey:   key,
		SubjectID:    subject,
		EncounterRef: encounter,
		Category:     category,
		Filename:     filename,
		ContentType:  contentType,
		ExpiresAt:    now.Add(s.opts.SlotTTL),
		CreatedAt:    now,
	}
	if err := s.repo.CreateSlot(ctx, slot); err != nil {
		return nil, err
	}
	metrics.RecordSlot(string(category))
	s.log.Debug().Str("subject_id", subject).Str("storage_key", key).Str("transfer_id", slot.TransferID).Msg("transfer slot issued")
	return &model.TransferSlot{
		UploadURL:  uploadURL,
		StorageKey: key,
		TransferID: slot.TransferID,
		ExpiresAt:  slot.ExpiresAt,
	}, nil
}

// Confirm registers the object behind a slot. Confirming a key that already
// has a record for the same subject returns that record.
func (s *Service) Confirm(ctx context.Context, req model.ConfirmRequest) (*model.ClinicalFileRecord, error) {
	rec, err := s.confirm(ctx, req)
	label := "unknown"
	if c, perr := model.ParseCategory(string(req.Category)); perr == nil {
		label = string(c)
	}
	var size int64
	if err == nil {
		size = rec.SizeBytes
	}
	metrics.RecordConfirm(label, confirmStatus(err), size)
	return rec, err
}

func (s *Service) confirm(ctx context.Context, req model.ConfirmRequest) (*model.ClinicalFileRecord, error) {
	subject, err := validSubject(req.SubjectID)
	if err != nil {
		return nil, err
	}
	category, err := model.ParseCategory(string(req.Category))
	if err != nil {
		return nil, err
	}
	filename, err := cleanFilename(req.Filename)
	if err != nil {
		return nil, err
	}
	encounter, err := cleanEncounter(req.EncounterRef)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(req.StorageKey)
	if key == "" {
		return nil, fmt.Errorf("%w: storageKey is required", ErrInvalidRequest)
	}
	if req.TransferID != "" && !fileid.IsTransferID(req.TransferID) {
		return nil, fmt.Errorf("%w: malformed transferId %q", ErrInvalidRequest, req.TransferID)
	}
	if req.SizeBytes < 0 || (s.opts.MaxFileSize > 0 && req.SizeBytes > s.opts.MaxFileSize) {
		return nil, fmt.Errorf("%w: sizeBytes %d out of range", ErrInvalidRequest, req.SizeBytes)
	}

	if existing, err := s.repo.GetByStorageKey(ctx, key); err == nil {
		return s.existing(ctx, existing, subject)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	slot, err := s.repo.GetSlotByKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	switch {
	case req.TransferID != "" && req.TransferID != slot.TransferID:
		return nil, fmt.Errorf("%w: transfer id", ErrSlotMismatch)
	case slot.SubjectID != subject:
		return nil, fmt.Errorf("%w: subject", ErrSlotMismatch)
	case slot.Category != category:
		return nil, fmt.Errorf("%w: category", ErrSlotMismatch)
	case !model.SameEncounter(slot.EncounterRef, encounter):
		return nil, fmt.Errorf("%w: encounter", ErrSlotMismatch)
	}

	info, err := s.store.Stat(ctx, key)
	if errors.Is(err, model.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrObjectMissing, key)
	}
	if err != nil {
		return nil, fmt.Errorf("stat object: %w", err)
	}
	if info.Size != req.SizeBytes {
		return nil, fmt.Errorf("%w: stored %d, declared %d", ErrSizeMismatch, info.Size, req.SizeBytes)
	}

	mimeType := strings.TrimSpace(req.ContentType)
	if mimeType == "" {
		mimeType = slot.ContentType
	}
	rec := &model.ClinicalFileRecord{
		ID:               fileid.NewRecordID(),
		SubjectID:        subject,
		EncounterRef:     encounter,
		OriginalFilename: filename,
		MimeType:         mimeType,
		SizeBytes:        info.Size,
		Category:         category,
		StorageKey:       key,
		CreatedAt:        s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.repo.ConfirmSlot(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrAlreadyRegistered) {
			// Lost a race with a concurrent confirm of the same key.
			existing, gerr := s.repo.GetByStorageKey(ctx, key)
			if gerr != nil {
				return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, key)
			}
			return s.existing(ctx, existing, subject)
		}
		return nil, err
	}

	if s.jobs != nil && pdfutil.IsPDFType(rec.MimeType) {
		if err := s.jobs.EnqueueInspect(ctx, rec.ID, rec.StorageKey, rec.MimeType); err != nil {
			s.log.Warn().Err(err).Str("file_id", rec.ID).Msg("schedule inspection failed")
		}
	}
	s.log.Info().
		Str("file_id", rec.ID).
		Str("subject_id", subject).
		Str("storage_key", key).
		Int64("size_bytes", rec.SizeBytes).
		Msg("clinical file registered")
	return s.withURLs(ctx, rec)
}

func (s *Service) existing(ctx context.Context, rec *model.ClinicalFileRecord, subject string) (*model.ClinicalFileRecord, error) {
	if rec.SubjectID != subject {
		return nil, fmt.Errorf("%w: subject", ErrSlotMismatch)
	}
	return s.withURLs(ctx, rec)
}

// List returns a subject's records with fresh view and download URLs.
func (s *Service) List(ctx context.Context, subjectID string, encounterRef *string) ([]model.ClinicalFileRecord, error) {
	subject, err := validSubject(subjectID)
	if err != nil {
		return nil, err
	}
	encounter, err := cleanEncounter(encounterRef)
	if err != nil {
		return nil, err
	}
	recs, err := s.repo.List(ctx, subject, encounter)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if _, err := s.withURLs(ctx, &recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Delete removes the record, then the object: through a job when one is
// configured, inline otherwise.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	id := strings.TrimSpace(fileID)
	if !fileid.IsRecordID(id) {
		return fmt.Errorf("%w: %q", ErrNotFound, fileID)
	}
	rec, err := s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	metrics.RecordDelete()

	if s.jobs != nil {
		err := s.jobs.EnqueueRemoveObject(ctx, rec.StorageKey, rec.ID)
		if err == nil {
			return nil
		}
		s.log.Warn().Err(err).Str("storage_key", rec.StorageKey).Msg("schedule object removal failed, removing inline")
	}
	if err := s.store.Remove(ctx, rec.StorageKey); err != nil {
		s.log.Error().Err(err).Str("storage_key", rec.StorageKey).Msg("object left without record")
	}
	return nil
}

func (s *Service) withURLs(ctx context.Context, rec *model.ClinicalFileRecord) (*model.ClinicalFileRecord, error) {
	view, err := s.store.PresignGet(ctx, rec.StorageKey, s.opts.URLTTL)
	if err != nil {
		return nil, fmt.Errorf("presign view: %w", err)
	}
	download, err := s.store.PresignDownload(ctx, rec.StorageKey, rec.OriginalFilename, s.opts.URLTTL)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}
	rec.ViewURL = view
	rec.DownloadURL = download
	return rec, nil
}

func validSubject(raw string) (string, error) {
	subject := strings.TrimSpace(raw)
	if !subjectPattern.MatchString(subject) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubject, raw)
	}
	return subject, nil
}

func cleanFilename(raw string) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(raw), `\`, "/"))
	if name == "" || name == "." || name == "/" || len(name) > maxFilename {
		return "", fmt.Errorf("%w: filename %q", ErrInvalidRequest, raw)
	}
	return name, nil
}

func cleanEncounter(ref *string) (*string, error) {
	if ref == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*ref)
	if v == "" {
		return nil, nil
	}
	if len(v) > maxEncounterRef {
		return nil, fmt.Errorf("%w: encounterRef too long", ErrInvalidRequest)
	}
	return &v, nil
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// extension keeps a short, safe suffix so stored objects stay recognisable.
func extension(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return ext
}

func confirmStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrObjectMissing):
		return "object_missing"
	case errors.Is(err, ErrSizeMismatch):
		return "size_mismatch"
	case errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrSlotMismatch):
		return "slot_rejected"
	default:
		return "error"
	}
}
