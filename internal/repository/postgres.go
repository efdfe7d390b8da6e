package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ChartDrop/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyRegistered means the slot was consumed or its storage key
	// already has a record.
	ErrAlreadyRegistered = errors.New("storage key already registered")
)

const uniqueViolation = "23505"

// FileRepository wraps all SQL used by the API and worker.
type FileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository constructs a repository.
func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// CreateSlot stores an issued transfer slot.
func (r *FileRepository) CreateSlot(ctx context.Context, slot *model.Slot) error {
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO transfer_slots (transfer_id, storage_key, subject_id, encounter_ref, category, filename, content_type, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, slot.TransferID, slot.StorageKey, slot.SubjectID, slot.EncounterRef, string(slot.Category), slot.Filename, slot.ContentType, slot.ExpiresAt, slot.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

// GetSlotByKey returns the slot issued for storageKey.
func (r *FileRepository) GetSlotByKey(ctx context.Context, storageKey string) (*model.Slot, error) {
	var (
		s        model.Slot
		category string
	)
	row := r.pool.QueryRow(ctx, `
		SELECT transfer_id, storage_key, subject_id, encounter_ref, category, filename, content_type, expires_at, consumed_at, created_at
		FROM transfer_slots WHERE storage_key=$1
	`, storageKey)
	err := row.Scan(&s.TransferID, &s.StorageKey, &s.SubjectID, &s.EncounterRef, &category, &s.Filename, &s.ContentType, &s.ExpiresAt, &s.ConsumedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("slot %s: %w", storageKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select slot: %w", err)
	}
	s.Category = model.Category(category)
	return &s, nil
}

// ConfirmSlot consumes the slot and inserts rec in one transaction.
func (r *FileRepository) ConfirmSlot(ctx context.Context, rec *model.ClinicalFileRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE transfer_slots SET consumed_at=$1
		WHERE storage_key=$2 AND consumed_at IS NULL
	`, rec.CreatedAt, rec.StorageKey)
	if err != nil {
		return fmt.Errorf("consume slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRegistered
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO clinical_files (id, subject_id, encounter_ref, original_filename, mime_type, size_bytes, category, storage_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.SubjectID, rec.EncounterRef, rec.OriginalFilename, rec.MimeType, rec.SizeBytes, string(rec.Category), rec.StorageKey, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("insert clinical file: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit confirm: %w", err)
	}
	return nil
}

const fileColumns = `id, subject_id, encounter_ref, original_filename, mime_type, size_bytes, category, storage_key, page_count, created_at`

// Get returns a record by id.
func (r *FileRepository) Get(ctx context.Context, id string) (*model.ClinicalFileRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM clinical_files WHERE id=$1`, id)
	rec, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinical file %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// GetByStorageKey returns the record registered for a storage key.
func (r *FileRepository) GetByStorageKey(ctx context.Context, storageKey string) (*model.ClinicalFileRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM clinical_files WHERE storage_key=$1`, storageKey)
	rec, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinical file for %s: %w", storageKey, ErrNotFound)
	}
	return rec, err
}

// List returns a subject's records, newest first. A nil encounterRef lists all.
func (r *FileRepository) List(ctx context.Context, subjectID string, encounterRef *string) ([]model.ClinicalFileRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+` FROM clinical_files
		WHERE subject_id=$1 AND ($2::text IS NULL OR encounter_ref=$2)
		ORDER BY created_at DESC, id DESC
	`, subjectID, encounterRef)
	if err != nil {
		return nil, fmt.Errorf("list clinical files: %w", err)
	}
	defer rows.Close()

	out := []model.ClinicalFileRecord{}
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list clinical files: %w", err)
	}
	return out, nil
}

// Delete removes a record and returns it so the caller can drop the object.
func (r *FileRepository) Delete(ctx context.Context, id string) (*model.ClinicalFileRecord, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM clinical_files WHERE id=$1 RETURNING `+fileColumns, id)
	rec, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clinical file %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// SetPageCount stores the page count found by the inspect job.
func (r *FileRepository) SetPageCount(ctx context.Context, id string, pages int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE clinical_files SET page_count=$1 WHERE id=$2`, pages, id)
	if err != nil {
		return fmt.Errorf("update page count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("clinical file %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanFile(row pgx.Row) (*model.ClinicalFileRecord, error) {
	var (
		rec      model.ClinicalFileRecord
		category string
	)
	err := row.Scan(&rec.ID, &rec.SubjectID, &rec.EncounterRef, &rec.OriginalFilename, &rec.MimeType, &rec.SizeBytes, &category, &rec.StorageKey, &rec.PageCount, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan clinical file: %w", err)
	}
	rec.Category = model.Category(category)
	return &rec, nil
}
