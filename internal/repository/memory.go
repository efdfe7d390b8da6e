package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/ChartDrop/internal/model"
)

// MemoryRepository keeps slots and records in maps guarded by an RWMutex.
// It backs the server when no DATABASE_URL is configured, and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	slots map[string]*model.Slot               // by storage key
	files map[string]*model.ClinicalFileRecord // by id
	keys  map[string]string                    // storage key -> id
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots: make(map[string]*model.Slot),
		files: make(map[string]*model.ClinicalFileRecord),
		keys:  make(map[string]string),
	}
}

func (m *MemoryRepository) CreateSlot(ctx context.Context, slot *model.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[slot.StorageKey]; ok {
		return fmt.Errorf("insert slot: duplicate storage key %s", slot.StorageKey)
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now().UTC()
	}
	cp := *slot
	m.slots[slot.StorageKey] = &cp
	return nil
}

func (m *MemoryRepository) GetSlotByKey(ctx context.Context, storageKey string) (*model.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[storageKey]
	if !ok {
		return nil, fmt.Errorf("slot %s: %w", storageKey, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryRepository) ConfirmSlot(ctx context.Context, rec *model.ClinicalFileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[rec.StorageKey]
	if !ok || s.ConsumedAt != nil {
		return ErrAlreadyRegistered
	}
	if _, taken := m.keys[rec.StorageKey]; taken {
		return ErrAlreadyRegistered
	}
	consumed := rec.CreatedAt
	s.ConsumedAt = &consumed
	cp := *rec
	m.files[rec.ID] = &cp
	m.keys[rec.StorageKey] = rec.ID
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*model.ClinicalFileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("clinical file %s: %w", id, ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRepository) GetByStorageKey(ctx context.Context, storageKey string) (*model.ClinicalFileRecord, error) {
	m.mu.RLock()
	id, ok := m.keys[storageKey]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("clinical file for %s: %w", storageKey, ErrNotFound)
	}
	return m.Get(ctx, id)
}

func (m *MemoryRepository) List(ctx context.Context, subjectID string, encounterRef *string) ([]model.ClinicalFileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.ClinicalFileRecord{}
	for _, rec := range m.files {
		if rec.SubjectID != subjectID {
			continue
		}
		if encounterRef != nil && (rec.EncounterRef == nil || *rec.EncounterRef != *encounterRef) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) Delete(ctx context.Context, id string) (*model.ClinicalFileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("clinical file %s: %w", id, ErrNotFound)
	}
	delete(m.files, id)
	delete(m.keys, rec.StorageKey)
	return rec, nil
}

func (m *MemoryRepository) SetPageCount(ctx context.Context, id string, pages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return fmt.Errorf("clinical file %s: %w", id, ErrNotFound)
	}
	rec.PageCount = &pages
	return nil
}
