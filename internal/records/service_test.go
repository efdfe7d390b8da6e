package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ChartDrop/internal/fileid"
	"github.com/dharsanguruparan/ChartDrop/internal/model"
	"github.com/dharsanguruparan/ChartDrop/internal/repository"
)

type fakeStore struct {
	mu      sync.Mutex
	sizes   map[string]int64
	removed []string
}

func newFakeStore() *fakeStore { return &fakeStore{sizes: map[string]int64{}} }

func (f *fakeStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return "https://objects.test/put/" + key, nil
}

func (f *fakeStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://objects.test/get/" + key, nil
}

func (f *fakeStore) PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	return "https://objects.test/get/" + key + "?filename=" + filename, nil
}

func (f *fakeStore) Stat(ctx context.Context, key string) (model.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.sizes[key]
	if !ok {
		return model.ObjectInfo{}, fmt.Errorf("%w: %s", model.ErrObjectNotFound, key)
	}
	return model.ObjectInfo{Key: key, Size: size}, nil
}

func (f *fakeStore) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sizes, key)
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeStore) put(key string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[key] = size
}

type fakeJobs struct {
	removes  []string
	inspects []string
	err      error
}

func (f *fakeJobs) EnqueueRemoveObject(ctx context.Context, storageKey, fileID string) error {
	if f.err != nil {
		return f.err
	}
	f.removes = append(f.removes, storageKey)
	return nil
}

func (f *fakeJobs) EnqueueInspect(ctx context.Context, fileID, storageKey, mimeType string) error {
	if f.err != nil {
		return f.err
	}
	f.inspects = append(f.inspects, fileID)
	return nil
}

func strPtr(s string) *string { return &s }

func newTestService(jobs Jobs) (*Service, *repository.MemoryRepository, *fakeStore) {
	repo := repository.NewMemoryRepository()
	store := newFakeStore()
	svc := NewService(repo, store, jobs, Options{MaxFileSize: 1 << 20}, zerolog.Nop())
	return svc, repo, store
}

func slotFor(t *testing.T, svc *Service, subject, filename, contentType string, cat model.Category, enc *string) *model.TransferSlot {
	t.Helper()
	slot, err := svc.RequestSlot(context.Background(), model.SlotRequest{
		SubjectID:    subject,
		Filename:     filename,
		ContentType:  contentType,
		Category:     cat,
		EncounterRef: enc,
	})
	require.NoError(t, err)
	return slot
}

func confirmFor(slot *model.TransferSlot, subject, filename, contentType string, cat model.Category, enc *string, size int64) model.ConfirmRequest {
	return model.ConfirmRequest{
		SubjectID:    subject,
		StorageKey:   slot.StorageKey,
		TransferID:   slot.TransferID,
		Filename:     filename,
		ContentType:  contentType,
		SizeBytes:    size,
		Category:     cat,
		EncounterRef: enc,
	}
}

func TestRequestSlot(t *testing.T) {
	svc, _, _ := newTestService(nil)

	slot := slotFor(t, svc, "patient-7", "chest.PNG", "image/png", "x-ray", nil)
	assert.True(t, strings.HasPrefix(slot.StorageKey, "subjects/patient-7/x-ray/"))
	assert.True(t, strings.HasSuffix(slot.StorageKey, ".png"))
	assert.True(t, strings.HasPrefix(slot.TransferID, "tr_"))
	assert.Equal(t, "https://objects.test/put/"+slot.StorageKey, slot.UploadURL)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), slot.ExpiresAt, time.Minute)

	other := slotFor(t, svc, "patient-7", "chest.PNG", "image/png", model.CategoryXRay, nil)
	assert.NotEqual(t, slot.StorageKey, other.StorageKey)
}

func TestRequestSlotValidation(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.RequestSlot(ctx, model.SlotRequest{SubjectID: "../etc", Filename: "a.png", Category: model.CategoryLab})
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = svc.RequestSlot(ctx, model.SlotRequest{SubjectID: "p1", Filename: "a.png", Category: "MRI"})
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = svc.RequestSlot(ctx, model.SlotRequest{SubjectID: "p1", Filename: "  ", Category: model.CategoryLab})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.RequestSlot(ctx, model.SlotRequest{SubjectID: "p1", Filename: "a.png", Category: model.CategoryLab, EncounterRef: strPtr(strings.Repeat("e", 200))})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConfirmRegistersRecord(t *testing.T) {
	jobs := &fakeJobs{}
	svc, _, store := newTestService(jobs)
	ctx := context.Background()
	enc := strPtr("enc-1")

	slot := slotFor(t, svc, "p1", "C:\\scans\\report.pdf", "application/pdf", model.CategoryLab, enc)
	store.put(slot.StorageKey, 2048)

	rec, err := svc.Confirm(ctx, confirmFor(slot, "p1", "report.pdf", "application/pdf", model.CategoryLab, enc, 2048))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.ID, "cf_"))
	assert.Equal(t, "report.pdf", rec.OriginalFilename)
	assert.Equal(t, int64(2048), rec.SizeBytes)
	assert.Equal(t, "enc-1", *rec.EncounterRef)
	assert.NotEmpty(t, rec.ViewURL)
	assert.Contains(t, rec.DownloadURL, "filename=report.pdf")
	assert.Equal(t, []string{rec.ID}, jobs.inspects)

	again, err := svc.Confirm(ctx, confirmFor(slot, "p1", "report.pdf", "application/pdf", model.CategoryLab, enc, 2048))
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Len(t, jobs.inspects, 1)

	_, err = svc.Confirm(ctx, confirmFor(slot, "p2", "report.pdf", "application/pdf", model.CategoryLab, enc, 2048))
	assert.ErrorIs(t, err, ErrSlotMismatch)
}

func TestConfirmSkipsInspectionForImages(t *testing.T) {
	jobs := &fakeJobs{}
	svc, _, store := newTestService(jobs)

	slot := slotFor(t, svc, "p1", "a.png", "image/png", model.CategoryPhoto, nil)
	store.put(slot.StorageKey, 10)
	_, err := svc.Confirm(context.Background(), confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, nil, 10))
	require.NoError(t, err)
	assert.Empty(t, jobs.inspects)
}

func TestConfirmSurvivesEnqueueFailure(t *testing.T) {
	svc, _, store := newTestService(&fakeJobs{err: errors.New("redis down")})

	slot := slotFor(t, svc, "p1", "a.pdf", "application/pdf", model.CategoryLab, nil)
	store.put(slot.StorageKey, 10)
	_, err := svc.Confirm(context.Background(), confirmFor(slot, "p1", "a.pdf", "application/pdf", model.CategoryLab, nil, 10))
	assert.NoError(t, err)
}

func TestConfirmRejections(t *testing.T) {
	svc, _, store := newTestService(nil)
	ctx := context.Background()
	enc := strPtr("enc-1")
	slot := slotFor(t, svc, "p1", "a.png", "image/png", model.CategoryPhoto, enc)

	_, err := svc.Confirm(ctx, confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, enc, 10))
	assert.ErrorIs(t, err, ErrObjectMissing)

	store.put(slot.StorageKey, 10)

	_, err = svc.Confirm(ctx, confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, enc, 11))
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = svc.Confirm(ctx, confirmFor(slot, "p1", "a.png", "image/png", model.CategoryLab, enc, 10))
	assert.ErrorIs(t, err, ErrSlotMismatch)

	_, err = svc.Confirm(ctx, confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, nil, 10))
	assert.ErrorIs(t, err, ErrSlotMismatch)

	_, err = svc.Confirm(ctx, confirmFor(slot, "p9", "a.png", "image/png", model.CategoryPhoto, enc, 10))
	assert.ErrorIs(t, err, ErrSlotMismatch)

	wrongTransfer := confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, enc, 10)
	wrongTransfer.TransferID = fileid.NewTransferID()
	_, err = svc.Confirm(ctx, wrongTransfer)
	assert.ErrorIs(t, err, ErrSlotMismatch)

	malformed := confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, enc, 10)
	malformed.TransferID = "tr_other"
	_, err = svc.Confirm(ctx, malformed)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	unknown := confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, enc, 10)
	unknown.StorageKey = "subjects/p1/photo/nothing.png"
	_, err = svc.Confirm(ctx, unknown)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	tooBig := confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, enc, 2<<20)
	_, err = svc.Confirm(ctx, tooBig)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// Nothing was registered by the rejected attempts.
	_, err = svc.Confirm(ctx, confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, enc, 10))
	assert.NoError(t, err)
}

func TestListFiltersByEncounter(t *testing.T) {
	svc, _, store := newTestService(nil)
	ctx := context.Background()

	for _, enc := range []*string{strPtr("e1"), strPtr("e2"), nil} {
		slot := slotFor(t, svc, "p1", "a.png", "image/png", model.CategoryPhoto, enc)
		store.put(slot.StorageKey, 3)
		_, err := svc.Confirm(ctx, confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, enc, 3))
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, "p1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, rec := range all {
		assert.NotEmpty(t, rec.ViewURL)
		assert.NotEmpty(t, rec.DownloadURL)
	}

	e1, err := svc.List(ctx, "p1", strPtr("e1"))
	require.NoError(t, err)
	require.Len(t, e1, 1)
	assert.Equal(t, "e1", *e1[0].EncounterRef)

	none, err := svc.List(ctx, "p2", nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.List(ctx, "bad subject", nil)
	assert.ErrorIs(t, err, ErrInvalidSubject)
}

func TestDelete(t *testing.T) {
	t.Run("inline removal without jobs", func(t *testing.T) {
		svc, _, store := newTestService(nil)
		slot := slotFor(t, svc, "p1", "a.png", "image/png", model.CategoryPhoto, nil)
		store.put(slot.StorageKey, 3)
		rec, err := svc.Confirm(context.Background(), confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, nil, 3))
		require.NoError(t, err)

		require.NoError(t, svc.Delete(context.Background(), rec.ID))
		assert.Equal(t, []string{slot.StorageKey}, store.removed)
		assert.ErrorIs(t, svc.Delete(context.Background(), rec.ID), ErrNotFound)
		assert.ErrorIs(t, svc.Delete(context.Background(), fileid.NewRecordID()), ErrNotFound)
		assert.ErrorIs(t, svc.Delete(context.Background(), "../etc/passwd"), ErrNotFound)
	})

	t.Run("queued removal", func(t *testing.T) {
		jobs := &fakeJobs{}
		svc, _, store := newTestService(jobs)
		slot := slotFor(t, svc, "p1", "a.png", "image/png", model.CategoryPhoto, nil)
		store.put(slot.StorageKey, 3)
		rec, err := svc.Confirm(context.Background(), confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, nil, 3))
		require.NoError(t, err)

		require.NoError(t, svc.Delete(context.Background(), rec.ID))
		assert.Equal(t, []string{slot.StorageKey}, jobs.removes)
		assert.Empty(t, store.removed)
	})

	t.Run("enqueue failure falls back to inline", func(t *testing.T) {
		jobs := &fakeJobs{}
		svc, _, store := newTestService(jobs)
		slot := slotFor(t, svc, "p1", "a.png", "image/png", model.CategoryPhoto, nil)
		store.put(slot.StorageKey, 3)
		rec, err := svc.Confirm(context.Background(), confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, nil, 3))
		require.NoError(t, err)

		jobs.err = errors.New("redis down")
		require.NoError(t, svc.Delete(context.Background(), rec.ID))
		assert.Equal(t, []string{slot.StorageKey}, store.removed)
	})
}

func TestConcurrentConfirmRegistersOnce(t *testing.T) {
	svc, repo, store := newTestService(nil)
	slot := slotFor(t, svc, "p1", "a.png", "image/png", model.CategoryPhoto, nil)
	store.put(slot.StorageKey, 3)

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := svc.Confirm(context.Background(), confirmFor(slot, "p1", "a.png", "image/png", model.CategoryPhoto, nil, 3))
			errs[i] = err
			if err == nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	recs, err := repo.List(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
