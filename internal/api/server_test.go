package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ChartDrop/internal/gateway"
	"github.com/dharsanguruparan/ChartDrop/internal/model"
	"github.com/dharsanguruparan/ChartDrop/internal/records"
	"github.com/dharsanguruparan/ChartDrop/internal/registrar"
	"github.com/dharsanguruparan/ChartDrop/internal/repository"
	"github.com/dharsanguruparan/ChartDrop/internal/signing"
	"github.com/dharsanguruparan/ChartDrop/internal/staging"
	"github.com/dharsanguruparan/ChartDrop/internal/storage"
	"github.com/dharsanguruparan/ChartDrop/internal/upload"
)

type backend struct {
	srv   *httptest.Server
	repo  *repository.MemoryRepository
	store *storage.LocalStore
}

// newBackend runs the API with a memory repository and a local object store
// mounted on the same test server.
func newBackend(t *testing.T) *backend {
	t.Helper()
	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	store, err := storage.NewLocalStore(t.TempDir(), srv.URL, signing.NewSigner([]byte("test-secret")), zerolog.Nop())
	require.NoError(t, err)
	repo := repository.NewMemoryRepository()
	svc := records.NewService(repo, store, nil, records.Options{MaxFileSize: 1 << 20}, zerolog.Nop())
	handler = New(":0", svc, zerolog.Nop(), WithObjects(store.Handler(1<<20))).Handler()
	return &backend{srv: srv, repo: repo, store: store}
}

func (b *backend) client() *registrar.Client {
	return registrar.New(b.srv.URL, b.srv.Client(), zerolog.Nop())
}

func TestHealthAndMetrics(t *testing.T) {
	b := newBackend(t)

	resp, err := http.Get(b.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	mresp, err := http.Get(b.srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
}

func TestSlotTransferConfirmRoundTrip(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	reg := b.client()
	gw := gateway.New(b.srv.Client(), zerolog.Nop())
	enc := "enc-42"
	data := []byte("radiograph bytes")

	slot, err := reg.RequestTransferSlot(ctx, model.SlotRequest{
		SubjectID:    "patient-1",
		Filename:     "chest.png",
		ContentType:  "image/png",
		Category:     model.CategoryXRay,
		EncounterRef: &enc,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(slot.StorageKey, "subjects/patient-1/x-ray/"))

	require.NoError(t, gw.PutObject(ctx, slot.UploadURL, bytes.NewReader(data), int64(len(data)), "image/png"))

	rec, err := reg.ConfirmTransfer(ctx, model.ConfirmRequest{
		SubjectID:    "patient-1",
		StorageKey:   slot.StorageKey,
		TransferID:   slot.TransferID,
		Filename:     "chest.png",
		ContentType:  "image/png",
		SizeBytes:    int64(len(data)),
		Category:     model.CategoryXRay,
		EncounterRef: &enc,
	})
	require.NoError(t, err)
	assert.Equal(t, "patient-1", rec.SubjectID)
	assert.Equal(t, int64(len(data)), rec.SizeBytes)

	view, err := http.Get(rec.ViewURL)
	require.NoError(t, err)
	defer view.Body.Close()
	assert.Equal(t, http.StatusOK, view.StatusCode)

	files, err := reg.ListFiles(ctx, "patient-1", &enc)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, rec.ID, files[0].ID)

	other := "enc-other"
	files, err = reg.ListFiles(ctx, "patient-1", &other)
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, reg.DeleteFile(ctx, rec.ID))
	_, err = b.store.Stat(ctx, slot.StorageKey)
	assert.ErrorIs(t, err, model.ErrObjectNotFound)
	assert.ErrorIs(t, reg.DeleteFile(ctx, rec.ID), registrar.ErrNotFound)
}

func TestConfirmWithoutObject(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	reg := b.client()

	slot, err := reg.RequestTransferSlot(ctx, model.SlotRequest{
		SubjectID: "patient-1", Filename: "a.pdf", ContentType: "application/pdf", Category: model.CategoryLab,
	})
	require.NoError(t, err)

	_, err = reg.ConfirmTransfer(ctx, model.ConfirmRequest{
		SubjectID: "patient-1", StorageKey: slot.StorageKey, TransferID: slot.TransferID,
		Filename: "a.pdf", ContentType: "application/pdf", SizeBytes: 5, Category: model.CategoryLab,
	})
	assert.ErrorIs(t, err, registrar.ErrObjectMissing)
}

func TestErrorCodes(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	reg := b.client()

	_, err := reg.RequestTransferSlot(ctx, model.SlotRequest{SubjectID: "bad subject!", Filename: "a", Category: model.CategoryLab})
	assert.ErrorIs(t, err, registrar.ErrInvalidSubject)

	_, err = reg.RequestTransferSlot(ctx, model.SlotRequest{SubjectID: "p1", Filename: "a", Category: "MRI"})
	assert.ErrorIs(t, err, registrar.ErrInvalidCategory)

	_, err = reg.ConfirmTransfer(ctx, model.ConfirmRequest{SubjectID: "p1", StorageKey: "subjects/p1/lab/x", Filename: "a", Category: model.CategoryLab})
	assert.ErrorIs(t, err, registrar.ErrSlotNotFound)

	resp, err := http.Post(b.srv.URL+"/v1/subjects/p1/files", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body model.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, model.CodeInvalidRequest, body.Error)
}

func TestBatchSessionAgainstBackend(t *testing.T) {
	b := newBackend(t)
	reg := b.client()
	gw := gateway.New(b.srv.Client(), zerolog.Nop())
	coord := upload.NewCoordinator(reg, gw, zerolog.Nop(), upload.WithPhaseTimeouts(5*time.Second, 5*time.Second, 5*time.Second))

	q := staging.NewQueue()
	_, err := q.Add(staging.NewBytesPayload("lab.pdf", []byte("%PDF-1.4 tiny"), "application/pdf"), "lab")
	require.NoError(t, err)
	_, err = q.Add(staging.NewBytesPayload("photo.jpg", []byte("jpeg"), "image/jpeg"), "PHOTO")
	require.NoError(t, err)

	report, err := upload.NewSession(q, coord, upload.WithConcurrency(2)).Commit(context.Background(), "patient-9", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, q.Size())

	files, err := reg.ListFiles(context.Background(), "patient-9", nil)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
