package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dharsanguruparan/ChartDrop/internal/model"
)

type call struct {
	op       string
	filename string
	key      string
}

// recorder is shared by the fake registrar and gateway so tests can assert the
// global order of calls.
type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) add(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) forFile(name string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if c.filename == name {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type fakeRegistrar struct {
	rec         *recorder
	mu          sync.Mutex
	seq         int
	failSlot    map[string]error
	failConfirm map[string]error
	urlToFile   map[string]string
	onSlot      func()
}

func newFakeRegistrar(rec *recorder) *fakeRegistrar {
	return &fakeRegistrar{
		rec:         rec,
		failSlot:    map[string]error{},
		failConfirm: map[string]error{},
		urlToFile:   map[string]string{},
	}
}

func (f *fakeRegistrar) RequestTransferSlot(ctx context.Context, req model.SlotRequest) (*model.TransferSlot, error) {
	f.mu.Lock()
	f.seq++
	n := f.seq
	err := f.failSlot[req.Filename]
	f.mu.Unlock()
	if f.onSlot != nil {
		f.onSlot()
	}
	key := fmt.Sprintf("subjects/%s/%s/%d", req.SubjectID, req.Category.Slug(), n)
	f.rec.add(call{op: "slot", filename: req.Filename, key: key})
	if err != nil {
		return nil, err
	}
	url := "https://storage.test/" + key
	f.mu.Lock()
	f.urlToFile[url] = req.Filename
	f.mu.Unlock()
	return &model.TransferSlot{
		UploadURL:  url,
		StorageKey: key,
		TransferID: fmt.Sprintf("tr_%d", n),
		ExpiresAt:  time.Now().Add(time.Minute),
	}, nil
}

func (f *fakeRegistrar) ConfirmTransfer(ctx context.Context, req model.ConfirmRequest) (*model.ClinicalFileRecord, error) {
	f.rec.add(call{op: "confirm", filename: req.Filename, key: req.StorageKey})
	f.mu.Lock()
	err := f.failConfirm[req.Filename]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.ClinicalFileRecord{
		ID:               "cf_" + req.StorageKey,
		SubjectID:        req.SubjectID,
		EncounterRef:     req.EncounterRef,
		OriginalFilename: req.Filename,
		MimeType:         req.ContentType,
		SizeBytes:        req.SizeBytes,
		Category:         req.Category,
		CreatedAt:        time.Now(),
	}, nil
}

func (f *fakeRegistrar) fileFor(url string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.urlToFile[url]
}

type fakeGateway struct {
	rec      *recorder
	reg      *fakeRegistrar
	mu       sync.Mutex
	fail     map[string]error
	bodies   map[string][]byte
	delay    time.Duration
	inFlight int
	peak     int
}

func newFakeGateway(rec *recorder, reg *fakeRegistrar) *fakeGateway {
	return &fakeGateway{rec: rec, reg: reg, fail: map[string]error{}, bodies: map[string][]byte{}}
}

var errStorageRejected = errors.New("storage answered 403 Forbidden")

func (g *fakeGateway) PutObject(ctx context.Context, uploadURL string, body io.Reader, size int64, contentType string) error {
	name := g.reg.fileFor(uploadURL)
	g.rec.add(call{op: "put", filename: name, key: uploadURL[len("https://storage.test/"):]})

	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	err := g.fail[name]
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	data, rerr := io.ReadAll(body)
	if rerr != nil {
		return rerr
	}
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.bodies[uploadURL] = data
	g.mu.Unlock()
	return nil
}
