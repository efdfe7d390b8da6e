package staging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// Payload is a handle to the raw bytes of a staged file. Open must return a new
// reader positioned at the start each time so a failed transfer can be retried.
type Payload interface {
	Name() string
	Size() int64
	ContentType() string
	Open() (io.ReadCloser, error)
}

// FilePayload reads its bytes from a file on disk.
type FilePayload struct {
	path        string
	name        string
	size        int64
	contentType string
}

// NewFilePayload stats the file and sniffs its content type.
func NewFilePayload(path string) (*FilePayload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat payload: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("stat payload: %s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect content type: %w", err)
	}
	return &FilePayload{
		path:        path,
		name:        filepath.Base(path),
		size:        info.Size(),
		contentType: mt.String(),
	}, nil
}

func (p *FilePayload) Name() string        { return p.name }
func (p *FilePayload) Size() int64         { return p.size }
func (p *FilePayload) ContentType() string { return p.contentType }

func (p *FilePayload) Open() (io.ReadCloser, error) {
	return os.Open(p.path)
}

// BytesPayload keeps the file in memory.
type BytesPayload struct {
	name        string
	data        []byte
	contentType string
}

// NewBytesPayload wraps data. An empty contentType is detected from the bytes.
func NewBytesPayload(name string, data []byte, contentType string) *BytesPayload {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return &BytesPayload{name: name, data: data, contentType: contentType}
}

func (p *BytesPayload) Name() string        { return p.name }
func (p *BytesPayload) Size() int64         { return int64(len(p.data)) }
func (p *BytesPayload) ContentType() string { return p.contentType }

func (p *BytesPayload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.data)), nil
}
