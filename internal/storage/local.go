// Package storage is a filesystem object store that hands out signed PUT and
// GET URLs, served by its own HTTP handler. It stands in for S3 in development.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/metrics"
	"github.com/dharsanguruparan/ChartDrop/internal/model"
	"github.com/dharsanguruparan/ChartDrop/internal/signing"
)

var (
	ErrInvalidKey   = errors.New("invalid object key")
	ErrObjectExists = errors.New("object already stored")
)

// ObjectsPath is where Handler expects to be mounted.
const ObjectsPath = "/objects/"

// LocalStore keeps objects under root, one file per key.
type LocalStore struct {
	root    string
	baseURL string
	signer  *signing.Signer
	log     zerolog.Logger
}

// NewLocalStore creates root if needed. baseURL is the externally reachable
// address of the server that mounts Handler.
func NewLocalStore(root, baseURL string, signer *signing.Signer, log zerolog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	s := &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		log:     log.With().Str("component", "local-storage").Logger(),
	}
	s.log.Info().Str("path", root).Str("base_url", s.baseURL).Msg("local storage initialized")
	return s, nil
}

// PresignPut returns a URL accepting one PUT of key until ttl elapses.
func (s *LocalStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return s.presign("PUT", key, ttl)
}

// PresignGet returns a URL serving key until ttl elapses.
func (s *LocalStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return s.presign("GET", key, ttl)
}

// PresignDownload is PresignGet asking the handler for an attachment response.
func (s *LocalStore) PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	u, err := s.presign("GET", key, ttl)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("download", "1")
	if filename != "" {
		q.Set("filename", filename)
	}
	return u + "&" + q.Encode(), nil
}

func (s *LocalStore) presign(method, key string, ttl time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	exp := time.Now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(exp, 10))
	q.Set("signature", s.signer.Sign(method, key, exp))
	return s.baseURL + ObjectsPath + escapeKey(key) + "?" + q.Encode(), nil
}

// Stat reports the size of key, or model.ErrObjectNotFound.
func (s *LocalStore) Stat(ctx context.Context, key string) (model.ObjectInfo, error) {
	start := time.Now()
	p, err := s.path(key)
	if err != nil {
		return model.ObjectInfo{}, err
	}
	fi, err := os.Stat(p)
	metrics.RecordStorageOperation("stat", statusOf(err), time.Since(start).Seconds())
	if errors.Is(err, fs.ErrNotExist) {
		return model.ObjectInfo{}, fmt.Errorf("%w: %s", model.ErrObjectNotFound, key)
	}
	if err != nil {
		return model.ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	info := model.ObjectInfo{Key: key, Size: fi.Size(), LastModified: fi.ModTime()}
	if mt, err := mimetype.DetectFile(p); err == nil {
		info.ContentType = mt.String()
	}
	return info, nil
}

// Open streams the object.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", model.ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Put writes r to key through a temp file so readers never see a partial object.
// A key is written at most once; later puts fail with ErrObjectExists.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	start := time.Now()
	n, err := s.put(key, r)
	metrics.RecordStorageOperation("put", metrics.Status(err), time.Since(start).Seconds())
	if err == nil {
		s.log.Debug().Str("key", key).Int64("bytes", n).Msg("object stored")
	}
	return n, err
}

func (s *LocalStore) put(key string, r io.Reader) (int64, error) {
	p, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return 0, fmt.Errorf("create object dir: %w", err)
	}
	if _, err := os.Lstat(p); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrObjectExists, key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp object: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write object: %w", err)
	}
	// Link fails if another put committed the key in the meantime.
	err = os.Link(tmp.Name(), p)
	os.Remove(tmp.Name())
	if errors.Is(err, fs.ErrExist) {
		return 0, fmt.Errorf("%w: %s", ErrObjectExists, key)
	}
	if err != nil {
		return 0, fmt.Errorf("commit object: %w", err)
	}
	return n, nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *LocalStore) Remove(ctx context.Context, key string) error {
	start := time.Now()
	p, err := s.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	metrics.RecordStorageOperation("remove", metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *LocalStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func statusOf(err error) string {
	if errors.Is(err, fs.ErrNotExist) {
		return "not_found"
	}
	return metrics.Status(err)
}
