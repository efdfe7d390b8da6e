package storage

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dharsanguruparan/ChartDrop/internal/model"
)

// Handler serves signed PUT and GET requests for ObjectsPath{key}. maxBytes
// bounds a single PUT; zero means no limit.
func (s *LocalStore) Handler(maxBytes int64) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT "+ObjectsPath+"{key...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if !s.authorized(w, r, key) {
			return
		}
		body := io.Reader(r.Body)
		if maxBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		if _, err := s.Put(r.Context(), key, body); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				http.Error(w, "object too large", http.StatusRequestEntityTooLarge)
				return
			}
			if errors.Is(err, ErrObjectExists) {
				http.Error(w, "object already stored", http.StatusConflict)
				return
			}
			s.log.Error().Err(err).Str("key", key).Msg("store object failed")
			http.Error(w, "failed to store object", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET "+ObjectsPath+"{key...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if !s.authorized(w, r, key) {
			return
		}
		info, err := s.Stat(r.Context(), key)
		if errors.Is(err, model.ErrObjectNotFound) {
			http.Error(w, "object not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "object unavailable", http.StatusInternalServerError)
			return
		}
		p, _ := s.path(key)
		f, err := os.Open(p)
		if err != nil {
			http.Error(w, "object unavailable", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		if info.ContentType != "" {
			w.Header().Set("Content-Type", info.ContentType)
		}
		if r.URL.Query().Get("download") == "1" {
			disposition := "attachment"
			if name := r.URL.Query().Get("filename"); name != "" {
				disposition = mime.FormatMediaType("attachment", map[string]string{"filename": name})
			}
			w.Header().Set("Content-Disposition", disposition)
		}
		http.ServeContent(w, r, "", info.LastModified, f)
	})
	return mux
}

func (s *LocalStore) authorized(w http.ResponseWriter, r *http.Request, key string) bool {
	if err := validateKey(key); err != nil {
		http.Error(w, "invalid key", http.StatusBadRequest)
		return false
	}
	q := r.URL.Query()
	expires, signature := q.Get("expires"), q.Get("signature")
	if expires == "" || signature == "" {
		http.Error(w, "missing signature", http.StatusForbidden)
		return false
	}
	if exp, err := strconv.ParseInt(expires, 10, 64); err == nil && time.Unix(exp, 0).Before(time.Now()) {
		http.Error(w, "url expired", http.StatusForbidden)
		return false
	}
	if !s.signer.Validate(r.Method, key, expires, signature) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return false
	}
	return true
}
