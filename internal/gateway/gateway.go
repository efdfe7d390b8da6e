// Package gateway performs the raw PUT of a file to a pre-signed storage URL.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// maxErrorBody caps how much of a failed response body is kept for diagnostics.
const maxErrorBody = 4 << 10

// StatusError is returned when storage answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("storage rejected upload: %s", e.Status)
	}
	return fmt.Sprintf("storage rejected upload: %s; body: %s", e.Status, e.Body)
}

// Gateway implements upload.StorageGateway over HTTP.
type Gateway struct {
	client *http.Client
	log    zerolog.Logger
}

// New builds a Gateway. A nil client gets a default one without an overall
// timeout; per-call deadlines come from the context.
func New(client *http.Client, log zerolog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport}
	}
	return &Gateway{
		client: client,
		log:    log.With().Str("component", "storage-gateway").Logger(),
	}
}

// PutObject sends body in one request. Only a 2xx status counts as stored.
func (g *Gateway) PutObject(ctx context.Context, uploadURL string, body io.Reader, size int64, contentType string) error {
	// net/http sends a non-nil body with ContentLength 0 as chunked.
	if size == 0 {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("build put request: %w", err)
	}
	req.ContentLength = size
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	g.log.Debug().Int64("bytes", size).Dur("elapsed", time.Since(start)).Msg("object stored")
	return nil
}
