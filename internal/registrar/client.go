// Package registrar is the HTTP client for the metadata backend. It implements
// upload.MetadataRegistrar plus the list and delete calls used by the CLI.
package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/model"
)

var (
	ErrInvalidSubject  = errors.New("invalid subject")
	ErrInvalidCategory = model.ErrInvalidCategory
	ErrInvalidRequest  = errors.New("invalid request")
	ErrObjectMissing   = errors.New("object missing from storage")
	ErrSlotNotFound    = errors.New("transfer slot not found")
	ErrSlotMismatch    = errors.New("transfer slot does not match request")
	ErrSizeMismatch    = errors.New("stored size does not match request")
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("registrar unavailable")
)

var codeErrors = map[string]error{
	model.CodeInvalidSubject:  ErrInvalidSubject,
	model.CodeInvalidCategory: ErrInvalidCategory,
	model.CodeInvalidRequest:  ErrInvalidRequest,
	model.CodeObjectMissing:   ErrObjectMissing,
	model.CodeSlotNotFound:    ErrSlotNotFound,
	model.CodeSlotMismatch:    ErrSlotMismatch,
	model.CodeSizeMismatch:    ErrSizeMismatch,
	model.CodeNotFound:        ErrNotFound,
}

// Client talks to the /v1 API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// New returns a Client for baseURL (scheme and host, optional path prefix).
func New(baseURL string, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     log.With().Str("component", "registrar-client").Logger(),
	}
}

// RequestTransferSlot asks for a pre-signed upload URL and storage key.
func (c *Client) RequestTransferSlot(ctx context.Context, req model.SlotRequest) (*model.TransferSlot, error) {
	var slot model.TransferSlot
	path := "/v1/subjects/" + url.PathEscape(req.SubjectID) + "/files/slots"
	if err := c.do(ctx, http.MethodPost, path, req, &slot); err != nil {
		return nil, fmt.Errorf("request transfer slot: %w", err)
	}
	return &slot, nil
}

// ConfirmTransfer registers an object that was already stored.
func (c *Client) ConfirmTransfer(ctx context.Context, req model.ConfirmRequest) (*model.ClinicalFileRecord, error) {
	var rec model.ClinicalFileRecord
	path := "/v1/subjects/" + url.PathEscape(req.SubjectID) + "/files"
	if err := c.do(ctx, http.MethodPost, path, req, &rec); err != nil {
		return nil, fmt.Errorf("confirm transfer: %w", err)
	}
	return &rec, nil
}

// ListFiles returns the records of a subject, optionally narrowed to one encounter.
func (c *Client) ListFiles(ctx context.Context, subjectID string, encounterRef *string) ([]model.ClinicalFileRecord, error) {
	path := "/v1/subjects/" + url.PathEscape(subjectID) + "/files"
	if encounterRef != nil && *encounterRef != "" {
		path += "?" + url.Values{"encounter": {*encounterRef}}.Encode()
	}
	var list model.FileList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return list.Files, nil
}

// DeleteFile removes a record. The backend schedules object removal.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/files/"+url.PathEscape(fileID), nil, nil); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// mapError turns an error body into a sentinel, keeping the server message.
func mapError(resp *http.Response) error {
	var er model.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &er); err != nil || er.Error == "" {
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
		}
		return fmt.Errorf("unexpected response %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if sentinel, ok := codeErrors[er.Error]; ok {
		if er.Message == "" {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, er.Message)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrUnavailable, er.Message)
	}
	return fmt.Errorf("%s: %s", er.Error, er.Message)
}
