package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// RemoveObjectTask deletes a stored object after its record was deleted.
	RemoveObjectTask = "object:remove"
	// InspectFileTask fills in derived metadata (page count) after confirmation.
	InspectFileTask = "file:inspect"
)

// RemovePayload names the object to delete.
type RemovePayload struct {
	StorageKey string `json:"storage_key"`
	FileID     string `json:"file_id,omitempty"`
}

// InspectPayload names a freshly registered record.
type InspectPayload struct {
	FileID     string `json:"file_id"`
	StorageKey string `json:"storage_key"`
	MimeType   string `json:"mime_type"`
}

// NewRemoveTask builds an object removal task.
func NewRemoveTask(payload RemovePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(RemoveObjectTask, data, asynq.MaxRetry(10), asynq.Timeout(time.Minute)), nil
}

// NewInspectTask builds an inspection task.
func NewInspectTask(payload InspectPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(InspectFileTask, data, asynq.MaxRetry(5), asynq.Timeout(2*time.Minute)), nil
}

// Enqueuer is the part of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client schedules background jobs for the records service.
type Client struct {
	enq Enqueuer
}

// NewClient wraps an asynq client.
func NewClient(enq Enqueuer) *Client {
	return &Client{enq: enq}
}

// EnqueueRemoveObject schedules deletion of a stored object.
func (c *Client) EnqueueRemoveObject(ctx context.Context, storageKey, fileID string) error {
	task, err := NewRemoveTask(RemovePayload{StorageKey: storageKey, FileID: fileID})
	if err != nil {
		return err
	}
	if _, err := c.enq.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue remove task: %w", err)
	}
	return nil
}

// EnqueueInspect schedules page counting for a registered file.
func (c *Client) EnqueueInspect(ctx context.Context, fileID, storageKey, mimeType string) error {
	task, err := NewInspectTask(InspectPayload{FileID: fileID, StorageKey: storageKey, MimeType: mimeType})
	if err != nil {
		return err
	}
	if _, err := c.enq.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue inspect task: %w", err)
	}
	return nil
}
