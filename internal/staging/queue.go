// Package staging holds files a user has picked but not yet sent. Nothing in
// this package touches the network.
package staging

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ChartDrop/internal/model"
)

// MaxPending is the number of files that may wait in a queue at once.
const MaxPending = 10

var (
	ErrQuotaExceeded   = errors.New("staging quota exceeded")
	ErrInvalidCategory = model.ErrInvalidCategory
	ErrInvalidPayload  = errors.New("invalid payload")
)

// FileDescriptor describes one staged file. It is a value; copies are
// independent of the queue.
type FileDescriptor struct {
	TempID   string
	Payload  Payload
	Category model.Category
}

// Queue is the ordered set of staged files for one session.
type Queue struct {
	mu    sync.RWMutex
	items []FileDescriptor
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{items: make([]FileDescriptor, 0, MaxPending)}
}

// Add validates the category, enforces the quota and appends the file. The queue
// is left untouched on error.
func (q *Queue) Add(payload Payload, category string) (string, error) {
	cat, err := model.ParseCategory(category)
	if err != nil {
		return "", err
	}
	if payload == nil {
		return "", ErrInvalidPayload
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= MaxPending {
		return "", ErrQuotaExceeded
	}
	id := uuid.NewString()
	q.items = append(q.items, FileDescriptor{TempID: id, Payload: payload, Category: cat})
	return id, nil
}

// Remove drops the file with tempID. Unknown ids are ignored.
func (q *Queue) Remove(tempID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.TempID == tempID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}

// Get returns the staged file with tempID.
func (q *Queue) Get(tempID string) (FileDescriptor, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, item := range q.items {
		if item.TempID == tempID {
			return item, true
		}
	}
	return FileDescriptor{}, false
}

// Snapshot returns a copy of the queue in insertion order.
func (q *Queue) Snapshot() []FileDescriptor {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]FileDescriptor, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func (q *Queue) CanAddMore() bool {
	return q.Size() < MaxPending
}
